// Package images lists, searches and deletes gallery images from either the
// backend API or the legacy mock host.
package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/mockhost"
	"github.com/NicolasHaas/pixgallery/pkg/model"
	"github.com/NicolasHaas/pixgallery/pkg/shape"
)

// ImagesEndpoint is the backend collection, relative to the API base URL.
const ImagesEndpoint = "/images"

const (
	DefaultPage  = 1
	DefaultLimit = 20
)

// Lookup order for backend list responses.
var (
	// ListPaths locate the image array. Nothing matching means an empty list.
	ListPaths       = []string{shape.Root, "data", "data.images", "data.data", "images", "results"}
	PaginationPaths = []string{"pagination", "data.pagination"}
	// NameFields are tried in order for the display name.
	NameFields = []string{"originalname", "originalName", "filename", "name"}
	IDFields   = []string{"_id", "id"}
	LinkFields = []string{"url", "path", "img"}
)

// Mode selects the listing source. It is fixed when the lister is built.
type Mode int

const (
	ModeBackend Mode = iota
	ModeMockHost
)

func (m Mode) String() string {
	if m == ModeMockHost {
		return "mockhost"
	}
	return "backend"
}

// ParseMode maps "mockhost" to ModeMockHost and anything else to ModeBackend.
func ParseMode(s string) Mode {
	if s == "mockhost" {
		return ModeMockHost
	}
	return ModeBackend
}

// Result is one page of images. Images is never nil.
type Result struct {
	Images     []model.Image
	Pagination *model.Pagination
}

// Lister is implemented by both listing modes.
type Lister interface {
	Mode() Mode
	List(ctx context.Context, page, limit int) (Result, error)
	Delete(ctx context.Context, id string) error
}

// Doer performs a backend call.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// BackendLister reads GET /images?page=&limit= from the backend API.
type BackendLister struct {
	api        Doer
	staticBase string
}

// NewBackendLister creates a lister that resolves relative image paths
// against staticBase.
func NewBackendLister(api Doer, staticBase string) *BackendLister {
	return &BackendLister{api: api, staticBase: staticBase}
}

func (l *BackendLister) Mode() Mode { return ModeBackend }

// List fetches one page. Unrecognized response shapes yield an empty page,
// not an error. On failure the returned Result still holds an empty slice.
func (l *BackendLister) List(ctx context.Context, page, limit int) (Result, error) {
	page, limit = normalizePage(page, limit)
	resp, err := l.api.Do(ctx, apiclient.Request{
		Method:   http.MethodGet,
		Endpoint: ImagesEndpoint,
		Query:    url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}},
	})
	if err != nil {
		return Result{Images: []model.Image{}}, fmt.Errorf("images: list: %w", err)
	}
	return DecodeList(resp.JSON, l.staticBase), nil
}

// Delete removes an image through DELETE /images/{id}.
func (l *BackendLister) Delete(ctx context.Context, id string) error {
	_, err := l.api.Do(ctx, apiclient.Request{Method: http.MethodDelete, Endpoint: ImagesEndpoint + "/" + url.PathEscape(id)})
	if err != nil {
		return fmt.Errorf("images: delete %s: %w", id, err)
	}
	return nil
}

// DecodeList applies ListPaths and PaginationPaths to a list response.
func DecodeList(doc gjson.Result, staticBase string) Result {
	res := Result{Images: []model.Image{}}
	list, ok := shape.FirstArray(doc, ListPaths...)
	if ok {
		list.ForEach(func(_, item gjson.Result) bool {
			if item.IsObject() {
				res.Images = append(res.Images, DecodeImage(item, staticBase))
			}
			return true
		})
	}
	if p, ok := shape.FirstObject(doc, PaginationPaths...); ok {
		res.Pagination = decodePagination(p)
	}
	return res
}

// DecodeImage normalizes one backend record. An inline base64 payload wins
// over any link.
func DecodeImage(item gjson.Result, staticBase string) model.Image {
	img := model.Image{
		ID:          shape.FirstString(item, IDFields...),
		DisplayName: shape.FirstString(item, NameFields...),
		Hash:        shape.FirstString(item, "hash"),
		MIME:        shape.FirstString(item, "mimetype", "mimeType"),
		Size:        item.Get("size").Int(),
		CreatedAt:   parseTime(shape.FirstString(item, "createdAt", "created_at")),
		UpdatedAt:   parseTime(shape.FirstString(item, "updatedAt", "updated_at")),
	}

	if encoded := shape.FirstString(item, "base64"); encoded != "" {
		img.Source = decodeInline(encoded, img.MIME)
	}
	if img.Source.Kind() == model.SourceNone {
		img.Source = model.Linked(shape.FirstString(item, LinkFields...)).Resolve(staticBase)
	}

	if up := item.Get("uploadedBy"); up.IsObject() {
		img.Uploader = &model.Uploader{
			ID:       shape.FirstString(up, "_id", "id"),
			Username: shape.FirstString(up, "username"),
			Email:    shape.FirstString(up, "email"),
		}
	}
	return img
}

func decodeInline(encoded, mime string) model.Source {
	if data, m, err := model.ParseDataURL(encoded); err == nil {
		return model.Inline(data, m)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return model.Source{}
	}
	return model.Inline(data, mime)
}

func decodePagination(p gjson.Result) *model.Pagination {
	pg := &model.Pagination{
		Page:       shape.Int(p, "page", "currentPage"),
		Limit:      shape.Int(p, "limit", "perPage"),
		Total:      shape.Int(p, "total", "totalItems"),
		TotalPages: shape.Int(p, "totalPages", "pages"),
	}
	if pg.TotalPages == 0 {
		pg.TotalPages = model.PageCount(pg.Total, pg.Limit)
	}
	return pg
}

// MockHostStore is the part of the mock host client the lister needs.
type MockHostStore interface {
	List(ctx context.Context) ([]mockhost.Record, error)
	Get(ctx context.Context, id string) (mockhost.Record, error)
	Delete(ctx context.Context, id string) error
}

// MockHostLister reads the whole mock host collection as a single page.
type MockHostLister struct {
	store MockHostStore
}

// NewMockHostLister creates a lister over store.
func NewMockHostLister(store MockHostStore) *MockHostLister {
	return &MockHostLister{store: store}
}

func (l *MockHostLister) Mode() Mode { return ModeMockHost }

// List ignores page and limit; the mock host does not paginate.
func (l *MockHostLister) List(ctx context.Context, _, _ int) (Result, error) {
	records, err := l.store.List(ctx)
	if err != nil {
		return Result{Images: []model.Image{}}, fmt.Errorf("images: list: %w", err)
	}
	imgs := make([]model.Image, 0, len(records))
	for _, rec := range records {
		imgs = append(imgs, rec.Image())
	}
	return Result{Images: imgs, Pagination: model.SinglePage(len(imgs))}, nil
}

// Get fetches a single image by id.
func (l *MockHostLister) Get(ctx context.Context, id string) (model.Image, error) {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return model.Image{}, fmt.Errorf("images: get %s: %w", id, err)
	}
	return rec.Image(), nil
}

func (l *MockHostLister) Delete(ctx context.Context, id string) error {
	if err := l.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("images: delete %s: %w", id, err)
	}
	return nil
}

// Filter keeps images whose display name contains query, ignoring case.
func Filter(imgs []model.Image, query string) []model.Image {
	out := make([]model.Image, 0, len(imgs))
	for _, img := range imgs {
		if img.Matches(query) {
			out = append(out, img)
		}
	}
	return out
}

// Search lists the given page and filters it by name.
func Search(ctx context.Context, l Lister, query string, page, limit int) (Result, error) {
	res, err := l.List(ctx, page, limit)
	res.Images = Filter(res.Images, query)
	return res, err
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	return page, limit
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
