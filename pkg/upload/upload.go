// Package upload validates image files and stores them through the CDN and
// mock host, or through the backend API.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/images"
	"github.com/NicolasHaas/pixgallery/pkg/mockhost"
	"github.com/NicolasHaas/pixgallery/pkg/model"
	"github.com/NicolasHaas/pixgallery/pkg/shape"
)

const (
	ImagesEndpoint = "/images"
	BulkEndpoint   = "/images/bulk"

	// FileField and BulkField are the multipart field names the backend reads.
	FileField = "image"
	BulkField = "images"

	timeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// RecordPaths locate the stored record in an upload response.
var RecordPaths = []string{"data.image", "data", "image", shape.Root}

var ErrDuplicate = errors.New("upload: image already exists")

// Mode selects where uploads go.
type Mode int

const (
	ModeCDN     Mode = iota // CDN upload plus a mock host record
	ModeBackend             // multipart POST to the backend
	ModeInline              // JSON POST with the file embedded as a data URL
)

func (m Mode) String() string {
	switch m {
	case ModeBackend:
		return "backend"
	case ModeInline:
		return "inline"
	default:
		return "cdn"
	}
}

// ParseMode accepts cdn, backend and inline.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cdn", "":
		return ModeCDN, nil
	case "backend":
		return ModeBackend, nil
	case "inline":
		return ModeInline, nil
	}
	return ModeCDN, fmt.Errorf("upload: unknown mode %q (valid: cdn, backend, inline)", s)
}

// CDN hosts file bytes and returns their public URL.
type CDN interface {
	Upload(ctx context.Context, dataURL string) (string, error)
}

// MetadataStore persists image records in CDN mode.
type MetadataStore interface {
	List(ctx context.Context) ([]mockhost.Record, error)
	Create(ctx context.Context, rec mockhost.Record) (mockhost.Record, error)
}

// Doer performs a backend call.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Dependencies are the collaborators a mode needs. CDN mode needs CDN and
// Store; the backend modes need API.
type Dependencies struct {
	API   Doer
	CDN   CDN
	Store MetadataStore
}

// Options tune a Service.
type Options struct {
	Mode Mode
	// CheckDuplicates rejects CDN uploads whose hash or name is already
	// stored. The check is best effort: a failed listing skips it.
	CheckDuplicates bool
	// LegacyNames stores names without their extension in CDN mode.
	LegacyNames bool
	// StaticBaseURL resolves relative paths in backend responses.
	StaticBaseURL string
	Now           func() time.Time
}

// Service uploads files in one fixed mode.
type Service struct {
	deps Dependencies
	opts Options
}

// New validates that deps cover opts.Mode.
func New(deps Dependencies, opts Options) (*Service, error) {
	switch opts.Mode {
	case ModeCDN:
		if deps.CDN == nil || deps.Store == nil {
			return nil, errors.New("upload: cdn mode needs a CDN and a metadata store")
		}
	case ModeBackend, ModeInline:
		if deps.API == nil {
			return nil, fmt.Errorf("upload: %s mode needs an API client", opts.Mode)
		}
	default:
		return nil, fmt.Errorf("upload: unknown mode %d", opts.Mode)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{deps: deps, opts: opts}, nil
}

func (s *Service) Mode() Mode { return s.opts.Mode }

// Upload validates f and stores it. Validation failures never reach the
// network.
func (s *Service) Upload(ctx context.Context, f File, by model.Uploader) (model.Image, error) {
	if err := Validate(f); err != nil {
		return model.Image{}, err
	}
	switch s.opts.Mode {
	case ModeBackend:
		return s.uploadMultipart(ctx, f, by)
	case ModeInline:
		return s.uploadInline(ctx, f, by)
	default:
		return s.uploadCDN(ctx, f, by)
	}
}

func (s *Service) uploadCDN(ctx context.Context, f File, by model.Uploader) (model.Image, error) {
	hash := Hash(f.Data)
	name := f.displayName()
	if s.opts.LegacyNames && f.DisplayName == "" {
		name = LegacyDisplayName(f.Name, s.opts.Now())
	}

	if s.opts.CheckDuplicates {
		if err := s.checkDuplicate(ctx, hash, name); err != nil {
			return model.Image{}, err
		}
	}

	hosted, err := s.deps.CDN.Upload(ctx, model.DataURL(f.Data, f.mimeType()))
	if err != nil {
		return model.Image{}, fmt.Errorf("upload: %s: %w", f.Name, err)
	}

	now := s.opts.Now().UTC().Format(timeLayout)
	rec := mockhost.Record{
		Name:       name,
		Img:        hosted,
		Hash:       hash,
		UploadedBy: uploaderRef(by),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	stored, err := s.deps.Store.Create(ctx, rec)
	if err != nil {
		slog.Error("metadata persist failed after CDN upload; asset left orphaned",
			"file", f.Name, "url", hosted, "err", err)
		return model.Image{}, fmt.Errorf("upload: %s: %w", f.Name, err)
	}

	img := stored.Image()
	img.MIME = f.mimeType()
	img.Size = f.Size()
	return img, nil
}

func (s *Service) checkDuplicate(ctx context.Context, hash, name string) error {
	existing, err := s.deps.Store.List(ctx)
	if err != nil {
		slog.Warn("duplicate check skipped", "err", err)
		return nil
	}
	key := strings.ToLower(strings.TrimSpace(name))
	for _, rec := range existing {
		if rec.Hash != "" && rec.Hash == hash {
			return fmt.Errorf("%w: same content as %q", ErrDuplicate, rec.Name)
		}
	}
	for _, rec := range existing {
		if key != "" && strings.ToLower(strings.TrimSpace(rec.Name)) == key {
			return fmt.Errorf("%w: name %q is taken", ErrDuplicate, rec.Name)
		}
	}
	return nil
}

func (s *Service) uploadMultipart(ctx context.Context, f File, by model.Uploader) (model.Image, error) {
	fields := append([]apiclient.MultipartField{
		{Name: FileField, FileName: f.Name, MIME: f.mimeType(), Data: f.Data},
	}, uploaderFields(by)...)
	if f.DisplayName != "" {
		fields = append(fields, apiclient.MultipartField{Name: "originalname", Value: f.DisplayName})
	}
	body, contentType, err := apiclient.Multipart(fields...)
	if err != nil {
		return model.Image{}, fmt.Errorf("upload: %s: %w", f.Name, err)
	}
	resp, err := s.deps.API.Do(ctx, apiclient.Request{
		Method:      http.MethodPost,
		Endpoint:    ImagesEndpoint,
		Body:        body,
		ContentType: contentType,
	})
	if err != nil {
		return model.Image{}, fmt.Errorf("upload: %s: %w", f.Name, err)
	}
	return s.decodeRecord(resp.JSON, f), nil
}

// inlinePayload is the JSON body of an inline upload.
type inlinePayload struct {
	Filename     string          `json:"filename"`
	OriginalName string          `json:"originalname"`
	MIMEType     string          `json:"mimetype"`
	Size         int64           `json:"size"`
	Base64       string          `json:"base64"`
	Hash         string          `json:"hash"`
	UploadedBy   *model.Uploader `json:"uploadedBy,omitempty"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

func (s *Service) uploadInline(ctx context.Context, f File, by model.Uploader) (model.Image, error) {
	now := s.opts.Now().UTC().Format(timeLayout)
	payload := inlinePayload{
		Filename:     f.Name,
		OriginalName: f.displayName(),
		MIMEType:     f.mimeType(),
		Size:         f.Size(),
		Base64:       model.DataURL(f.Data, f.mimeType()),
		Hash:         Hash(f.Data),
		UploadedBy:   uploaderRef(by),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	resp, err := s.deps.API.Do(ctx, apiclient.Request{Method: http.MethodPost, Endpoint: ImagesEndpoint, JSON: payload})
	if err != nil {
		return model.Image{}, fmt.Errorf("upload: %s: %w", f.Name, err)
	}
	return s.decodeRecord(resp.JSON, f), nil
}

// decodeRecord reads the stored record, filling gaps from the local file.
func (s *Service) decodeRecord(doc gjson.Result, f File) model.Image {
	var img model.Image
	if rec, ok := shape.FirstObject(doc, RecordPaths...); ok {
		img = images.DecodeImage(rec, s.opts.StaticBaseURL)
	}
	if img.DisplayName == "" {
		img.DisplayName = f.displayName()
	}
	if img.MIME == "" {
		img.MIME = f.mimeType()
	}
	if img.Size == 0 {
		img.Size = f.Size()
	}
	if img.Hash == "" {
		img.Hash = Hash(f.Data)
	}
	return img
}

// UploadBulk sends every file in one multipart request to the backend's bulk
// endpoint. All files are validated first; one invalid file fails the batch.
func (s *Service) UploadBulk(ctx context.Context, files []File, by model.Uploader) ([]model.Image, error) {
	if s.deps.API == nil || s.opts.Mode == ModeCDN {
		return nil, errors.New("upload: bulk upload needs backend mode")
	}
	fields := make([]apiclient.MultipartField, 0, len(files)+3)
	for _, f := range files {
		if err := Validate(f); err != nil {
			return nil, err
		}
		fields = append(fields, apiclient.MultipartField{Name: BulkField, FileName: f.Name, MIME: f.mimeType(), Data: f.Data})
	}
	fields = append(fields, uploaderFields(by)...)

	body, contentType, err := apiclient.Multipart(fields...)
	if err != nil {
		return nil, fmt.Errorf("upload: bulk: %w", err)
	}
	resp, err := s.deps.API.Do(ctx, apiclient.Request{
		Method:      http.MethodPost,
		Endpoint:    BulkEndpoint,
		Body:        body,
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: bulk: %w", err)
	}
	return images.DecodeList(resp.JSON, s.opts.StaticBaseURL).Images, nil
}

// Outcome is the result of one file in UploadMany.
type Outcome struct {
	File  string
	Image model.Image
	Err   error
}

// Summary aggregates UploadMany. Results keep the input order.
type Summary struct {
	Succeeded int
	Failed    int
	Results   []Outcome
}

// Errors returns the failures only.
func (s Summary) Errors() []error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}

// UploadMany uploads every file concurrently and waits for all of them.
// Failures are counted, never rolled back.
func (s *Service) UploadMany(ctx context.Context, files []File, by model.Uploader) Summary {
	results := make([]Outcome, len(files))
	var g errgroup.Group
	for i, f := range files {
		i, f := i, f // per-iteration copy (go < 1.22 loop semantics)
		g.Go(func() error {
			img, err := s.Upload(ctx, f, by)
			results[i] = Outcome{File: f.Name, Image: img, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Results: results}
	for _, r := range results {
		if r.Err != nil {
			sum.Failed++
		} else {
			sum.Succeeded++
		}
	}
	slog.Info("batch upload finished", "succeeded", sum.Succeeded, "failed", sum.Failed)
	return sum
}

func uploaderRef(by model.Uploader) *model.Uploader {
	if by == (model.Uploader{}) {
		return nil
	}
	return &by
}

func uploaderFields(by model.Uploader) []apiclient.MultipartField {
	if by == (model.Uploader{}) {
		return nil
	}
	raw, _ := json.Marshal(by)
	return []apiclient.MultipartField{{Name: "uploadedBy", Value: string(raw)}}
}
