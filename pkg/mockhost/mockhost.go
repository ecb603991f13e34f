// Package mockhost is a client for the flat REST collection that stores
// image metadata in the legacy deployment.
package mockhost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/model"
	"github.com/NicolasHaas/pixgallery/pkg/shape"
)

// DefaultURL is the collection the legacy deployment used.
const DefaultURL = "https://6309f78a32499100327e5878.mockapi.io/QLND"

const service = "mockhost"

// Record is the stored shape of one image.
type Record struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Img        string          `json:"img"`
	Hash       string          `json:"hash,omitempty"`
	UploadedBy *model.Uploader `json:"uploadedBy,omitempty"`
	CreatedAt  string          `json:"createdAt,omitempty"`
	UpdatedAt  string          `json:"updatedAt,omitempty"`
}

// Image converts the record to the normalized gallery form.
func (r Record) Image() model.Image {
	src := model.Linked(r.Img)
	if strings.HasPrefix(r.Img, "data:") {
		// embedded payloads are inline, not links
		src = src.Resolve("")
	}
	return model.Image{
		ID:          r.ID,
		DisplayName: r.Name,
		Source:      src,
		Hash:        r.Hash,
		Uploader:    r.UploadedBy,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}
}

// Doer performs an HTTP call.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Client talks to one collection URL.
type Client struct {
	api        Doer
	collection string
}

// New creates a Client. api must not attach backend credentials; callers
// pass a dedicated apiclient.Client.
func New(api Doer, collectionURL string) *Client {
	return &Client{api: api, collection: strings.TrimRight(collectionURL, "/")}
}

// List fetches the whole collection. A body that is not an array yields an
// empty slice.
func (c *Client) List(ctx context.Context) ([]Record, error) {
	resp, err := c.do(ctx, http.MethodGet, c.collection, nil)
	if err != nil {
		return []Record{}, err
	}
	list, ok := shape.FirstArray(resp.JSON, shape.Root)
	if !ok {
		return []Record{}, nil
	}
	records := make([]Record, 0, len(list.Array()))
	list.ForEach(func(_, item gjson.Result) bool {
		if item.IsObject() {
			records = append(records, decodeRecord(item))
		}
		return true
	})
	return records, nil
}

// Get fetches one record.
func (c *Client) Get(ctx context.Context, id string) (Record, error) {
	resp, err := c.do(ctx, http.MethodGet, c.item(id), nil)
	if err != nil {
		return Record{}, err
	}
	if !resp.JSON.IsObject() {
		return Record{}, &apiclient.UpstreamError{Service: service, Status: resp.Status, Message: "record is not an object"}
	}
	return decodeRecord(resp.JSON), nil
}

// Create stores rec and returns what the host persisted, including its id.
func (c *Client) Create(ctx context.Context, rec Record) (Record, error) {
	resp, err := c.do(ctx, http.MethodPost, c.collection, rec)
	if err != nil {
		return Record{}, err
	}
	if !resp.JSON.IsObject() {
		return rec, nil
	}
	return decodeRecord(resp.JSON), nil
}

// Delete removes one record.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.item(id), nil)
	return err
}

func (c *Client) item(id string) string {
	return c.collection + "/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, method, target string, body any) (*apiclient.Response, error) {
	resp, err := c.api.Do(ctx, apiclient.Request{Method: method, Endpoint: target, JSON: body, NoAuth: true})
	if err != nil {
		return nil, upstream(err)
	}
	return resp, nil
}

// upstream re-labels request failures as failures of the mock host.
func upstream(err error) error {
	var re *apiclient.RequestError
	if errors.As(err, &re) {
		msg := re.Body
		switch {
		case msg == "" && re.Err != nil:
			msg = fmt.Sprintf("%s: %v", re.Message, re.Err)
		case msg == "":
			msg = re.Message
		}
		return &apiclient.UpstreamError{Service: service, Status: re.Status, Message: msg, Err: err}
	}
	return &apiclient.UpstreamError{Service: service, Err: err}
}

func decodeRecord(item gjson.Result) Record {
	rec := Record{
		ID:        shape.FirstString(item, "id", "_id"),
		Name:      shape.FirstString(item, "name"),
		Img:       shape.FirstString(item, "img"),
		Hash:      shape.FirstString(item, "hash"),
		CreatedAt: shape.FirstString(item, "createdAt"),
		UpdatedAt: shape.FirstString(item, "updatedAt"),
	}
	if up := item.Get("uploadedBy"); up.IsObject() {
		rec.UploadedBy = &model.Uploader{
			ID:       shape.FirstString(up, "_id", "id"),
			Username: shape.FirstString(up, "username"),
			Email:    shape.FirstString(up, "email"),
		}
	}
	return rec
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
