package mockhost_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/mockhost"
	"github.com/NicolasHaas/pixgallery/pkg/model"
)

// fakeCollection mimics the mock host: an in-memory list with generated ids.
type fakeCollection struct {
	mu      sync.Mutex
	records []map[string]any
	nextID  int
}

func (f *fakeCollection) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := strings.TrimPrefix(r.URL.Path, "/QLND")
	id = strings.TrimPrefix(id, "/")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && id == "":
		_ = json.NewEncoder(w).Encode(f.records)
	case r.Method == http.MethodGet:
		for _, rec := range f.records {
			if rec["id"] == id {
				_ = json.NewEncoder(w).Encode(rec)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `"Not found"`)
	case r.Method == http.MethodPost:
		var rec map[string]any
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.nextID++
		rec["id"] = strconv.Itoa(f.nextID)
		f.records = append(f.records, rec)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(rec)
	case r.Method == http.MethodDelete:
		for i, rec := range f.records {
			if rec["id"] == id {
				f.records = append(f.records[:i], f.records[i+1:]...)
				_ = json.NewEncoder(w).Encode(rec)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `"Not found"`)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newClient(t *testing.T, h http.Handler) *mockhost.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	api := apiclient.New(srv.URL, apiclient.WithHTTPClient(srv.Client()))
	return mockhost.New(api, srv.URL+"/QLND/")
}

func TestCreateListGetDelete(t *testing.T) {
	c := newClient(t, &fakeCollection{})
	ctx := context.Background()

	created, err := c.Create(ctx, mockhost.Record{
		Name:       "cat.png",
		Img:        "https://cdn/x.png",
		Hash:       "abc",
		UploadedBy: &model.Uploader{ID: "u1", Username: "a", Email: "a@x.io"},
		CreatedAt:  "2026-01-02T03:04:05.000Z",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != "1" {
		t.Fatalf("Create id = %q, want 1", created.ID)
	}

	list, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]mockhost.Record{created}, list); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	got, err := c.Get(ctx, "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	img := got.Image()
	want := model.Image{
		ID:          "1",
		DisplayName: "cat.png",
		Source:      model.Linked("https://cdn/x.png"),
		Hash:        "abc",
		Uploader:    &model.Uploader{ID: "u1", Username: "a", Email: "a@x.io"},
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if diff := cmp.Diff(want, img); diff != "" {
		t.Errorf("Image mismatch (-want +got):\n%s", diff)
	}

	if err := c.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, err = c.List(ctx)
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List after delete = %d records, want 0", len(list))
	}
}

func TestListNonArrayIsEmpty(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[{"id":"1"}]}`)
	}))

	list, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("List = %#v, want empty non-nil slice", list)
	}
}

func TestErrorsAreUpstream(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "rate limited, slow down")
	}))

	_, err := c.Create(context.Background(), mockhost.Record{Name: "x"})
	var ue *apiclient.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("Create: expected *UpstreamError, got %T %v", err, err)
	}
	if ue.Service != "mockhost" || ue.Status != http.StatusTooManyRequests {
		t.Errorf("UpstreamError = %+v", ue)
	}
	if ue.Message != "rate limited, slow down" {
		t.Errorf("Message = %q, want body verbatim", ue.Message)
	}
}

func TestRecordImageSource(t *testing.T) {
	type tcase struct {
		img      string
		wantKind model.SourceKind
		wantURL  string
		wantData string
		wantMIME string
	}
	fn := func(tc tcase) func(*testing.T) {
		return func(t *testing.T) {
			src := mockhost.Record{ID: "1", Name: "x.png", Img: tc.img}.Image().Source
			if src.Kind() != tc.wantKind {
				t.Fatalf("kind = %v, want %v", src.Kind(), tc.wantKind)
			}
			if src.URL() != tc.wantURL {
				t.Errorf("URL = %q, want %q", src.URL(), tc.wantURL)
			}
			data, mime := src.Data()
			if string(data) != tc.wantData || mime != tc.wantMIME {
				t.Errorf("Data = %q (%s), want %q (%s)", data, mime, tc.wantData, tc.wantMIME)
			}
		}
	}

	tests := map[string]tcase{
		"cdn_url":  {img: "https://cdn/x.png", wantKind: model.SourceLinked, wantURL: "https://cdn/x.png"},
		"data_url": {
			img:      model.DataURL([]byte("xx"), "image/png"),
			wantKind: model.SourceInline, wantURL: "data:image/png;base64,eHg=", wantData: "xx", wantMIME: "image/png",
		},
		"empty":    {img: "", wantKind: model.SourceNone},
	}
	for name, tc := range tests {
		t.Run(name, fn(tc))
	}
}
