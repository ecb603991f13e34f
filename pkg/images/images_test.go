package images_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/images"
	"github.com/NicolasHaas/pixgallery/pkg/mockhost"
	"github.com/NicolasHaas/pixgallery/pkg/model"
	"github.com/NicolasHaas/pixgallery/pkg/shape"
)

const staticBase = "http://localhost:5000"

func TestDecodeList(t *testing.T) {
	type tcase struct {
		body    string
		wantIDs []string
		wantPg  *model.Pagination
	}

	tcases := map[string]tcase{
		"bare_array": {
			body:    `[{"_id":"a"},{"_id":"b"}]`,
			wantIDs: []string{"a", "b"},
		},
		"data_array": {
			body:    `{"success":true,"data":[{"id":"a"}]}`,
			wantIDs: []string{"a"},
		},
		"data_images_with_pagination": {
			body:    `{"data":{"images":[{"_id":"a"}]},"pagination":{"page":2,"limit":1,"total":3,"totalPages":3}}`,
			wantIDs: []string{"a"},
			wantPg:  &model.Pagination{Page: 2, Limit: 1, Total: 3, TotalPages: 3},
		},
		"data_data_pages": {
			body:    `{"data":{"data":[{"_id":"a"}],"pagination":{"page":1,"limit":10,"total":12,"pages":2}}}`,
			wantIDs: []string{"a"},
			wantPg:  &model.Pagination{Page: 1, Limit: 10, Total: 12, TotalPages: 2},
		},
		"images_computed_pages": {
			body:    `{"images":[{"_id":"a"}],"pagination":{"page":1,"limit":5,"total":11}}`,
			wantIDs: []string{"a"},
			wantPg:  &model.Pagination{Page: 1, Limit: 5, Total: 11, TotalPages: 3},
		},
		"results": {
			body:    `{"results":[{"_id":"r"}]}`,
			wantIDs: []string{"r"},
		},
		"unrecognized": {
			body:    `{"items":[{"_id":"x"}]}`,
			wantIDs: []string{},
		},
		"skips_non_objects": {
			body:    `[1,"two",{"_id":"c"}]`,
			wantIDs: []string{"c"},
		},
	}

	fn := func(tc tcase) func(*testing.T) {
		return func(t *testing.T) {
			res := images.DecodeList(shape.Parse([]byte(tc.body)), staticBase)
			ids := []string{}
			for _, img := range res.Images {
				ids = append(ids, img.ID)
			}
			if diff := cmp.Diff(tc.wantIDs, ids); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantPg, res.Pagination); diff != "" {
				t.Errorf("pagination mismatch (-want +got):\n%s", diff)
			}
		}
	}

	for name, tc := range tcases {
		t.Run(name, fn(tc))
	}
}

func TestDecodeImage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want model.Image
	}{
		{
			name: "relative_path",
			body: `{"_id":"1","originalname":"cat.png","filename":"123-cat.png","path":"/uploads/123-cat.png","mimetype":"image/png","size":42}`,
			want: model.Image{
				ID: "1", DisplayName: "cat.png", MIME: "image/png", Size: 42,
				Source: model.Linked(staticBase + "/uploads/123-cat.png"),
			},
		},
		{
			name: "absolute_url",
			body: `{"id":"2","name":"dog","url":"https://cdn/dog.jpg"}`,
			want: model.Image{ID: "2", DisplayName: "dog", Source: model.Linked("https://cdn/dog.jpg")},
		},
		{
			name: "inline_data_url_wins",
			body: `{"_id":"3","filename":"x.gif","base64":"data:image/gif;base64,aGk=","url":"https://cdn/x.gif"}`,
			want: model.Image{ID: "3", DisplayName: "x.gif", Source: model.Inline([]byte("hi"), "image/gif")},
		},
		{
			name: "raw_base64_uses_mimetype",
			body: `{"_id":"4","originalName":"y.png","mimetype":"image/png","base64":"aGk="}`,
			want: model.Image{ID: "4", DisplayName: "y.png", MIME: "image/png", Source: model.Inline([]byte("hi"), "image/png")},
		},
		{
			name: "uploader",
			body: `{"_id":"5","img":"https://cdn/z.png","uploadedBy":{"_id":"u","username":"ann","email":"a@x.io"},"createdAt":"2026-01-02T03:04:05Z"}`,
			want: model.Image{
				ID: "5", Source: model.Linked("https://cdn/z.png"),
				Uploader:  &model.Uploader{ID: "u", Username: "ann", Email: "a@x.io"},
				CreatedAt: mustTime(t, "2026-01-02T03:04:05Z"),
			},
		},
		{
			name: "no_source",
			body: `{"_id":"6"}`,
			want: model.Image{ID: "6"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := images.DecodeImage(shape.Parse([]byte(tt.body)), staticBase)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeImage mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBackendListerList(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"data":[{"_id":"a","originalname":"Cat.png","path":"uploads/a.png"}],"pagination":{"page":1,"limit":20,"total":1,"totalPages":1}}`)
	}))
	t.Cleanup(srv.Close)

	api := apiclient.New(srv.URL+"/api", apiclient.WithHTTPClient(srv.Client()))
	l := images.NewBackendLister(api, staticBase)

	res, err := l.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotQuery != "limit=20&page=1" {
		t.Errorf("query = %q, want defaults", gotQuery)
	}
	if len(res.Images) != 1 || res.Images[0].Source.URL() != staticBase+"/uploads/a.png" {
		t.Errorf("Images = %+v", res.Images)
	}
	if l.Mode() != images.ModeBackend {
		t.Errorf("Mode = %v", l.Mode())
	}
}

func TestBackendListerErrorKeepsEmptySlice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Not authorized"}`)
	}))
	t.Cleanup(srv.Close)

	l := images.NewBackendLister(apiclient.New(srv.URL, apiclient.WithHTTPClient(srv.Client())), staticBase)
	res, err := l.List(context.Background(), 1, 10)
	if !apiclient.IsUnauthorized(err) {
		t.Errorf("List err = %v, want unauthorized", err)
	}
	if res.Images == nil || len(res.Images) != 0 {
		t.Errorf("Images = %#v, want empty non-nil", res.Images)
	}
}

type fakeStore struct {
	records []mockhost.Record
	err     error
	deleted []string
}

func (f *fakeStore) List(context.Context) ([]mockhost.Record, error) {
	if f.err != nil {
		return []mockhost.Record{}, f.err
	}
	return f.records, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (mockhost.Record, error) {
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return mockhost.Record{}, &apiclient.UpstreamError{Service: "mockhost", Status: http.StatusNotFound, Message: "Not found"}
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestMockHostLister(t *testing.T) {
	store := &fakeStore{records: []mockhost.Record{
		{ID: "1", Name: "Sunset", Img: "https://cdn/1.png"},
		{ID: "2", Name: "cat", Img: "https://cdn/2.png"},
	}}
	l := images.NewMockHostLister(store)
	ctx := context.Background()

	res, err := l.List(ctx, 3, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Images) != 2 {
		t.Fatalf("List = %d images, want 2", len(res.Images))
	}
	if diff := cmp.Diff(model.SinglePage(2), res.Pagination); diff != "" {
		t.Errorf("pagination mismatch (-want +got):\n%s", diff)
	}

	img, err := l.Get(ctx, "2")
	if err != nil || img.DisplayName != "cat" {
		t.Errorf("Get = %+v, %v", img, err)
	}

	if err := l.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if diff := cmp.Diff([]string{"1"}, store.deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}

	store.err = errors.New("boom")
	res, err = l.List(ctx, 1, 1)
	if err == nil || res.Images == nil {
		t.Errorf("List on failure = %#v, %v", res.Images, err)
	}
}

func TestSearch(t *testing.T) {
	store := &fakeStore{records: []mockhost.Record{
		{ID: "1", Name: "Sunset Beach"},
		{ID: "2", Name: "cat"},
		{ID: "3", Name: "SUNRISE"},
	}}
	l := images.NewMockHostLister(store)

	tests := []struct {
		query string
		want  []string
	}{
		{query: "sun", want: []string{"1", "3"}},
		{query: "  CAT ", want: []string{"2"}},
		{query: "", want: []string{"1", "2", "3"}},
		{query: "dog", want: []string{}},
	}
	for _, tt := range tests {
		res, err := images.Search(context.Background(), l, tt.query, 1, 20)
		if err != nil {
			t.Fatalf("Search(%q): %v", tt.query, err)
		}
		ids := []string{}
		for _, img := range res.Images {
			ids = append(ids, img.ID)
		}
		if diff := cmp.Diff(tt.want, ids); diff != "" {
			t.Errorf("Search(%q) mismatch (-want +got):\n%s", tt.query, diff)
		}
	}
}

func TestParseMode(t *testing.T) {
	if images.ParseMode("mockhost") != images.ModeMockHost || images.ParseMode("x") != images.ModeBackend {
		t.Error("ParseMode mapping wrong")
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}
