package cdn_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/cdn"
)

func TestNewRequiresConfig(t *testing.T) {
	if _, err := cdn.New(apiclient.New(""), cdn.Config{CloudName: "c"}); !errors.Is(err, cdn.ErrNotConfigured) {
		t.Errorf("New without preset: err = %v, want ErrNotConfigured", err)
	}
}

func TestUpload(t *testing.T) {
	type tcase struct {
		status int
		body   string

		wantURL     string
		wantErr     bool
		wantMessage string
	}

	tcases := map[string]tcase{
		"secure_url": {
			status: http.StatusOK, body: `{"secure_url":"https://res/x.png","url":"http://res/x.png"}`,
			wantURL: "https://res/x.png",
		},
		"url_fallback": {
			status: http.StatusOK, body: `{"url":"http://res/x.png"}`,
			wantURL: "http://res/x.png",
		},
		"no_url": {
			status: http.StatusOK, body: `{"public_id":"x"}`,
			wantErr: true, wantMessage: "upload response carried no URL",
		},
		"error_message": {
			status: http.StatusBadRequest, body: `{"error":{"message":"Upload preset not found"}}`,
			wantErr: true, wantMessage: "Upload preset not found",
		},
		"long_error_body": {
			status: http.StatusBadRequest,
			body:    `{"error":{"message":"Invalid image file","details":"` + strings.Repeat("d", 1024) + `"}}`,
			wantErr: true, wantMessage: "Invalid image file",
		},
		"status_text": {
			status: http.StatusBadGateway, body: `{}`,
			wantErr: true, wantMessage: "Bad Gateway",
		},
	}

	fn := func(tc tcase) func(*testing.T) {
		return func(t *testing.T) {
			var gotPath, gotFile, gotPreset, gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotAuth = r.Header.Get("Authorization")
				if err := r.ParseMultipartForm(1 << 20); err == nil {
					gotFile = r.FormValue("file")
					gotPreset = r.FormValue("upload_preset")
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			t.Cleanup(srv.Close)

			api := apiclient.New(srv.URL, apiclient.WithHTTPClient(srv.Client()))
			c, err := cdn.New(api, cdn.Config{BaseURL: srv.URL + "/v1_1", CloudName: "demo", Preset: "customer"})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			got, err := c.Upload(context.Background(), "data:image/png;base64,aGk=")
			if gotPath != "/v1_1/demo/image/upload" {
				t.Errorf("path = %q", gotPath)
			}
			if gotFile != "data:image/png;base64,aGk=" || gotPreset != "customer" {
				t.Errorf("form file=%q preset=%q", gotFile, gotPreset)
			}
			if gotAuth != "" {
				t.Errorf("CDN upload carried Authorization %q", gotAuth)
			}

			if !tc.wantErr {
				if err != nil {
					t.Fatalf("Upload: %v", err)
				}
				if got != tc.wantURL {
					t.Errorf("Upload = %q, want %q", got, tc.wantURL)
				}
				return
			}

			var ue *apiclient.UpstreamError
			if !errors.As(err, &ue) {
				t.Fatalf("Upload: expected *UpstreamError, got %T %v", err, err)
			}
			if ue.Service != "cdn" || ue.Message != tc.wantMessage {
				t.Errorf("UpstreamError = %+v, want message %q", ue, tc.wantMessage)
			}
		}
	}

	for name, tc := range tcases {
		t.Run(name, fn(tc))
	}
}
