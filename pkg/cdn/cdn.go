// Package cdn uploads images to a Cloudinary-compatible unsigned upload
// endpoint.
package cdn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/shape"
)

const (
	DefaultBaseURL   = "https://api.cloudinary.com/v1_1"
	DefaultCloudName = "dy696quxi"
	DefaultPreset    = "customer"

	service = "cdn"
)

var ErrNotConfigured = errors.New("cdn: cloud name and upload preset are required")

// Doer performs an HTTP call.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Config selects the upload target.
type Config struct {
	BaseURL   string // defaults to DefaultBaseURL
	CloudName string
	Preset    string
}

// Client uploads to one cloud with one unsigned preset.
type Client struct {
	api Doer
	cfg Config
}

// New creates a Client. It fails when the cloud name or preset is missing.
func New(api Doer, cfg Config) (*Client, error) {
	if cfg.CloudName == "" || cfg.Preset == "" {
		return nil, ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{api: api, cfg: cfg}, nil
}

// UploadURL is the endpoint files are posted to.
func (c *Client) UploadURL() string {
	return fmt.Sprintf("%s/%s/image/upload", c.cfg.BaseURL, c.cfg.CloudName)
}

// Upload posts a data URL and returns the hosted URL (secure_url, else url).
func (c *Client) Upload(ctx context.Context, dataURL string) (string, error) {
	body, contentType, err := apiclient.Multipart(
		apiclient.MultipartField{Name: "file", Value: dataURL},
		apiclient.MultipartField{Name: "upload_preset", Value: c.cfg.Preset},
	)
	if err != nil {
		return "", &apiclient.UpstreamError{Service: service, Err: err}
	}

	resp, err := c.api.Do(ctx, apiclient.Request{
		Method:      http.MethodPost,
		Endpoint:    c.UploadURL(),
		Body:        body,
		ContentType: contentType,
		NoAuth:      true,
	})
	if err != nil {
		return "", upstream(err)
	}

	hosted := shape.FirstString(shape.Parse(resp.Body), "secure_url", "url")
	if hosted == "" {
		return "", &apiclient.UpstreamError{Service: service, Status: resp.Status, Message: "upload response carried no URL"}
	}
	return hosted, nil
}

func upstream(err error) error {
	var re *apiclient.RequestError
	if !errors.As(err, &re) {
		return &apiclient.UpstreamError{Service: service, Err: err}
	}
	msg := shape.FirstString(shape.Parse([]byte(re.Body)), "error.message")
	if msg == "" && re.Status != 0 {
		msg = http.StatusText(re.Status)
	}
	if msg == "" {
		msg = "upload failed"
		if re.Err != nil {
			msg = re.Err.Error()
		}
	}
	return &apiclient.UpstreamError{Service: service, Status: re.Status, Message: msg, Err: err}
}
