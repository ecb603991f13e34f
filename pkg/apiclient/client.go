// Package apiclient performs HTTP calls against the gallery backend and
// classifies the responses.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/NicolasHaas/pixgallery/pkg/shape"
	"github.com/NicolasHaas/pixgallery/pkg/version"
)

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() string
}

// Request describes one call. Endpoint is joined onto the base URL unless it
// is already absolute.
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	Header   http.Header

	// JSON is encoded as the request body when non-nil.
	JSON any
	// Body and ContentType are sent verbatim when JSON is nil.
	Body        []byte
	ContentType string

	// NoAuth suppresses the Authorization header (register, login, third parties).
	NoAuth bool
}

// Response is a successful (2xx) reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	IsJSON bool
	// JSON is the parsed body when IsJSON is set.
	JSON gjson.Result
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Client talks to a single base URL.
type Client struct {
	baseURL   string
	http      *http.Client
	tokens    TokenSource
	userAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenSource attaches bearer tokens from ts.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		userAgent: version.UserAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the URL endpoints are joined onto.
func (c *Client) BaseURL() string { return c.baseURL }

// Do performs req and classifies the reply. Non-2xx replies, HTML pages and
// undecodable JSON come back as *RequestError (or *AuthError for 401/403).
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolve(req.Endpoint, req.Query)

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: req.Endpoint, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: req.Endpoint, Message: "build request", Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if !req.NoAuth && c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: req.Endpoint, Message: "network error or server unavailable", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Method: method, Endpoint: req.Endpoint, Status: resp.StatusCode, Message: "read body", Err: err}
	}

	slog.Debug("api call",
		"method", method,
		"endpoint", req.Endpoint,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
	)

	return classify(method, req.Endpoint, resp, raw)
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Query: query})
}

// PostJSON issues a POST with a JSON body.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload any, noAuth bool) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Endpoint: endpoint, JSON: payload, NoAuth: noAuth})
}

// Delete issues an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Endpoint: endpoint})
}

func (c *Client) resolve(endpoint string, query url.Values) string {
	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if endpoint != "" && !strings.HasPrefix(endpoint, "/") {
			endpoint = "/" + endpoint
		}
		target = c.baseURL + endpoint
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}
	return target
}

func encodeBody(req Request) ([]byte, string, error) {
	if req.JSON != nil {
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
	return req.Body, req.ContentType, nil
}

func classify(method, endpoint string, resp *http.Response, raw []byte) (*Response, error) {
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	isJSON := strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/json")

	if !isJSON {
		if ok {
			return &Response{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
		}
		re := &RequestError{
			Method:   method,
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Message:  "server error " + statusLine(resp.StatusCode) + ", endpoint may not exist",
			HTMLPage: IsHTMLPage(raw),
		}
		return nil, wrapStatus(re, raw)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		if ok {
			return &Response{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
		}
		re := &RequestError{Method: method, Endpoint: endpoint, Status: resp.StatusCode, Message: "request failed: " + statusLine(resp.StatusCode)}
		return nil, wrapStatus(re, raw)
	}

	if !gjson.ValidBytes(raw) {
		re := &RequestError{Method: method, Endpoint: endpoint, Status: resp.StatusCode}
		if IsHTMLPage(raw) {
			re.HTMLPage = true
			re.Message = "server returned an HTML page, endpoint not configured"
		} else {
			re.Message = "server returned non-JSON response"
		}
		return nil, wrapStatus(re, raw)
	}

	doc := gjson.ParseBytes(raw)
	if !ok {
		msg := shape.FirstString(doc, "message", "error", "error.message")
		if msg == "" {
			msg = "request failed: " + statusLine(resp.StatusCode)
		}
		return nil, wrapStatus(&RequestError{Method: method, Endpoint: endpoint, Status: resp.StatusCode, Message: msg}, raw)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: raw, IsJSON: true, JSON: doc}, nil
}

func wrapStatus(re *RequestError, raw []byte) error {
	re.Body = strings.TrimSpace(string(raw))
	if re.Status == http.StatusUnauthorized || re.Status == http.StatusForbidden {
		return &AuthError{RequestError: re}
	}
	return re
}

// IsHTMLPage reports whether body looks like an HTML document.
func IsHTMLPage(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 16 {
		trimmed = trimmed[:16]
	}
	lower := strings.ToLower(string(trimmed))
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}

// MultipartField is one part of a multipart/form-data body.
type MultipartField struct {
	Name     string
	Value    string
	FileName string // set for file parts
	MIME     string
	Data     []byte
}

// Multipart encodes fields as multipart/form-data and returns the body and
// its content type.
func Multipart(fields ...MultipartField) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if f.FileName == "" {
			if err := w.WriteField(f.Name, f.Value); err != nil {
				return nil, "", fmt.Errorf("apiclient: multipart field %s: %w", f.Name, err)
			}
			continue
		}
		mime := f.MIME
		if mime == "" {
			mime = "application/octet-stream"
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Name, f.FileName))
		h.Set("Content-Type", mime)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("apiclient: multipart file %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("apiclient: multipart file %s: %w", f.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("apiclient: close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
