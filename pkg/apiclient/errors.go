package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// RequestError is a failed backend call: transport failure (Status 0),
// non-2xx status, or a body that could not be interpreted.
type RequestError struct {
	Method   string
	Endpoint string
	Status   int
	Message  string
	HTMLPage bool   // the server answered with an HTML page, usually a missing route
	Body     string // full error body, trimmed
	Err      error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString("apiclient: ")
	if e.Method != "" {
		b.WriteString(e.Method + " ")
	}
	b.WriteString(e.Endpoint)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": " + truncate(e.Message))
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *RequestError) Unwrap() error { return e.Err }

// AuthError is a RequestError with status 401 or 403.
type AuthError struct {
	*RequestError
}

func (e *AuthError) Unwrap() error { return e.RequestError }

// UpstreamError is a failure reported by a third-party host (CDN, mock host).
type UpstreamError struct {
	Service string
	Status  int
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	msg = truncate(msg)
	if e.Status != 0 {
		return fmt.Sprintf("%s: %d: %s", e.Service, e.Status, msg)
	}
	return e.Service + ": " + msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsNotFound reports a 404 or a "not found" message.
func IsNotFound(err error) bool {
	var re *RequestError
	if !errors.As(err, &re) {
		return false
	}
	return re.Status == http.StatusNotFound || strings.Contains(strings.ToLower(re.Message), "not found")
}

// IsUnauthorized reports a 401/403 or an "unauthorized" message.
func IsUnauthorized(err error) bool {
	var ae *AuthError
	if errors.As(err, &ae) {
		return true
	}
	var re *RequestError
	if !errors.As(err, &re) {
		return false
	}
	return strings.Contains(strings.ToLower(re.Message), "unauthorized")
}

const maxErrorBody = 512

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func statusLine(code int) string {
	if text := http.StatusText(code); text != "" {
		return fmt.Sprintf("%d %s", code, text)
	}
	return fmt.Sprintf("%d", code)
}
