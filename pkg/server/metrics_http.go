package server

import (
	"fmt"
	"net/http"
	"time"
)

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("pixgallery_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("pixgallery_http_requests_total", "HTTP requests served.", "counter",
		m.RequestsTotal.Load())
	write("pixgallery_http_request_errors_total", "HTTP requests answered with a 4xx or 5xx status.", "counter",
		m.RequestErrors.Load())

	write("pixgallery_registrations_total", "Accounts registered.", "counter",
		m.Registrations.Load())
	write("pixgallery_auth_success_total", "Successful logins.", "counter",
		m.SuccessfulAuths.Load())
	write("pixgallery_auth_failed_total", "Failed logins.", "counter",
		m.FailedAuths.Load())
	write("pixgallery_permission_denied_total", "Requests refused for lack of a role.", "counter",
		m.PermissionDenials.Load())
	write("pixgallery_sessions_purged_total", "Expired sessions removed.", "counter",
		m.SessionsPurged.Load())

	write("pixgallery_images_uploaded_total", "Images stored.", "counter",
		m.ImagesUploaded.Load())
	write("pixgallery_images_deleted_total", "Images deleted.", "counter",
		m.ImagesDeleted.Load())
	write("pixgallery_upload_bytes_total", "Image payload bytes stored.", "counter",
		m.UploadBytes.Load())
	write("pixgallery_upload_rejected_total", "Uploads rejected by validation.", "counter",
		m.ValidationFailures.Load())
}
