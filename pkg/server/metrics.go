package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// HTTP counters
	RequestsTotal atomic.Int64 // requests served
	RequestErrors atomic.Int64 // requests answered with a 4xx or 5xx status

	// Account counters
	Registrations     atomic.Int64 // accounts registered
	SuccessfulAuths   atomic.Int64 // successful logins
	FailedAuths       atomic.Int64 // failed logins
	PermissionDenials atomic.Int64 // authenticated requests refused by RBAC
	SessionsPurged    atomic.Int64 // expired sessions removed by the purge loop

	// Image counters
	ImagesUploaded     atomic.Int64 // images stored
	ImagesDeleted      atomic.Int64 // images deleted
	UploadBytes        atomic.Int64 // payload bytes stored
	ValidationFailures atomic.Int64 // uploads rejected before storage
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	RequestsTotal int64 `json:"requests_total"`
	RequestErrors int64 `json:"request_errors"`

	Registrations     int64 `json:"registrations"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	PermissionDenials int64 `json:"permission_denials"`
	SessionsPurged    int64 `json:"sessions_purged"`

	ImagesUploaded     int64 `json:"images_uploaded"`
	ImagesDeleted      int64 `json:"images_deleted"`
	UploadBytes        int64 `json:"upload_bytes"`
	ValidationFailures int64 `json:"validation_failures"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:             uptime.Truncate(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		RequestsTotal:      m.RequestsTotal.Load(),
		RequestErrors:      m.RequestErrors.Load(),
		Registrations:      m.Registrations.Load(),
		SuccessfulAuths:    m.SuccessfulAuths.Load(),
		FailedAuths:        m.FailedAuths.Load(),
		PermissionDenials:  m.PermissionDenials.Load(),
		SessionsPurged:     m.SessionsPurged.Load(),
		ImagesUploaded:     m.ImagesUploaded.Load(),
		ImagesDeleted:      m.ImagesDeleted.Load(),
		UploadBytes:        m.UploadBytes.Load(),
		ValidationFailures: m.ValidationFailures.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"requests", s.RequestsTotal,
		"request_errors", s.RequestErrors,
		"logins", s.SuccessfulAuths,
		"failed_logins", s.FailedAuths,
		"images_uploaded", s.ImagesUploaded,
		"images_deleted", s.ImagesDeleted,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
