package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const purgeInterval = time.Hour

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	defer func() { _ = s.store.Close() }()

	if err := os.MkdirAll(s.cfg.UploadDir, 0o750); err != nil {
		return fmt.Errorf("server: create upload dir: %w", err)
	}

	// Load accounts from YAML config if provided
	if s.cfg.UsersFile != "" {
		if err := s.LoadUsersFromYAML(s.ctx, s.cfg.UsersFile); err != nil {
			slog.Error("failed to load users config", "err", err)
		}
	}

	if err := s.announceFirstRun(s.ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(s.ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx, ln)
}

// Serve handles HTTP on ln until ctx is cancelled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go s.purgeLoop(ctx, purgeInterval)
	if s.cfg.MetricsLog > 0 {
		s.metrics.StartPeriodicLog(s.cfg.MetricsLog, ctx.Done())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	slog.Info("pixgallery server running",
		"addr", ln.Addr().String(),
		"uploads", s.cfg.UploadDir,
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	s.cancel()
}

// PurgeSessions removes expired session tokens.
func (s *Server) PurgeSessions(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpiredSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("server: purge sessions: %w", err)
	}
	s.metrics.SessionsPurged.Add(n)
	if n > 0 {
		slog.Debug("purged expired sessions", "count", n)
	}
	return n, nil
}

func (s *Server) purgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeSessions(ctx); err != nil {
				slog.Warn("session purge failed", "err", err)
			}
		}
	}
}

// announceFirstRun tells the operator how the admin account comes to be on
// an empty database.
func (s *Server) announceFirstRun(ctx context.Context) error {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("server: count users: %w", err)
	}
	if n > 0 {
		return nil
	}
	slog.Info("========================================")
	slog.Info("no accounts yet: the first account to register becomes admin")
	slog.Info("========================================")
	return nil
}
