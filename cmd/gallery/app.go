package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/auth"
	"github.com/NicolasHaas/pixgallery/pkg/cdn"
	"github.com/NicolasHaas/pixgallery/pkg/config"
	"github.com/NicolasHaas/pixgallery/pkg/images"
	"github.com/NicolasHaas/pixgallery/pkg/mockhost"
	"github.com/NicolasHaas/pixgallery/pkg/session"
	"github.com/NicolasHaas/pixgallery/pkg/upload"
)

// app holds the services one CLI invocation works with.
type app struct {
	cfg    config.Config
	out    io.Writer
	in     *bufio.Reader
	sess   *session.Session
	api    *apiclient.Client
	auth   *auth.Service
	lister images.Lister
	mock   *mockhost.Client

	uploadMode upload.Mode
	// cdn is nil unless the upload mode needs it
	cdn *cdn.Client
}

func newApp(cfg config.Config, kv session.KV, out io.Writer) (*app, error) {
	sess := session.New(kv)
	if err := sess.Init(); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	api := apiclient.New(cfg.APIBaseURL, apiclient.WithTokenSource(sess))
	var authOpts []auth.Option
	if !cfg.VerifySession {
		authOpts = append(authOpts, auth.WithoutVerification())
	}

	// third-party hosts never see the backend token
	third := apiclient.New("")
	a := &app{
		cfg:  cfg,
		out:  out,
		sess: sess,
		api:  api,
		auth: auth.NewService(api, sess, authOpts...),
		mock: mockhost.New(third, cfg.MockHostURL),
	}

	if cfg.ListMode() == images.ModeMockHost {
		a.lister = images.NewMockHostLister(a.mock)
	} else {
		a.lister = images.NewBackendLister(api, cfg.StaticBaseURL)
	}

	mode, err := upload.ParseMode(cfg.UploadMode)
	if err != nil {
		return nil, err
	}
	a.uploadMode = mode
	if mode == upload.ModeCDN {
		a.cdn, err = cdn.New(third, cdn.Config{
			BaseURL:   cfg.CDNBaseURL,
			CloudName: cfg.CDNCloudName,
			Preset:    cfg.CDNUploadPreset,
		})
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) uploader(legacyNames bool) (*upload.Service, error) {
	deps := upload.Dependencies{API: a.api}
	if a.cdn != nil {
		deps.CDN = a.cdn
		deps.Store = a.mock
	}
	return upload.New(deps, upload.Options{
		Mode:            a.uploadMode,
		CheckDuplicates: a.cfg.CheckDuplicates,
		LegacyNames:     legacyNames,
		StaticBaseURL:   a.cfg.StaticBaseURL,
	})
}

// watch reports an operation that outlives timeout. It never cancels the
// operation; stop must be called when it finishes.
func watch(name string, timeout time.Duration) (stop func()) {
	if timeout <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			slog.Warn("operation is taking longer than expected", "command", name, "after", timeout)
		}
	}()
	return func() { close(done) }
}
