package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/NicolasHaas/pixgallery/pkg/crypto"
	"github.com/NicolasHaas/pixgallery/pkg/model"
	"github.com/NicolasHaas/pixgallery/pkg/rbac"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// logRequests logs one line per request and feeds the request counters.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)

		s.metrics.RequestsTotal.Add(1)
		if writer.status >= http.StatusBadRequest {
			s.metrics.RequestErrors.Add(1)
		}
		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type ctxKey int

const accountKey ctxKey = iota

// accountFrom returns the account requireAuth attached to ctx.
func accountFrom(ctx context.Context) *model.Account {
	acc, _ := ctx.Value(accountKey).(*model.Account)
	return acc
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// authenticate resolves the bearer token of r to an account. It returns nil
// when the token is missing, unknown, expired or orphaned.
func (s *Server) authenticate(r *http.Request) (*model.Account, error) {
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		return nil, nil
	}
	ctx := r.Context()
	hash := crypto.HashToken(raw)
	tok, err := s.store.GetSession(ctx, hash)
	if err != nil || tok == nil {
		return nil, err
	}
	if tok.IsExpired(s.now()) {
		if err := s.store.DeleteSession(ctx, hash); err != nil {
			slog.Warn("delete expired session", "err", err)
		}
		return nil, nil
	}
	return s.store.GetUserByID(ctx, tok.UserID)
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acc, err := s.authenticate(r)
		if err != nil {
			slog.Error("authenticate", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if acc == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized: missing or invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), accountKey, acc)))
	}
}

func (s *Server) requirePermission(perm model.Permission, next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		acc := accountFrom(r.Context())
		if msg := rbac.RequirePermission(acc.Role, perm); msg != "" {
			s.metrics.PermissionDenials.Add(1)
			writeError(w, http.StatusForbidden, msg)
			return
		}
		next(w, r)
	})
}
