// Package auth signs users in and out and keeps the cached session in step
// with the backend.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/NicolasHaas/pixgallery/pkg/apiclient"
	"github.com/NicolasHaas/pixgallery/pkg/model"
	"github.com/NicolasHaas/pixgallery/pkg/session"
	"github.com/NicolasHaas/pixgallery/pkg/shape"
)

// Backend endpoints, relative to the API base URL.
const (
	RegisterEndpoint = "/auth/register"
	LoginEndpoint    = "/auth/login"
	MeEndpoint       = "/auth/me"
)

// Lookup order for fields in auth responses. Backends disagree on where
// they put things, so the first match wins.
var (
	// RolePaths is checked before the userRole field of the user object.
	RolePaths = []string{"data.user.role", "user.role", "data.role", "role"}
	// UserRoleField is the last role candidate, read from the user object.
	UserRoleField = "userRole"
	// UserObjectPaths locate the user object; the document itself is the fallback.
	UserObjectPaths = []string{"data.user", "user"}
	TokenPaths      = []string{"data.token", "token"}
	IDFields        = []string{"id", "_id"}
)

var ErrForbidden = errors.New("auth: insufficient role")

// ErrNotSignedIn is the ErrForbidden returned when no user is cached.
var ErrNotSignedIn = fmt.Errorf("%w: not signed in", ErrForbidden)

// VerifyStatus is the outcome of VerifySession.
type VerifyStatus int

const (
	StatusNoSession       VerifyStatus = iota // nothing cached, nothing to verify
	StatusSkipped                             // verification disabled, cached session kept
	StatusVerified                            // backend confirmed, cached user refreshed
	StatusEndpointMissing                     // backend has no verify endpoint, cached session kept
	StatusInvalidated                         // token rejected, session cleared
	StatusKept                                // transient failure, cached session kept
)

func (s VerifyStatus) String() string {
	switch s {
	case StatusNoSession:
		return "no session"
	case StatusSkipped:
		return "skipped"
	case StatusVerified:
		return "verified"
	case StatusEndpointMissing:
		return "endpoint missing"
	case StatusInvalidated:
		return "invalidated"
	case StatusKept:
		return "kept"
	default:
		return "unknown"
	}
}

// Doer performs a backend call.
type Doer interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Service implements register, login, session verification and logout.
type Service struct {
	api           Doer
	session       *session.Session
	verifyEnabled bool
}

// Option configures a Service.
type Option func(*Service)

// WithoutVerification makes VerifySession keep the cached session untouched.
// Used when no backend API base URL is configured.
func WithoutVerification() Option {
	return func(s *Service) { s.verifyEnabled = false }
}

// NewService creates an auth service backed by api and sess.
func NewService(api Doer, sess *session.Session, opts ...Option) *Service {
	s := &Service{api: api, session: sess, verifyEnabled: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session returns the session the service writes to.
func (s *Service) Session() *session.Session { return s.session }

// Register creates an account and starts a session with the returned user.
func (s *Service) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	resp, err := s.api.Do(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Endpoint: RegisterEndpoint,
		JSON:     map[string]string{"username": username, "email": email, "password": password},
		NoAuth:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: register: %w", err)
	}
	return s.begin(resp, fallback{username: username, email: email, role: model.RoleUser})
}

// Login signs in and starts a session.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, error) {
	resp, err := s.api.Do(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Endpoint: LoginEndpoint,
		JSON:     map[string]string{"email": email, "password": password},
		NoAuth:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: login: %w", err)
	}
	return s.begin(resp, fallback{email: email, role: model.RoleUser})
}

// VerifySession checks the cached token against the backend. Only an
// explicit 401/403 (or "unauthorized") clears the session; any other failure
// keeps it, so a flaky network never demotes an admin.
func (s *Service) VerifySession(ctx context.Context) (VerifyStatus, error) {
	cached := s.session.User()
	if s.session.Token() == "" || cached == nil {
		return StatusNoSession, nil
	}
	if !s.verifyEnabled {
		return StatusSkipped, nil
	}

	resp, err := s.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Endpoint: MeEndpoint})
	if err != nil {
		switch {
		case apiclient.IsNotFound(err):
			slog.Warn("verify endpoint not found, keeping cached session", "err", err)
			return StatusEndpointMissing, nil
		case apiclient.IsUnauthorized(err):
			slog.Info("session token rejected, signing out", "err", err)
			if clearErr := s.session.Clear(); clearErr != nil {
				return StatusInvalidated, clearErr
			}
			return StatusInvalidated, nil
		default:
			slog.Warn("session verification failed, keeping cached session", "err", err)
			return StatusKept, nil
		}
	}

	user := extractUser(resp.JSON, fallback{
		id:       cached.ID,
		username: cached.Username,
		email:    cached.Email,
		role:     cached.Role,
	})
	if err := s.session.Refresh(user); err != nil {
		return StatusVerified, err
	}
	return StatusVerified, nil
}

// Logout clears the session. It never calls the backend.
func (s *Service) Logout() error {
	return s.session.Clear()
}

// RequireRole returns the cached user when it holds role.
func (s *Service) RequireRole(role model.Role) (*model.User, error) {
	u := s.session.User()
	if u == nil {
		return nil, ErrNotSignedIn
	}
	if u.Role != role {
		return nil, fmt.Errorf("%w: %s required, have %s", ErrForbidden, role, u.Role)
	}
	return u, nil
}

func (s *Service) begin(resp *apiclient.Response, fb fallback) (*model.User, error) {
	doc := resp.JSON
	user := extractUser(doc, fb)
	token := shape.FirstString(doc, TokenPaths...)
	if err := s.session.Begin(token, user); err != nil {
		return nil, err
	}
	return user, nil
}

// fallback supplies values for fields the response leaves out.
type fallback struct {
	id       string
	username string
	email    string
	role     model.Role
}

// extractUser applies the lookup tables to an auth response.
func extractUser(doc gjson.Result, fb fallback) *model.User {
	userObj, ok := shape.FirstObject(doc, UserObjectPaths...)
	if !ok {
		userObj = doc
	}

	role := shape.FirstString(doc, RolePaths...)
	if role == "" {
		role = shape.FirstString(userObj, UserRoleField)
	}
	r := fb.role
	if role != "" {
		r = model.ParseRole(role)
	}

	return &model.User{
		ID:       firstNonEmpty(shape.FirstString(userObj, IDFields...), shape.FirstString(doc, IDFields...), fb.id),
		Username: firstNonEmpty(shape.FirstString(userObj, "username"), shape.FirstString(doc, "username"), fb.username),
		Email:    firstNonEmpty(shape.FirstString(userObj, "email"), shape.FirstString(doc, "email"), fb.email),
		Role:     r,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
