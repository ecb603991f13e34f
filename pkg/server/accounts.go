package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/NicolasHaas/pixgallery/pkg/crypto"
	"github.com/NicolasHaas/pixgallery/pkg/datastore"
	"github.com/NicolasHaas/pixgallery/pkg/model"
)

const MinPasswordLength = 6

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authData is the data member of register and login replies.
type authData struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

type userData struct {
	User model.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username, email, and password are required")
		return
	}
	if len(req.Password) < MinPasswordLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
		return
	}

	acc, err := s.createAccount(r.Context(), req.Username, req.Email, req.Password, "")
	switch {
	case errors.Is(err, datastore.ErrDuplicateUser):
		writeError(w, http.StatusConflict, "username or email already registered")
		return
	case validationMessage(err) != "":
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	case err != nil:
		slog.Error("register", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	token, err := s.issueSession(r.Context(), acc.ID)
	if err != nil {
		slog.Error("register: issue session", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.metrics.Registrations.Add(1)
	slog.Info("user registered", "user", acc.Username, "role", acc.Role)
	writeData(w, http.StatusCreated, "registration successful", authData{User: acc.User, Token: token})
}

// createAccount stores a new account. An empty role makes the first account
// ever registered an admin and every later one a user.
func (s *Server) createAccount(ctx context.Context, username, email, password string, role model.Role) (*model.Account, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	acc := &model.Account{
		User:         model.User{Username: username, Email: email, Role: role},
		PasswordHash: crypto.HashPassword(password, salt),
		Salt:         salt,
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()
	if acc.Role == "" {
		n, err := s.store.CountUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("server: count users: %w", err)
		}
		acc.Role = model.RoleUser
		if n == 0 {
			acc.Role = model.RoleAdmin
		}
	}
	if err := s.store.CreateUser(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

var accountErrors = []error{
	model.ErrUsernameEmpty,
	model.ErrUsernameTooLong,
	model.ErrUsernameInvalidChars,
	model.ErrEmailInvalid,
	model.ErrInvalidRole,
}

// validationMessage returns the client-facing reason when err is an account
// validation failure, or "".
func validationMessage(err error) string {
	for _, target := range accountErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

// issueSession stores a new session and returns the raw bearer token.
func (s *Server) issueSession(ctx context.Context, userID string) (string, error) {
	raw, err := crypto.GenerateToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	tok := &model.SessionToken{Hash: crypto.HashToken(raw), UserID: userID, CreatedAt: now}
	if s.cfg.SessionTTL > 0 {
		tok.ExpiresAt = now.Add(s.cfg.SessionTTL)
	}
	if err := s.store.CreateSession(ctx, tok); err != nil {
		return "", err
	}
	return raw, nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	acc, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Error("login: lookup", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if acc == nil || !crypto.VerifyPassword(req.Password, acc.Salt, acc.PasswordHash) {
		s.metrics.FailedAuths.Add(1)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.issueSession(r.Context(), acc.ID)
	if err != nil {
		slog.Error("login: issue session", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.metrics.SuccessfulAuths.Add(1)
	writeData(w, http.StatusOK, "login successful", authData{User: acc.User, Token: token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acc := accountFrom(r.Context())
	writeData(w, http.StatusOK, "", userData{User: acc.User})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	hash := crypto.HashToken(bearerToken(r.Header.Get("Authorization")))
	if err := s.store.DeleteSession(r.Context(), hash); err != nil {
		slog.Error("logout", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, http.StatusOK, "logged out", nil)
}
