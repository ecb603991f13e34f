package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/pixgallery/pkg/datastore"
	"github.com/NicolasHaas/pixgallery/pkg/model"
)

// SeedUserYAML is an account in the users config file.
type SeedUserYAML struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role,omitempty"`
}

// UsersConfig is the top-level YAML config for accounts created on startup.
type UsersConfig struct {
	Users []SeedUserYAML `yaml:"users"`
}

// UserYAML represents a user in YAML export.
type UserYAML struct {
	ID        string `yaml:"id"`
	Username  string `yaml:"username"`
	Email     string `yaml:"email"`
	Role      string `yaml:"role"`
	CreatedAt string `yaml:"created_at"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// ImageYAML represents an image record in YAML export. Inline payloads are
// summarized by size and hash, not dumped.
type ImageYAML struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Source     string `yaml:"source"`
	URL        string `yaml:"url,omitempty"`
	MIME       string `yaml:"mime,omitempty"`
	Size       int64  `yaml:"size"`
	Hash       string `yaml:"hash,omitempty"`
	UploadedBy string `yaml:"uploaded_by,omitempty"`
	CreatedAt  string `yaml:"created_at"`
}

// ImagesExport is the top-level YAML for image export.
type ImagesExport struct {
	Images []ImageYAML `yaml:"images"`
}

const exportTimeLayout = "2006-01-02T15:04:05Z"

// LoadUsersFromYAML reads a users YAML file and creates the missing accounts.
func (s *Server) LoadUsersFromYAML(ctx context.Context, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from operator-provided CLI config
	if err != nil {
		return fmt.Errorf("read users config: %w", err)
	}
	return s.ImportUsersFromYAML(ctx, data)
}

// ImportUsersFromYAML parses YAML data and creates accounts whose username is
// not taken yet. Existing accounts are left untouched.
func (s *Server) ImportUsersFromYAML(ctx context.Context, data []byte) error {
	var cfg UsersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse users config: %w", err)
	}

	created := 0
	for _, u := range cfg.Users {
		ok, err := s.ensureUser(ctx, u)
		if err != nil {
			slog.Error("failed to create user from config", "username", u.Username, "err", err)
			continue
		}
		if ok {
			created++
		}
	}

	slog.Info("imported users from YAML", "count", len(cfg.Users), "created", created)
	return nil
}

func (s *Server) ensureUser(ctx context.Context, u SeedUserYAML) (bool, error) {
	existing, err := s.store.GetUserByUsername(ctx, u.Username)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	if len(u.Password) < MinPasswordLength {
		return false, fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	role := model.Role("")
	if u.Role != "" {
		role = model.Role(strings.ToLower(strings.TrimSpace(u.Role)))
		if !role.Valid() {
			return false, model.ErrInvalidRole
		}
	}
	if _, err := s.createAccount(ctx, u.Username, u.Email, u.Password, role); err != nil {
		if errors.Is(err, datastore.ErrDuplicateUser) {
			return false, nil
		}
		return false, err
	}
	slog.Debug("created user from config", "username", u.Username)
	return true, nil
}

// ExportUsersYAML exports all users as YAML.
func ExportUsersYAML(ctx context.Context, st datastore.UserReadProvider) ([]byte, error) {
	users, err := st.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	export := UsersExport{}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			ID:        u.ID,
			Username:  u.Username,
			Email:     u.Email,
			Role:      u.Role.String(),
			CreatedAt: u.CreatedAt.UTC().Format(exportTimeLayout),
		})
	}
	return yaml.Marshal(&export)
}

// ExportImagesYAML exports every image record as YAML, newest first.
func ExportImagesYAML(ctx context.Context, st datastore.ImageReadProvider) ([]byte, error) {
	const batch = 100

	export := ImagesExport{}
	for offset := 0; ; offset += batch {
		imgs, total, err := st.ListImages(ctx, offset, batch)
		if err != nil {
			return nil, err
		}
		for _, img := range imgs {
			entry := ImageYAML{
				ID:        img.ID,
				Name:      img.DisplayName,
				Source:    img.Source.Kind().String(),
				MIME:      img.MIME,
				Size:      img.Size,
				Hash:      img.Hash,
				CreatedAt: img.CreatedAt.UTC().Format(exportTimeLayout),
			}
			if img.Source.Kind() == model.SourceLinked {
				entry.URL = img.Source.URL()
			}
			if img.Uploader != nil {
				entry.UploadedBy = img.Uploader.Username
			}
			export.Images = append(export.Images, entry)
		}
		if len(imgs) == 0 || offset+batch >= total {
			break
		}
	}
	return yaml.Marshal(&export)
}

// handleExport serves the users or images YAML export to admins.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var (
		data []byte
		err  error
	)
	switch kind := mux.Vars(r)["kind"]; kind {
	case "users":
		data, err = ExportUsersYAML(r.Context(), s.store)
	case "images":
		data, err = ExportImagesYAML(r.Context(), s.store)
	default:
		writeError(w, http.StatusNotFound, "unknown export "+kind)
		return
	}
	if err != nil {
		slog.Error("export", "err", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}
