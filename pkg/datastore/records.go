package datastore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/pixgallery/pkg/model"
)

var ErrDuplicateUser = errors.New("datastore: username or email already registered")

const dbTimeLayout = "2006-01-02 15:04:05"

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// prepareAccount validates acc and fills defaults before an insert.
func prepareAccount(acc *model.Account, now time.Time) error {
	if err := model.ValidateUsername(acc.Username); err != nil {
		return err
	}
	acc.Email = strings.ToLower(strings.TrimSpace(acc.Email))
	if err := model.ValidateEmail(acc.Email); err != nil {
		return err
	}
	if acc.Role == "" {
		acc.Role = model.RoleUser
	}
	if !acc.Role.Valid() {
		return model.ErrInvalidRole
	}
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.CreatedAt = acc.CreatedAt.UTC().Truncate(time.Second)
	return nil
}

// prepareImage fills defaults before an insert.
func prepareImage(img *model.Image, now time.Time) error {
	if img.Source.Kind() == model.SourceNone {
		return fmt.Errorf("image %q has no source", img.DisplayName)
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = now
	}
	if img.UpdatedAt.IsZero() {
		img.UpdatedAt = img.CreatedAt
	}
	img.CreatedAt = img.CreatedAt.UTC().Truncate(time.Second)
	img.UpdatedAt = img.UpdatedAt.UTC().Truncate(time.Second)
	return nil
}

// sourceColumns flattens a Source into (kind, url, data, mime) columns.
func sourceColumns(src model.Source) (int, string, []byte, string) {
	switch src.Kind() {
	case model.SourceInline:
		data, mime := src.Data()
		return int(model.SourceInline), "", data, mime
	case model.SourceLinked:
		return int(model.SourceLinked), src.URL(), nil, ""
	default:
		return int(model.SourceNone), "", nil, ""
	}
}

func sourceFromColumns(kind int, url string, data []byte, mime string) model.Source {
	switch model.SourceKind(kind) {
	case model.SourceInline:
		return model.Inline(data, mime)
	case model.SourceLinked:
		return model.Linked(url)
	default:
		return model.Source{}
	}
}

func uploaderFromColumns(id, username, email string) *model.Uploader {
	if id == "" && username == "" && email == "" {
		return nil
	}
	return &model.Uploader{ID: id, Username: username, Email: email}
}

func uploaderColumns(u *model.Uploader) (string, string, string) {
	if u == nil {
		return "", "", ""
	}
	return u.ID, u.Username, u.Email
}

func normalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	return offset, limit
}
