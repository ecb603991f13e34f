package datastore

import (
	"context"
	"time"

	"github.com/NicolasHaas/pixgallery/pkg/model"
)

// DataStore defines the persistence interface of the reference backend.
// Implementations: SQLite (default), PostgreSQL and an in-memory store.
//
// Lookups return (nil, nil) when nothing matches.
type DataStore interface {
	ConfigReadProvider

	UserReadProvider
	UserWriteProvider

	SessionReadProvider
	SessionWriteProvider

	ImageReadProvider
	ImageWriteProvider
}

// Compile-time checks.
var (
	_ DataStore = (*SQLStore)(nil)
	_ DataStore = (*PostgresStore)(nil)
	_ DataStore = (*MemoryStore)(nil)
)

type ConfigReadProvider interface {
	Close() error
}

type UserReadProvider interface {
	GetUserByID(ctx context.Context, id string) (*model.Account, error)
	GetUserByEmail(ctx context.Context, email string) (*model.Account, error)
	GetUserByUsername(ctx context.Context, username string) (*model.Account, error)
	ListUsers(ctx context.Context) ([]model.Account, error)
	CountUsers(ctx context.Context) (int, error)
}

type UserWriteProvider interface {
	// CreateUser validates and stores acc, assigning ID and CreatedAt when
	// they are empty.
	CreateUser(ctx context.Context, acc *model.Account) error
	UpdateUserRole(ctx context.Context, id string, role model.Role) error
}

type SessionReadProvider interface {
	// GetSession returns the token for hash, expired or not.
	GetSession(ctx context.Context, hash string) (*model.SessionToken, error)
}

type SessionWriteProvider interface {
	CreateSession(ctx context.Context, tok *model.SessionToken) error
	DeleteSession(ctx context.Context, hash string) error
	// PurgeExpiredSessions removes tokens that expired before now and
	// returns how many were removed.
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

type ImageReadProvider interface {
	GetImage(ctx context.Context, id string) (*model.Image, error)
	// ListImages returns one page, newest first, and the total count.
	ListImages(ctx context.Context, offset, limit int) ([]model.Image, int, error)
}

type ImageWriteProvider interface {
	// CreateImage stores img, assigning ID and timestamps when empty.
	CreateImage(ctx context.Context, img *model.Image) error
	// DeleteImage reports whether a record was removed.
	DeleteImage(ctx context.Context, id string) (bool, error)
}
