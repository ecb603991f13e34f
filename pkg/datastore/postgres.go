package datastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NicolasHaas/pixgallery/pkg/model"
)

const pgUniqueViolation = "23505"

// PostgresStore is the PostgreSQL DataStore.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres connects to databaseURL and creates the schema if needed.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("datastore: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("datastore: ping postgres: %w", err)
	}
	s := NewPostgresWithPool(pool)
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// NewPostgresWithPool wraps an existing pool without running migrations.
func NewPostgresWithPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE CHECK (length(username) BETWEEN 1 AND 32),
		email         TEXT NOT NULL UNIQUE,
		role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
		password_hash BYTEA NOT NULL,
		salt          BYTEA NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sessions (
		hash       TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS images (
		seq               BIGSERIAL,
		id                TEXT PRIMARY KEY,
		display_name      TEXT    NOT NULL DEFAULT '',
		source_kind       INTEGER NOT NULL,
		source_url        TEXT    NOT NULL DEFAULT '',
		source_data       BYTEA,
		source_mime       TEXT    NOT NULL DEFAULT '',
		mime              TEXT    NOT NULL DEFAULT '',
		size              BIGINT  NOT NULL DEFAULT 0,
		hash              TEXT    NOT NULL DEFAULT '',
		uploader_id       TEXT    NOT NULL DEFAULT '',
		uploader_username TEXT    NOT NULL DEFAULT '',
		uploader_email    TEXT    NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_images_hash ON images(hash);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`)
	return err
}

// ---- Users ----

func scanPgAccount(row pgx.Row) (*model.Account, error) {
	acc := &model.Account{}
	var role string
	if err := row.Scan(&acc.ID, &acc.Username, &acc.Email, &role, &acc.PasswordHash, &acc.Salt, &acc.CreatedAt); err != nil {
		return nil, err
	}
	acc.Role = model.Role(role)
	acc.CreatedAt = acc.CreatedAt.UTC()
	return acc, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, acc *model.Account) error {
	if err := prepareAccount(acc, s.now()); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, acc.ID, acc.Username, acc.Email, string(acc.Role), acc.PasswordHash, acc.Salt, acc.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (*model.Account, error) {
	acc, err := scanPgAccount(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE "+where+" = $1", arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	return acc, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*model.Account, error) {
	return s.getUser(ctx, "id", id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.getUser(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.getUser(ctx, "username", username)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer rows.Close()

	var users []model.Account
	for rows.Next() {
		acc, err := scanPgAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		users = append(users, *acc)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("datastore: count users: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, id string, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("datastore: update user role: %w", model.ErrInvalidRole)
	}
	if _, err := s.pool.Exec(ctx, "UPDATE users SET role = $1 WHERE id = $2", string(role), id); err != nil {
		return fmt.Errorf("datastore: update user role: %w", err)
	}
	return nil
}

// ---- Sessions ----

func (s *PostgresStore) CreateSession(ctx context.Context, tok *model.SessionToken) error {
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now()
	}
	var exp *time.Time
	if !tok.ExpiresAt.IsZero() {
		exp = &tok.ExpiresAt
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO sessions (hash, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)",
		tok.Hash, tok.UserID, exp, tok.CreatedAt)
	if err != nil {
		return fmt.Errorf("datastore: create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, hash string) (*model.SessionToken, error) {
	tok := &model.SessionToken{Hash: hash}
	var exp *time.Time
	err := s.pool.QueryRow(ctx, "SELECT user_id, expires_at, created_at FROM sessions WHERE hash = $1", hash).
		Scan(&tok.UserID, &exp, &tok.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get session: %w", err)
	}
	if exp != nil {
		tok.ExpiresAt = exp.UTC()
	}
	tok.CreatedAt = tok.CreatedAt.UTC()
	return tok, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, hash string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE hash = $1", hash); err != nil {
		return fmt.Errorf("datastore: delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at < $1", now)
	if err != nil {
		return 0, fmt.Errorf("datastore: purge sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---- Images ----

func scanPgImage(row pgx.Row) (*model.Image, error) {
	img := &model.Image{}
	var kind int
	var srcURL, srcMime, upID, upName, upEmail string
	var srcData []byte
	if err := row.Scan(&img.ID, &img.DisplayName, &kind, &srcURL, &srcData, &srcMime, &img.MIME, &img.Size, &img.Hash,
		&upID, &upName, &upEmail, &img.CreatedAt, &img.UpdatedAt); err != nil {
		return nil, err
	}
	img.Source = sourceFromColumns(kind, srcURL, srcData, srcMime)
	img.Uploader = uploaderFromColumns(upID, upName, upEmail)
	img.CreatedAt = img.CreatedAt.UTC()
	img.UpdatedAt = img.UpdatedAt.UTC()
	return img, nil
}

func (s *PostgresStore) CreateImage(ctx context.Context, img *model.Image) error {
	if err := prepareImage(img, s.now()); err != nil {
		return fmt.Errorf("datastore: create image: %w", err)
	}
	kind, srcURL, srcData, srcMime := sourceColumns(img.Source)
	upID, upName, upEmail := uploaderColumns(img.Uploader)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO images (`+imageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, img.ID, img.DisplayName, kind, srcURL, srcData, srcMime, img.MIME, img.Size, img.Hash,
		upID, upName, upEmail, img.CreatedAt, img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("datastore: create image: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetImage(ctx context.Context, id string) (*model.Image, error) {
	img, err := scanPgImage(s.pool.QueryRow(ctx, "SELECT "+imageColumns+" FROM images WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get image: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) ListImages(ctx context.Context, offset, limit int) ([]model.Image, int, error) {
	offset, limit = normalizePage(offset, limit)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM images").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("datastore: count images: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT "+imageColumns+" FROM images ORDER BY created_at DESC, seq DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("datastore: list images: %w", err)
	}
	defer rows.Close()

	imgs := []model.Image{}
	for rows.Next() {
		img, err := scanPgImage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("datastore: scan image: %w", err)
		}
		imgs = append(imgs, *img)
	}
	return imgs, total, rows.Err()
}

func (s *PostgresStore) DeleteImage(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM images WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("datastore: delete image: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
