package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/pixgallery/pkg/model"
)

// SQLStore is the SQLite DataStore.
type SQLStore struct {
	DB  *sql.DB
	now func() time.Time
}

// NewSQLite opens (or creates) a SQLite database and runs migrations.
func NewSQLite(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &SQLStore{DB: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.DB.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 32),
		email         TEXT NOT NULL UNIQUE,
		role          TEXT NOT NULL DEFAULT 'user' CHECK(role IN ('user', 'admin')),
		password_hash BLOB NOT NULL,
		salt          BLOB NOT NULL,
		created_at    TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS sessions (
		hash       TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS images (
		id                TEXT PRIMARY KEY,
		display_name      TEXT    NOT NULL DEFAULT '',
		source_kind       INTEGER NOT NULL,
		source_url        TEXT    NOT NULL DEFAULT '',
		source_data       BLOB,
		source_mime       TEXT    NOT NULL DEFAULT '',
		mime              TEXT    NOT NULL DEFAULT '',
		size              INTEGER NOT NULL DEFAULT 0,
		hash              TEXT    NOT NULL DEFAULT '',
		uploader_id       TEXT    NOT NULL DEFAULT '',
		uploader_username TEXT    NOT NULL DEFAULT '',
		uploader_email    TEXT    NOT NULL DEFAULT '',
		created_at        TEXT    NOT NULL DEFAULT (datetime('now')),
		updated_at        TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_images_hash ON images(hash)",
				"CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)",
			},
			ignoreErrors: true,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *SQLStore) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ---- Users ----

const userColumns = "id, username, email, role, password_hash, salt, created_at"

func scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	acc := &model.Account{}
	var role, createdAt string
	if err := row.Scan(&acc.ID, &acc.Username, &acc.Email, &role, &acc.PasswordHash, &acc.Salt, &createdAt); err != nil {
		return nil, err
	}
	acc.Role = model.Role(role)
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, err
	}
	acc.CreatedAt = parsed
	return acc, nil
}

// CreateUser validates and inserts acc.
func (s *SQLStore) CreateUser(ctx context.Context, acc *model.Account) error {
	if err := prepareAccount(acc, s.now()); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		acc.ID, acc.Username, acc.Email, string(acc.Role), acc.PasswordHash, acc.Salt, formatDBTime(acc.CreatedAt))
	if isUniqueViolation(err) {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	return nil
}

func (s *SQLStore) getUser(ctx context.Context, where string, arg any) (*model.Account, error) {
	acc, err := scanAccount(s.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where+" = ?", arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	return acc, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*model.Account, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.getUser(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.getUser(ctx, "username", username)
}

// ListUsers returns all users in creation order.
func (s *SQLStore) ListUsers(ctx context.Context) ([]model.Account, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		users = append(users, *acc)
	}
	return users, rows.Err()
}

// CountUsers returns the number of registered users.
func (s *SQLStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("datastore: count users: %w", err)
	}
	return n, nil
}

// UpdateUserRole changes a user's role.
func (s *SQLStore) UpdateUserRole(ctx context.Context, id string, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("datastore: update user role: %w", model.ErrInvalidRole)
	}
	if _, err := s.DB.ExecContext(ctx, "UPDATE users SET role = ? WHERE id = ?", string(role), id); err != nil {
		return fmt.Errorf("datastore: update user role: %w", err)
	}
	return nil
}

// ---- Sessions ----

// CreateSession stores a token hash.
func (s *SQLStore) CreateSession(ctx context.Context, tok *model.SessionToken) error {
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now()
	}
	var expStr *string
	if !tok.ExpiresAt.IsZero() {
		es := formatDBTime(tok.ExpiresAt)
		expStr = &es
	}
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO sessions (hash, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)",
		tok.Hash, tok.UserID, expStr, formatDBTime(tok.CreatedAt))
	if err != nil {
		return fmt.Errorf("datastore: create session: %w", err)
	}
	return nil
}

// GetSession retrieves a token by hash.
func (s *SQLStore) GetSession(ctx context.Context, hash string) (*model.SessionToken, error) {
	tok := &model.SessionToken{Hash: hash}
	var expiresAt *string
	var createdAt string
	err := s.DB.QueryRowContext(ctx, "SELECT user_id, expires_at, created_at FROM sessions WHERE hash = ?", hash).
		Scan(&tok.UserID, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get session: %w", err)
	}
	if expiresAt != nil {
		if tok.ExpiresAt, err = parseDBTime(*expiresAt); err != nil {
			return nil, fmt.Errorf("datastore: get session: %w", err)
		}
	}
	if tok.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("datastore: get session: %w", err)
	}
	return tok, nil
}

// DeleteSession removes a token.
func (s *SQLStore) DeleteSession(ctx context.Context, hash string) error {
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM sessions WHERE hash = ?", hash); err != nil {
		return fmt.Errorf("datastore: delete session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions removes tokens expired before now.
func (s *SQLStore) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at < ?", formatDBTime(now))
	if err != nil {
		return 0, fmt.Errorf("datastore: purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ---- Images ----

const imageColumns = `id, display_name, source_kind, source_url, source_data, source_mime, mime, size, hash,
	uploader_id, uploader_username, uploader_email, created_at, updated_at`

func scanImage(row interface{ Scan(...any) error }) (*model.Image, error) {
	img := &model.Image{}
	var kind int
	var srcURL, srcMime, upID, upName, upEmail, createdAt, updatedAt string
	var srcData []byte
	if err := row.Scan(&img.ID, &img.DisplayName, &kind, &srcURL, &srcData, &srcMime, &img.MIME, &img.Size, &img.Hash,
		&upID, &upName, &upEmail, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	img.Source = sourceFromColumns(kind, srcURL, srcData, srcMime)
	img.Uploader = uploaderFromColumns(upID, upName, upEmail)
	var err error
	if img.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, err
	}
	if img.UpdatedAt, err = parseDBTime(updatedAt); err != nil {
		return nil, err
	}
	return img, nil
}

// CreateImage inserts img.
func (s *SQLStore) CreateImage(ctx context.Context, img *model.Image) error {
	if err := prepareImage(img, s.now()); err != nil {
		return fmt.Errorf("datastore: create image: %w", err)
	}
	kind, srcURL, srcData, srcMime := sourceColumns(img.Source)
	upID, upName, upEmail := uploaderColumns(img.Uploader)
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO images ("+imageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		img.ID, img.DisplayName, kind, srcURL, srcData, srcMime, img.MIME, img.Size, img.Hash,
		upID, upName, upEmail, formatDBTime(img.CreatedAt), formatDBTime(img.UpdatedAt))
	if err != nil {
		return fmt.Errorf("datastore: create image: %w", err)
	}
	return nil
}

// GetImage retrieves an image by ID.
func (s *SQLStore) GetImage(ctx context.Context, id string) (*model.Image, error) {
	img, err := scanImage(s.DB.QueryRowContext(ctx, "SELECT "+imageColumns+" FROM images WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get image: %w", err)
	}
	return img, nil
}

// ListImages returns one page, newest first, plus the total count.
func (s *SQLStore) ListImages(ctx context.Context, offset, limit int) ([]model.Image, int, error) {
	offset, limit = normalizePage(offset, limit)

	var total int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM images").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("datastore: count images: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+imageColumns+" FROM images ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("datastore: list images: %w", err)
	}
	defer func() { _ = rows.Close() }()

	imgs := []model.Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("datastore: scan image: %w", err)
		}
		imgs = append(imgs, *img)
	}
	return imgs, total, rows.Err()
}

// DeleteImage removes an image by ID.
func (s *SQLStore) DeleteImage(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM images WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("datastore: delete image: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
