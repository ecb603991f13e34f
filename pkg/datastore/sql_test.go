package datastore_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NicolasHaas/pixgallery/pkg/crypto"
	"github.com/NicolasHaas/pixgallery/pkg/datastore"
	"github.com/NicolasHaas/pixgallery/pkg/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func NewTestSqlConn(t *testing.T) (*datastore.SQLStore, error) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	st, err := datastore.NewSQLite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("store_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return st, nil
}

// stores returns every DataStore implementation under test. PostgreSQL joins
// when PIXGALLERY_TEST_POSTGRES_URL points at a scratch database.
func stores(t *testing.T) map[string]func(t *testing.T) datastore.DataStore {
	t.Helper()
	m := map[string]func(t *testing.T) datastore.DataStore{
		"sqlite": func(t *testing.T) datastore.DataStore {
			st, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}
			return st
		},
		"memory": func(t *testing.T) datastore.DataStore {
			return datastore.NewMemory()
		},
	}
	if url := os.Getenv("PIXGALLERY_TEST_POSTGRES_URL"); url != "" {
		m["postgres"] = func(t *testing.T) datastore.DataStore {
			st, err := datastore.NewPostgres(context.Background(), url)
			if err != nil {
				t.Fatalf("failed to open postgres: %v", err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		}
	}
	return m
}

func newAccount(t *testing.T, username, email string, role model.Role) *model.Account {
	t.Helper()
	salt, err := crypto.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	return &model.Account{
		User:         model.User{Username: username, Email: email, Role: role},
		PasswordHash: crypto.HashPassword("pw", salt),
		Salt:         salt,
	}
}

func TestCreateUser(t *testing.T) {
	t.Parallel()

	type tcase struct {
		username  string
		email     string
		role      model.Role
		expectErr bool
	}

	tcases := map[string]tcase{
		"minimum_required_fields": {
			username: "johndoe",
			email:    "john@example.com",
			role:     model.RoleUser,
		},
		"admin": {
			username: "root",
			email:    "root@example.com",
			role:     model.RoleAdmin,
		},
		"default_role": {
			username: "plain",
			email:    "plain@example.com",
		},
		"injection_username": { // SQL injection contains invalid chars (quotes, spaces, equals)
			username:  "' OR '1'='1",
			email:     "x@example.com",
			role:      model.RoleAdmin,
			expectErr: true,
		},
		"empty_username": {
			username:  "",
			email:     "x@example.com",
			role:      model.RoleUser,
			expectErr: true,
		},
		"full_username": { // 65 characters is too long
			username:  "24433252080542468109190329288548376491503980265648043643151614656",
			email:     "x@example.com",
			role:      model.RoleUser,
			expectErr: true,
		},
		"bad_email": {
			username:  "janedoe",
			email:     "not-an-email",
			role:      model.RoleUser,
			expectErr: true,
		},
		"over_privileged": { // role does not exist
			username:  "janedoe",
			email:     "jane@example.com",
			role:      model.Role("superuser"),
			expectErr: true,
		},
	}

	for storeName, open := range stores(t) {
		fn := func(tc tcase) func(*testing.T) {
			return func(t *testing.T) {
				st := open(t)
				ctx := context.Background()

				acc := newAccount(t, tc.username, tc.email, tc.role)
				err := st.CreateUser(ctx, acc)
				if tc.expectErr {
					if err == nil {
						t.Fatalf("CreateUser: expected error, got nil")
					}
					return
				}
				if err != nil {
					t.Fatalf("CreateUser: unexpected error: %v", err)
				}

				got, err := st.GetUserByID(ctx, acc.ID)
				if err != nil {
					t.Fatalf("GetUserByID: %v", err)
				}
				if diff := cmp.Diff(acc, got); diff != "" {
					t.Errorf("%s CreateUser round trip mismatch (-want +got):\n%s", storeName, diff)
				}
				if tc.role == "" && got.Role != model.RoleUser {
					t.Errorf("default role = %q, want user", got.Role)
				}
			}
		}

		for name, tc := range tcases {
			t.Run(storeName+"/"+name, fn(tc))
		}
	}
}

func TestUserLookups(t *testing.T) {
	for storeName, open := range stores(t) {
		t.Run(storeName, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			acc := newAccount(t, "johndoe", "John@Example.com", model.RoleUser)
			if err := st.CreateUser(ctx, acc); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}
			if acc.Email != "john@example.com" {
				t.Errorf("email not normalized: %q", acc.Email)
			}

			byEmail, err := st.GetUserByEmail(ctx, " JOHN@example.COM ")
			if err != nil || byEmail == nil || byEmail.ID != acc.ID {
				t.Fatalf("GetUserByEmail = %+v, %v", byEmail, err)
			}
			byName, err := st.GetUserByUsername(ctx, "johndoe")
			if err != nil || byName == nil || byName.ID != acc.ID {
				t.Fatalf("GetUserByUsername = %+v, %v", byName, err)
			}

			missing, err := st.GetUserByUsername(ctx, "janedoe")
			if err != nil || missing != nil {
				t.Errorf("GetUserByUsername(missing) = %+v, %v; want nil, nil", missing, err)
			}

			dup := newAccount(t, "johndoe", "other@example.com", model.RoleUser)
			if err := st.CreateUser(ctx, dup); !errors.Is(err, datastore.ErrDuplicateUser) {
				t.Errorf("duplicate username: err = %v", err)
			}
			dup = newAccount(t, "other", "john@example.com", model.RoleUser)
			if err := st.CreateUser(ctx, dup); !errors.Is(err, datastore.ErrDuplicateUser) {
				t.Errorf("duplicate email: err = %v", err)
			}

			if err := st.UpdateUserRole(ctx, acc.ID, model.RoleAdmin); err != nil {
				t.Fatalf("UpdateUserRole: %v", err)
			}
			if err := st.UpdateUserRole(ctx, acc.ID, model.Role("root")); err == nil {
				t.Error("UpdateUserRole accepted an invalid role")
			}
			got, _ := st.GetUserByID(ctx, acc.ID)
			if got.Role != model.RoleAdmin {
				t.Errorf("role = %q after update", got.Role)
			}

			n, err := st.CountUsers(ctx)
			if err != nil || n != 1 {
				t.Errorf("CountUsers = %d, %v", n, err)
			}
			users, err := st.ListUsers(ctx)
			if err != nil || len(users) != 1 {
				t.Errorf("ListUsers = %d, %v", len(users), err)
			}
		})
	}
}

func TestSessions(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	for storeName, open := range stores(t) {
		t.Run(storeName, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			acc := newAccount(t, "johndoe", "john@example.com", model.RoleUser)
			if err := st.CreateUser(ctx, acc); err != nil {
				t.Fatalf("CreateUser: %v", err)
			}

			live := &model.SessionToken{Hash: crypto.HashToken("live"), UserID: acc.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
			stale := &model.SessionToken{Hash: crypto.HashToken("stale"), UserID: acc.ID, ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour)}
			forever := &model.SessionToken{Hash: crypto.HashToken("forever"), UserID: acc.ID, CreatedAt: now}
			for _, tok := range []*model.SessionToken{live, stale, forever} {
				if err := st.CreateSession(ctx, tok); err != nil {
					t.Fatalf("CreateSession: %v", err)
				}
			}

			got, err := st.GetSession(ctx, live.Hash)
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if diff := cmp.Diff(live, got); diff != "" {
				t.Errorf("GetSession mismatch (-want +got):\n%s", diff)
			}

			n, err := st.PurgeExpiredSessions(ctx, now)
			if err != nil || n != 1 {
				t.Errorf("PurgeExpiredSessions = %d, %v; want 1", n, err)
			}
			if got, _ := st.GetSession(ctx, stale.Hash); got != nil {
				t.Error("expired session survived purge")
			}
			if got, _ := st.GetSession(ctx, forever.Hash); got == nil {
				t.Error("non-expiring session was purged")
			}

			if err := st.DeleteSession(ctx, live.Hash); err != nil {
				t.Fatalf("DeleteSession: %v", err)
			}
			if got, _ := st.GetSession(ctx, live.Hash); got != nil {
				t.Error("session survived delete")
			}
		})
	}
}

func TestImages(t *testing.T) {
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	uploader := &model.Uploader{ID: "u1", Username: "ann", Email: "ann@example.com"}

	for storeName, open := range stores(t) {
		t.Run(storeName, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			linked := &model.Image{
				DisplayName: "cat.png",
				Source:      model.Linked("/uploads/cat.png"),
				MIME:        "image/png",
				Size:        3,
				Hash:        "h1",
				Uploader:    uploader,
				CreatedAt:   base,
			}
			inline := &model.Image{
				DisplayName: "dot.gif",
				Source:      model.Inline([]byte("GIF"), "image/gif"),
				MIME:        "image/gif",
				Size:        3,
				CreatedAt:   base.Add(time.Minute),
			}
			for _, img := range []*model.Image{linked, inline} {
				if err := st.CreateImage(ctx, img); err != nil {
					t.Fatalf("CreateImage: %v", err)
				}
				if img.ID == "" {
					t.Fatal("CreateImage did not assign an ID")
				}
			}

			if err := st.CreateImage(ctx, &model.Image{DisplayName: "nothing"}); err == nil {
				t.Error("CreateImage accepted an image without a source")
			}

			got, err := st.GetImage(ctx, linked.ID)
			if err != nil {
				t.Fatalf("GetImage: %v", err)
			}
			if diff := cmp.Diff(linked, got); diff != "" {
				t.Errorf("GetImage mismatch (-want +got):\n%s", diff)
			}

			page, total, err := st.ListImages(ctx, 0, 10)
			if err != nil {
				t.Fatalf("ListImages: %v", err)
			}
			if total != 2 {
				t.Errorf("total = %d, want 2", total)
			}
			if diff := cmp.Diff([]model.Image{*inline, *linked}, page); diff != "" {
				t.Errorf("ListImages mismatch (-want +got):\n%s", diff)
			}

			page, _, err = st.ListImages(ctx, 1, 1)
			if err != nil || len(page) != 1 || page[0].ID != linked.ID {
				t.Errorf("ListImages(offset 1) = %+v, %v", page, err)
			}

			ok, err := st.DeleteImage(ctx, linked.ID)
			if err != nil || !ok {
				t.Fatalf("DeleteImage = %v, %v", ok, err)
			}
			ok, err = st.DeleteImage(ctx, linked.ID)
			if err != nil || ok {
				t.Errorf("second DeleteImage = %v, %v; want false", ok, err)
			}
			if got, _ := st.GetImage(ctx, linked.ID); got != nil {
				t.Error("image survived delete")
			}
		})
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "again.db")
	for i := 0; i < 2; i++ {
		st, err := datastore.NewSQLite(dbPath)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		if err := st.CreateUser(context.Background(), newAccount(t, fmt.Sprintf("user%d", i), fmt.Sprintf("u%d@example.com", i), model.RoleUser)); err != nil {
			t.Fatalf("CreateUser #%d: %v", i+1, err)
		}
		_ = st.Close()
	}
}

func TestListImagesEmpty(t *testing.T) {
	for storeName, open := range stores(t) {
		st := open(t)
		page, total, err := st.ListImages(context.Background(), 0, 0)
		if err != nil || total != 0 {
			t.Fatalf("%s ListImages = %v, %d", storeName, err, total)
		}
		if diff := cmp.Diff([]model.Image{}, page, cmpopts.EquateEmpty()); diff != "" || page == nil {
			t.Errorf("%s ListImages should be empty and non-nil: %v", storeName, page)
		}
	}
}
