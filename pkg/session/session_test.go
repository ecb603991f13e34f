package session_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/NicolasHaas/pixgallery/pkg/model"
	"github.com/NicolasHaas/pixgallery/pkg/session"

	"github.com/google/go-cmp/cmp"
)

func TestSessionLifecycle(t *testing.T) {
	type tcase struct {
		kv func(t *testing.T) session.KV
	}

	tcases := map[string]tcase{
		"memory": {
			kv: func(t *testing.T) session.KV { return session.NewMemoryKV() },
		},
		"file": {
			kv: func(t *testing.T) session.KV {
				return session.NewFileKV(filepath.Join(t.TempDir(), "nested", "session.yaml"))
			},
		},
	}

	fn := func(tc tcase) func(*testing.T) {
		return func(t *testing.T) {
			kv := tc.kv(t)
			s := session.New(kv)
			if err := s.Init(); err != nil {
				t.Fatalf("Init: %v", err)
			}
			if s.Active() {
				t.Fatalf("fresh session should not be active")
			}

			user := &model.User{ID: "1", Username: "a", Email: "a@x.io", Role: model.RoleAdmin}
			if err := s.Begin("T", user); err != nil {
				t.Fatalf("Begin: %v", err)
			}

			reloaded := session.New(kv)
			if err := reloaded.Init(); err != nil {
				t.Fatalf("Init after Begin: %v", err)
			}
			if got := reloaded.Token(); got != "T" {
				t.Errorf("Token = %q, want T", got)
			}
			if diff := cmp.Diff(user, reloaded.User()); diff != "" {
				t.Errorf("User mismatch (-want +got):\n%s", diff)
			}

			refreshed := &model.User{ID: "1", Username: "a2", Email: "a@x.io", Role: model.RoleAdmin}
			if err := reloaded.Refresh(refreshed); err != nil {
				t.Fatalf("Refresh: %v", err)
			}
			if got := reloaded.Token(); got != "T" {
				t.Errorf("Refresh changed token to %q", got)
			}

			if err := reloaded.Clear(); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if _, ok, _ := kv.Get(session.TokenKey); ok {
				t.Errorf("token key survived Clear")
			}
			if _, ok, _ := kv.Get(session.UserKey); ok {
				t.Errorf("user key survived Clear")
			}
			if reloaded.Active() || reloaded.User() != nil {
				t.Errorf("session still active after Clear")
			}
		}
	}

	for name, tc := range tcases {
		t.Run(name, fn(tc))
	}
}

func TestBeginWithoutTokenKeepsExisting(t *testing.T) {
	s := session.New(session.NewMemoryKV())
	if err := s.Begin("first", &model.User{ID: "1", Role: model.RoleUser}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.Begin("", &model.User{ID: "2", Role: model.RoleUser}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if got := s.Token(); got != "first" {
		t.Errorf("Token = %q, want first", got)
	}
	if got := s.User().ID; got != "2" {
		t.Errorf("User.ID = %q, want 2", got)
	}
}

func TestInitDropsCorruptUser(t *testing.T) {
	kv := session.NewMemoryKV()
	_ = kv.Set(session.TokenKey, "T")
	_ = kv.Set(session.UserKey, "{not json")

	s := session.New(kv)
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if s.User() != nil {
		t.Errorf("expected corrupt user to be dropped")
	}
	if s.Active() {
		t.Errorf("session without user should not be active")
	}
}

func TestFileKVPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	kv := session.NewFileKV(path)
	if err := kv.Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}
