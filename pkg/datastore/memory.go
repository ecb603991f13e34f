package datastore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/pixgallery/pkg/model"
)

// MemoryStore is an in-memory DataStore for tests and throwaway servers.
// It mirrors SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time
	seq int64

	usersByID  map[string]*model.Account
	sessions   map[string]*model.SessionToken
	imagesByID map[string]*memoryImage
}

type memoryImage struct {
	img model.Image
	seq int64
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:        now,
		usersByID:  make(map[string]*model.Account),
		sessions:   make(map[string]*model.SessionToken),
		imagesByID: make(map[string]*memoryImage),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func copyAccount(acc *model.Account) *model.Account {
	c := *acc
	c.PasswordHash = append([]byte(nil), acc.PasswordHash...)
	c.Salt = append([]byte(nil), acc.Salt...)
	return &c
}

// ---- Users ----

func (s *MemoryStore) CreateUser(_ context.Context, acc *model.Account) error {
	if err := prepareAccount(acc, s.now()); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.usersByID {
		if u.ID == acc.ID || u.Username == acc.Username || u.Email == acc.Email {
			return ErrDuplicateUser
		}
	}
	s.seq++
	s.usersByID[acc.ID] = copyAccount(acc)
	return nil
}

func (s *MemoryStore) findUser(match func(*model.Account) bool) *model.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.usersByID {
		if match(u) {
			return copyAccount(u)
		}
	}
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*model.Account, error) {
	return s.findUser(func(u *model.Account) bool { return u.ID == id }), nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.findUser(func(u *model.Account) bool { return u.Email == email }), nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.Account, error) {
	return s.findUser(func(u *model.Account) bool { return u.Username == username }), nil
}

func (s *MemoryStore) ListUsers(context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.Account, 0, len(s.usersByID))
	for _, u := range s.usersByID {
		users = append(users, *copyAccount(u))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Username < users[j].Username
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (s *MemoryStore) CountUsers(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.usersByID), nil
}

func (s *MemoryStore) UpdateUserRole(_ context.Context, id string, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("datastore: update user role: %w", model.ErrInvalidRole)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usersByID[id]; ok {
		u.Role = role
	}
	return nil
}

// ---- Sessions ----

func (s *MemoryStore) CreateSession(_ context.Context, tok *model.SessionToken) error {
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByID[tok.UserID]; !ok {
		return fmt.Errorf("datastore: create session: FOREIGN KEY constraint failed")
	}
	if _, ok := s.sessions[tok.Hash]; ok {
		return fmt.Errorf("datastore: create session: UNIQUE constraint failed: sessions.hash")
	}
	c := *tok
	s.sessions[tok.Hash] = &c
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, hash string) (*model.SessionToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.sessions[hash]
	if !ok {
		return nil, nil
	}
	c := *tok
	return &c, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, hash)
	return nil
}

func (s *MemoryStore) PurgeExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, tok := range s.sessions {
		if tok.IsExpired(now) {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

// ---- Images ----

func (s *MemoryStore) CreateImage(_ context.Context, img *model.Image) error {
	if err := prepareImage(img, s.now()); err != nil {
		return fmt.Errorf("datastore: create image: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.imagesByID[img.ID]; ok {
		return fmt.Errorf("datastore: create image: UNIQUE constraint failed: images.id")
	}
	s.seq++
	s.imagesByID[img.ID] = &memoryImage{img: copyImage(*img), seq: s.seq}
	return nil
}

func copyImage(img model.Image) model.Image {
	if img.Uploader != nil {
		u := *img.Uploader
		img.Uploader = &u
	}
	return img
}

func (s *MemoryStore) GetImage(_ context.Context, id string) (*model.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.imagesByID[id]
	if !ok {
		return nil, nil
	}
	img := copyImage(m.img)
	return &img, nil
}

func (s *MemoryStore) ListImages(_ context.Context, offset, limit int) ([]model.Image, int, error) {
	offset, limit = normalizePage(offset, limit)

	s.mu.RLock()
	all := make([]*memoryImage, 0, len(s.imagesByID))
	for _, m := range s.imagesByID {
		all = append(all, m)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].img.CreatedAt.Equal(all[j].img.CreatedAt) {
			return all[i].img.CreatedAt.After(all[j].img.CreatedAt)
		}
		return all[i].seq > all[j].seq
	})

	imgs := []model.Image{}
	for i := offset; i < len(all) && i < offset+limit; i++ {
		imgs = append(imgs, copyImage(all[i].img))
	}
	return imgs, len(all), nil
}

func (s *MemoryStore) DeleteImage(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.imagesByID[id]; !ok {
		return false, nil
	}
	delete(s.imagesByID, id)
	return true, nil
}
