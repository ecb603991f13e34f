package model

import "time"

// SessionToken is a backend login session. Only the SHA-256 hash of the
// bearer token is stored.
type SessionToken struct {
	Hash      string    `json:"-"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the token is past its expiry at now. A zero
// expiry never expires.
func (t *SessionToken) IsExpired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}
