package crypto_test

import (
	"testing"

	"github.com/NicolasHaas/pixgallery/pkg/crypto"
)

func TestGenerateToken(t *testing.T) {
	a, err := crypto.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, _ := crypto.GenerateToken()
	if len(a) != 64 {
		t.Errorf("token length = %d, want 64", len(a))
	}
	if a == b {
		t.Error("two tokens are equal")
	}
}

func TestHashToken(t *testing.T) {
	const want = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	if got := crypto.HashToken("test"); got != want {
		t.Errorf("HashToken(test) = %s, want %s", got, want)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	if len(salt) != crypto.SaltSize {
		t.Fatalf("salt length = %d", len(salt))
	}
	hash := crypto.HashPassword("hunter2", salt)

	tests := []struct {
		name     string
		password string
		salt     []byte
		hash     []byte
		want     bool
	}{
		{name: "correct", password: "hunter2", salt: salt, hash: hash, want: true},
		{name: "wrong_password", password: "hunter3", salt: salt, hash: hash},
		{name: "wrong_salt", password: "hunter2", salt: make([]byte, crypto.SaltSize), hash: hash},
		{name: "empty_hash", password: "hunter2", salt: salt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := crypto.VerifyPassword(tt.password, tt.salt, tt.hash); got != tt.want {
				t.Errorf("VerifyPassword = %v, want %v", got, tt.want)
			}
		})
	}
}
