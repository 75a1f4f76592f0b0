package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	got, ok := TokenExpiry(signedToken(t, exp))
	if !ok || !got.Equal(exp) {
		t.Fatalf("TokenExpiry() = %v, %v; want %v, true", got, ok, exp)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	for _, token := range []string{"", "opaque-token", noExp} {
		if _, ok := TokenExpiry(token); ok {
			t.Fatalf("TokenExpiry(%q) ok = true, want false", token)
		}
	}
}

func TestTokenExpiry_AlreadyExpiredStillParses(t *testing.T) {
	exp := time.Now().Add(-time.Hour).Truncate(time.Second)
	if got, ok := TokenExpiry(signedToken(t, exp)); !ok || !got.Equal(exp) {
		t.Fatalf("TokenExpiry() = %v, %v", got, ok)
	}
}

func TestRefreshDelay(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		exp  time.Time
		lead time.Duration
		want time.Duration
	}{
		{exp: now.Add(10 * time.Minute), lead: 30 * time.Second, want: 9*time.Minute + 30*time.Second},
		{exp: now.Add(10 * time.Second), lead: 30 * time.Second, want: 0},
		{exp: now.Add(-time.Minute), lead: 0, want: 0},
	}
	for _, tt := range tests {
		if got := refreshDelay(tt.exp, now, tt.lead); got != tt.want {
			t.Fatalf("refreshDelay(%v, %v) = %v, want %v", tt.exp.Sub(now), tt.lead, got, tt.want)
		}
	}
}
