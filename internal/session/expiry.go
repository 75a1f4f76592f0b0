package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// Opaque tokens, or JWTs without exp, report false.
func TokenExpiry(token string) (time.Time, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// refreshDelay is how long to wait before refreshing ahead of expiry. Already
// expired tokens refresh immediately.
func refreshDelay(exp, now time.Time, lead time.Duration) time.Duration {
	delay := exp.Sub(now) - lead
	if delay < 0 {
		return 0
	}
	return delay
}
