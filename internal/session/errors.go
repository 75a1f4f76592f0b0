package session

import (
	"errors"
	"fmt"
)

var (
	ErrNoSession = errors.New("no active user session")
	ErrClosed    = errors.New("session coordinator closed")
)

// SessionExpiredError means the refresh token itself was refused or could not
// be exchanged. The session is over until the next login.
type SessionExpiredError struct {
	Err error
}

func (e *SessionExpiredError) Error() string {
	if e.Err == nil {
		return "session expired"
	}
	return fmt.Sprintf("session expired: %v", e.Err)
}

func (e *SessionExpiredError) Unwrap() error { return e.Err }

func IsSessionExpired(err error) bool {
	var expired *SessionExpiredError
	return errors.As(err, &expired)
}
