package refresh

import (
	"errors"
	"fmt"
	"net/http"
)

// RefreshError means the backend rejected the refresh token. The session is
// permanently invalid; callers must force a logout rather than retry.
type RefreshError struct {
	StatusCode int
	Status     string
	Reason     string
}

func (e *RefreshError) Error() string {
	if e == nil {
		return "refresh rejected"
	}
	if e.Reason != "" {
		return "refresh rejected: " + e.Reason
	}
	if e.Status != "" {
		return "refresh rejected: " + e.Status
	}
	return fmt.Sprintf("refresh rejected: http status %d", e.StatusCode)
}

func IsRejected(err error) bool {
	var refreshErr *RefreshError
	return errors.As(err, &refreshErr)
}

func rejectedStatus(code int) bool {
	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusGone:
		return true
	default:
		return false
	}
}
