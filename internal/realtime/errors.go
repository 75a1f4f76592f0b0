package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrNotConnected = errors.New("channel not connected")

// HandshakeError is a non-101 answer to the websocket upgrade.
type HandshakeError struct {
	StatusCode int
	Status     string
}

func (e *HandshakeError) Error() string {
	if e == nil {
		return "websocket handshake failed"
	}
	if e.Status != "" {
		return "websocket handshake failed: " + e.Status
	}
	return fmt.Sprintf("websocket handshake failed: http status %d", e.StatusCode)
}

// FrameError is a STOMP ERROR frame, received either in answer to CONNECT or
// mid-session.
type FrameError struct {
	Message string
	Body    string
}

func (e *FrameError) Error() string {
	if e == nil {
		return "stomp error frame"
	}
	return "stomp error: " + e.Text()
}

// Text is the message header and body joined, which is what auth markers are
// matched against.
func (e *FrameError) Text() string {
	parts := make([]string, 0, 2)
	if m := strings.TrimSpace(e.Message); m != "" {
		parts = append(parts, m)
	}
	if b := strings.TrimSpace(e.Body); b != "" {
		parts = append(parts, b)
	}
	return strings.Join(parts, ": ")
}

// AuthError means the channel's credential was refused. It is never retried
// with the same token.
type AuthError struct {
	Identity Identity
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s channel authentication failed: %v", e.Identity, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DecodeError is an inbound MESSAGE whose body is not JSON.
type DecodeError struct {
	Identity    Identity
	Destination string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s channel: malformed payload on %s: %v", e.Identity, e.Destination, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func IsAuthFailure(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

func unauthorizedStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
