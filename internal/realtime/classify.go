package realtime

import (
	"context"
	"errors"
	"strings"
)

type ErrorKind string

const (
	ErrorTransport ErrorKind = "transport"
	ErrorAuth      ErrorKind = "auth"
)

// Action is what the owner of a channel should do about a failure.
type Action string

const (
	ActionRetry              Action = "retry"
	ActionRefreshCredentials Action = "refresh_credentials"
)

// DefaultAuthMarkers are matched case-insensitively against error frame text.
var DefaultAuthMarkers = []string{
	"unauthorized",
	"jwt expired",
	"invalid token",
	"token expired",
	"expired token",
	"invalid jwt",
	"authentication failed",
}

// Classifier decides whether a failure is an authentication problem. The zero
// value uses DefaultAuthMarkers.
type Classifier struct {
	Markers []string
}

func (c Classifier) markers() []string {
	if len(c.Markers) == 0 {
		return DefaultAuthMarkers
	}
	return c.Markers
}

func (c Classifier) Classify(text string) ErrorKind {
	lowered := strings.ToLower(text)
	for _, marker := range c.markers() {
		m := strings.ToLower(strings.TrimSpace(marker))
		if m != "" && strings.Contains(lowered, m) {
			return ErrorAuth
		}
	}
	return ErrorTransport
}

func (c Classifier) ClassifyErr(err error) ErrorKind {
	if err == nil {
		return ErrorTransport
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransport
	}
	var handshake *HandshakeError
	if errors.As(err, &handshake) {
		if unauthorizedStatus(handshake.StatusCode) {
			return ErrorAuth
		}
		return ErrorTransport
	}
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return c.Classify(frameErr.Text())
	}
	return c.Classify(err.Error())
}

// Action maps error text to the reaction: auth problems need fresh
// credentials, everything else is left to the transport retry.
func (c Classifier) Action(text string) Action {
	if c.Classify(text) == ErrorAuth {
		return ActionRefreshCredentials
	}
	return ActionRetry
}
