package realtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifier_Classify(t *testing.T) {
	tests := []struct {
		text string
		want ErrorKind
	}{
		{text: "Unauthorized", want: ErrorAuth},
		{text: "JWT expired at 2026-01-01T00:00:00Z", want: ErrorAuth},
		{text: "Invalid Token", want: ErrorAuth},
		{text: "access token expired", want: ErrorAuth},
		{text: "broker unavailable", want: ErrorTransport},
		{text: "", want: ErrorTransport},
	}
	for _, tt := range tests {
		if got := (Classifier{}).Classify(tt.text); got != tt.want {
			t.Fatalf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestClassifier_CustomMarkers(t *testing.T) {
	c := Classifier{Markers: []string{"session revoked"}}
	if got := c.Classify("Session Revoked by admin"); got != ErrorAuth {
		t.Fatalf("Classify() = %v, want auth", got)
	}
	if got := c.Classify("unauthorized"); got != ErrorTransport {
		t.Fatalf("Classify() = %v, want transport when markers are replaced", got)
	}
}

func TestClassifier_ClassifyErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ErrorTransport},
		{name: "handshake 401", err: &HandshakeError{StatusCode: 401}, want: ErrorAuth},
		{name: "handshake 403 wrapped", err: fmt.Errorf("dial: %w", &HandshakeError{StatusCode: 403}), want: ErrorAuth},
		{name: "handshake 502", err: &HandshakeError{StatusCode: 502}, want: ErrorTransport},
		{name: "error frame", err: &FrameError{Message: "Unauthorized"}, want: ErrorAuth},
		{name: "error frame body", err: &FrameError{Message: "failed", Body: "jwt expired"}, want: ErrorAuth},
		{name: "plain", err: errors.New("connection refused"), want: ErrorTransport},
		{name: "canceled", err: context.Canceled, want: ErrorTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Classifier{}).ClassifyErr(tt.err); got != tt.want {
				t.Fatalf("ClassifyErr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifier_Action(t *testing.T) {
	if got := (Classifier{}).Action("Unauthorized"); got != ActionRefreshCredentials {
		t.Fatalf("Action() = %v, want refresh", got)
	}
	if got := (Classifier{}).Action("socket reset"); got != ActionRetry {
		t.Fatalf("Action() = %v, want retry", got)
	}
}

func TestIsAuthFailure(t *testing.T) {
	err := fmt.Errorf("run: %w", &AuthError{Identity: Chat, Err: errors.New("x")})
	if !IsAuthFailure(err) {
		t.Fatalf("IsAuthFailure() = false, want true")
	}
	if IsAuthFailure(errors.New("x")) {
		t.Fatalf("IsAuthFailure() = true, want false")
	}
}
