package logging

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty", raw: "  ", want: "<empty>"},
		{name: "object", raw: `{"message":"jwt expired"}`, want: "{\n  \"message\": \"jwt expired\"\n}"},
		{name: "quoted object", raw: `"{\"a\":1}"`, want: "{\n  \"a\": 1\n}"},
		{name: "quoted text", raw: `"unauthorized"`, want: "unauthorized"},
		{name: "html kept", raw: `{"to":"<b>"}`, want: "{\n  \"to\": \"<b>\"\n}"},
		{name: "plain text", raw: "bad\ngateway", want: "bad gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Payload([]byte(tt.raw)); got != tt.want {
				t.Fatalf("Payload(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTruncate_ClipsLongBodies(t *testing.T) {
	got := Truncate(strings.Repeat("x", clipLimit+10))
	if len(got) != clipLimit+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("Truncate() length = %d, want clipped with ellipsis", len(got))
	}
}

func TestJSONBlock_EmbeddedJSONStaysInline(t *testing.T) {
	if _, ok := jsonBlock(`ERROR frame: {"message":"expired"}`); ok {
		t.Fatalf("text with embedded JSON should stay inline")
	}
	if _, ok := jsonBlock(errors.New(`{"message":"expired"}`)); !ok {
		t.Fatalf("error holding a JSON object should render as a block")
	}
	if _, ok := jsonBlock(struct{ Topic string }{Topic: "/topic/a"}); !ok {
		t.Fatalf("struct should render as a block")
	}
}

func TestFormatEventLine_BodiesLast(t *testing.T) {
	line := FormatEventLine(Event{
		Time:    time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   slog.LevelWarn,
		Message: "dropping malformed message",
		Fields: map[string]any{
			"frame":       `{"id":1}`,
			"destination": "/topic/feed",
			"channel":     "chat",
		},
	})
	if !strings.HasPrefix(line, "15:04:05 [WARN] dropping malformed message channel=chat destination=/topic/feed frame=") {
		t.Fatalf("FormatEventLine() = %q", line)
	}
}
