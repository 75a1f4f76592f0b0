package config

import (
	"testing"
	"time"
)

func TestBuildEndpoints_DerivesFromBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		wantAPI  string
		wantChat string
	}{
		{name: "root host", base: "http://127.0.0.1:8080", wantAPI: "http://127.0.0.1:8080/api", wantChat: "ws://127.0.0.1:8080/ws/chat"},
		{name: "tls host", base: "https://social.example.com", wantAPI: "https://social.example.com/api", wantChat: "wss://social.example.com/ws/chat"},
		{name: "pasted api path", base: "https://social.example.com/api/posts?page=2", wantAPI: "https://social.example.com/api", wantChat: "wss://social.example.com/ws/chat"},
		{name: "fragment dropped", base: "https://social.example.com/#/feed", wantAPI: "https://social.example.com/api", wantChat: "wss://social.example.com/ws/chat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			endpoints, err := BuildEndpoints(Options{BaseURL: tt.base})
			if err != nil {
				t.Fatalf("BuildEndpoints() error = %v", err)
			}
			if endpoints.BaseURL != tt.wantAPI {
				t.Fatalf("BaseURL = %q, want %q", endpoints.BaseURL, tt.wantAPI)
			}
			if endpoints.RefreshURL != tt.wantAPI+"/auth/refresh-token" {
				t.Fatalf("RefreshURL = %q", endpoints.RefreshURL)
			}
			if endpoints.ChatURL != tt.wantChat {
				t.Fatalf("ChatURL = %q, want %q", endpoints.ChatURL, tt.wantChat)
			}
		})
	}
}

func TestBuildEndpoints_ExplicitURLsOverride(t *testing.T) {
	endpoints, err := BuildEndpoints(Options{
		BaseURL:         "https://social.example.com",
		NotificationURL: "wss://push.example.com/stomp",
		RefreshURL:      "https://auth.example.com/refresh",
	})
	if err != nil {
		t.Fatalf("BuildEndpoints() error = %v", err)
	}
	if endpoints.NotificationURL != "wss://push.example.com/stomp" {
		t.Fatalf("NotificationURL = %q", endpoints.NotificationURL)
	}
	if endpoints.RefreshURL != "https://auth.example.com/refresh" {
		t.Fatalf("RefreshURL = %q", endpoints.RefreshURL)
	}
	if endpoints.ChatURL != "wss://social.example.com/ws/chat" {
		t.Fatalf("ChatURL = %q", endpoints.ChatURL)
	}
}

func TestBuildEndpoints_InvalidScheme(t *testing.T) {
	tests := []Options{
		{BaseURL: "ftp://example.com"},
		{BaseURL: "ws://example.com"},
		{BaseURL: "https://example.com", ChatURL: "ftp://example.com/ws"},
		{BaseURL: "https://example.com", RefreshURL: "wss://example.com/refresh"},
	}
	for _, opts := range tests {
		if _, err := BuildEndpoints(opts); err == nil {
			t.Fatalf("BuildEndpoints(%+v) expected error", opts)
		}
	}
}

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired(Options{ReconnectDelay: time.Second}); err == nil {
		t.Fatalf("expected error without base URL")
	}
	if err := ValidateRequired(Options{BaseURL: "https://example.com"}); err == nil {
		t.Fatalf("expected error for zero reconnect delay")
	}
	ok := Options{ChatURL: "wss://example.com/ws", RefreshURL: "https://example.com/refresh", ReconnectDelay: time.Second}
	if err := ValidateRequired(ok); err != nil {
		t.Fatalf("ValidateRequired() error = %v", err)
	}
}

func TestParseOptions_DefaultsAndRepeatableTopics(t *testing.T) {
	opts, err := ParseOptions([]string{
		"--base-url", "https://social.example.com",
		"--chat-topic", "/user/queue/messages",
		"--chat-topic", "/topic/typing",
	})
	if err != nil {
		t.Fatalf("ParseOptions() error = %v", err)
	}
	if opts.ReconnectDelay != 5*time.Second {
		t.Fatalf("ReconnectDelay = %v, want 5s", opts.ReconnectDelay)
	}
	if opts.DialTimeout != 10*time.Second || opts.RefreshTimeout != 10*time.Second {
		t.Fatalf("timeouts = %v/%v, want 10s", opts.DialTimeout, opts.RefreshTimeout)
	}
	if len(opts.ChatTopics) != 2 || opts.ChatTopics[1] != "/topic/typing" {
		t.Fatalf("ChatTopics = %v", opts.ChatTopics)
	}
	if opts.NotificationAuth {
		t.Fatalf("NotificationAuth should default to false")
	}
}
