package config

import (
	"errors"
	"net/url"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Options struct {
	BaseURL          string        `long:"base-url" env:"SOCIAL_BASE_URL" description:"Backend base URL (e.g. https://social.example.com)"`
	ChatURL          string        `long:"chat-url" env:"SOCIAL_CHAT_URL" description:"Chat STOMP websocket endpoint (defaults to <base>/ws/chat)"`
	NotificationURL  string        `long:"notification-url" env:"SOCIAL_NOTIFICATION_URL" description:"Notification STOMP websocket endpoint (defaults to <base>/ws/notification)"`
	RefreshURL       string        `long:"refresh-url" env:"SOCIAL_REFRESH_URL" description:"Access token refresh endpoint (defaults to <base>/api/auth/refresh-token)"`
	TokenFile        string        `long:"token-file" env:"SOCIAL_TOKEN_FILE" description:"Persisted token pair file (defaults to the user config dir)"`
	AccessToken      string        `long:"access-token" env:"SOCIAL_ACCESS_TOKEN" description:"Access token to log in with"`
	RefreshToken     string        `long:"refresh-token" env:"SOCIAL_REFRESH_TOKEN" description:"Refresh token to log in with"`
	UserID           string        `long:"user" env:"SOCIAL_USER" description:"Authenticated user identity"`
	NotificationAuth bool          `long:"notification-auth" env:"SOCIAL_NOTIFICATION_AUTH" description:"Send the access token when connecting the notification channel"`
	ChatTopics       []string      `long:"chat-topic" description:"Chat destination to subscribe to (repeatable)"`
	NotifyTopics     []string      `long:"notification-topic" description:"Notification destination to subscribe to (repeatable)"`
	ReconnectDelay   time.Duration `long:"reconnect-delay" env:"SOCIAL_RECONNECT_DELAY" default:"5s" description:"Fixed delay between transport reconnect attempts"`
	DialTimeout      time.Duration `long:"dial-timeout" env:"SOCIAL_DIAL_TIMEOUT" default:"10s" description:"Websocket + STOMP handshake timeout"`
	RefreshTimeout   time.Duration `long:"refresh-timeout" env:"SOCIAL_REFRESH_TIMEOUT" default:"10s" description:"Token refresh request timeout"`
	RefreshLead      time.Duration `long:"refresh-lead" env:"SOCIAL_REFRESH_LEAD" default:"30s" description:"Refresh this long before the access token expires"`
	MetricsAddr      string        `long:"metrics-addr" env:"SOCIAL_METRICS_ADDR" description:"Serve Prometheus metrics on this address (e.g. :9090)"`
	LogToFile        bool          `long:"log-to-file" env:"SOCIAL_LOG_TO_FILE" description:"Persist logs as JSONL under the user cache dir"`
	LogDir           string        `long:"log-dir" env:"SOCIAL_LOG_DIR" description:"Directory for JSONL logs (defaults to the user cache dir)"`
	Debug            bool          `long:"debug" env:"SOCIAL_DEBUG" description:"Enable verbose debug output"`
}

type Endpoints struct {
	BaseURL         string
	RefreshURL      string
	ChatURL         string
	NotificationURL string
}

const (
	refreshPath      = "/auth/refresh-token"
	chatPath         = "/ws/chat"
	notificationPath = "/ws/notification"
)

func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	parser := flags.NewParser(&opts, flags.Default)
	if args == nil {
		if _, err := parser.Parse(); err != nil {
			return Options{}, err
		}
		return opts, nil
	}
	if _, err := parser.ParseArgs(args); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func ValidateRequired(opts Options) error {
	if strings.TrimSpace(opts.BaseURL) == "" && (strings.TrimSpace(opts.ChatURL) == "" || strings.TrimSpace(opts.RefreshURL) == "") {
		return errors.New("base URL is required unless chat and refresh URLs are set")
	}
	if opts.ReconnectDelay <= 0 {
		return errors.New("reconnect delay must be positive")
	}
	return nil
}

// BuildEndpoints derives every endpoint from the base URL; explicit URLs in
// opts win over derived ones.
func BuildEndpoints(opts Options) (Endpoints, error) {
	endpoints := Endpoints{}
	if strings.TrimSpace(opts.BaseURL) != "" {
		base, err := parseBaseURL(opts.BaseURL)
		if err != nil {
			return Endpoints{}, err
		}
		api := *base
		api.Path = "/api"
		endpoints.BaseURL = strings.TrimRight(api.String(), "/")
		endpoints.RefreshURL = endpoints.BaseURL + refreshPath

		ws := *base
		ws.Scheme = "ws"
		if strings.EqualFold(base.Scheme, "https") {
			ws.Scheme = "wss"
		}
		ws.Path = chatPath
		endpoints.ChatURL = ws.String()
		ws.Path = notificationPath
		endpoints.NotificationURL = ws.String()
	}

	overrides := []struct {
		raw    string
		target *string
		ws     bool
	}{
		{raw: opts.RefreshURL, target: &endpoints.RefreshURL},
		{raw: opts.ChatURL, target: &endpoints.ChatURL, ws: true},
		{raw: opts.NotificationURL, target: &endpoints.NotificationURL, ws: true},
	}
	for _, o := range overrides {
		value := strings.TrimSpace(o.raw)
		if value == "" {
			continue
		}
		if err := validateAbsolute(value, o.ws); err != nil {
			return Endpoints{}, err
		}
		*o.target = value
	}
	if endpoints.NotificationURL == "" {
		endpoints.NotificationURL = endpoints.ChatURL
	}
	return endpoints, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("expected absolute URL like https://example.com")
	}
	if !strings.EqualFold(parsed.Scheme, "http") && !strings.EqualFold(parsed.Scheme, "https") {
		return nil, errors.New("base URL scheme must be http or https")
	}
	// Normalize any pasted endpoint/path down to the host.
	parsed.Path = ""
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed, nil
}

func validateAbsolute(raw string, websocket bool) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return errors.New("expected absolute URL: " + raw)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if websocket {
		if scheme != "ws" && scheme != "wss" && scheme != "http" && scheme != "https" {
			return errors.New("websocket URL scheme must be ws, wss, http or https: " + raw)
		}
		return nil
	}
	if scheme != "http" && scheme != "https" {
		return errors.New("URL scheme must be http or https: " + raw)
	}
	return nil
}
