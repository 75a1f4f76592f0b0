package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"social-realtime/internal/alert"
	"social-realtime/internal/auth"
	"social-realtime/internal/config"
	"social-realtime/internal/logging"
	"social-realtime/internal/metrics"
	"social-realtime/internal/realtime"
	"social-realtime/internal/refresh"
	"social-realtime/internal/runctx"
	"social-realtime/internal/session"
	"social-realtime/internal/stompws"
	"social-realtime/internal/tokenstore"
)

const (
	defaultHTTPTimeout     = 10 * time.Second
	eventChannelBufferSize = 16
	defaultUser            = "cli"
)

var ErrNoCredentials = errors.New("no stored session: pass --access-token (and --refresh-token) to sign in")

type Service interface {
	RunContext(ctx context.Context) error
}

// Deps lets callers (tests) replace the network-facing pieces.
type Deps struct {
	Tokens    tokenstore.Store
	Transport realtime.Transport
	Refresher session.Refresher
	Alerts    alert.Notifier
	Metrics   *metrics.Metrics
}

type sessionEvent struct {
	identity realtime.Identity
	status   string
	expired  error
}

type realtimeService struct {
	opts      config.Options
	endpoints config.Endpoints
	logger    *logging.Logger
	hooks     StartHooks
	deps      Deps
	watcher   tokenWatcher

	// eventBuffer sizes the status queue between channel goroutines and the run loop.
	eventBuffer int
}

type tokenWatcher interface {
	Watch(ctx context.Context, onChange func()) error
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	return newService(opts, logger, hooks, Deps{})
}

func newService(opts config.Options, logger *logging.Logger, hooks StartHooks, deps Deps) (*realtimeService, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}
	endpoints, err := config.BuildEndpoints(opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed endpoints",
		logging.Field("base_url", endpoints.BaseURL),
		logging.Field("refresh_url", endpoints.RefreshURL),
		logging.Field("chat_url", endpoints.ChatURL),
		logging.Field("notification_url", endpoints.NotificationURL),
	)

	s := &realtimeService{opts: opts, endpoints: endpoints, logger: logger, hooks: hooks, deps: deps, eventBuffer: eventChannelBufferSize}
	if s.deps.Metrics == nil {
		s.deps.Metrics = metrics.New()
	}
	if s.deps.Tokens == nil {
		store, err := tokenstore.NewFileStore(opts.TokenFile, logger)
		if err != nil {
			return nil, err
		}
		s.deps.Tokens = store
		s.watcher = store
	}
	if s.deps.Refresher == nil {
		httpClient := &http.Client{Timeout: defaultHTTPTimeout}
		s.deps.Refresher = refresh.New(httpClient, endpoints.RefreshURL, opts.RefreshTimeout, logger, s.deps.Metrics)
	}
	if s.deps.Transport == nil {
		s.deps.Transport = stompws.New(logger)
	}
	if s.deps.Alerts == nil {
		s.deps.Alerts = alert.LogNotifier{Logger: logger}
	}
	return s, nil
}

func (s *realtimeService) RunContext(ctx context.Context) error {
	s.logger.Info("realtime client starting",
		logging.Field("chat_url", s.endpoints.ChatURL),
		logging.Field("notification_url", s.endpoints.NotificationURL),
	)

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	events := make(chan sessionEvent, s.eventBuffer)

	coordinator := session.New(session.Config{
		ChatURL:          s.endpoints.ChatURL,
		NotificationURL:  s.endpoints.NotificationURL,
		NotificationAuth: s.opts.NotificationAuth,
		ReconnectDelay:   s.opts.ReconnectDelay,
		DialTimeout:      s.opts.DialTimeout,
		RefreshLead:      s.opts.RefreshLead,
	}, session.Deps{
		Tokens:    s.deps.Tokens,
		Refresher: s.deps.Refresher,
		Transport: s.deps.Transport,
		Alerts:    s.deps.Alerts,
		Logger:    s.logger,
		Metrics:   s.deps.Metrics,
	}, session.Hooks{
		OnStatus: func(identity realtime.Identity, status string) {
			// Called from channel goroutines: never block them.
			runctx.TrySend("status update", s.logger, events, sessionEvent{identity: identity, status: status},
				logging.Field("channel", string(identity)), logging.Field("status", status))
		},
		OnSessionExpired: func(err error) {
			runctx.SendOrDone(runCtx, "session expiry", s.logger, events, sessionEvent{expired: err})
		},
	})
	defer coordinator.Close()
	defer wg.Wait()
	defer cancel()

	authState := auth.New(s.deps.Tokens, s.logger)
	unsubscribe := authState.OnChange(coordinator.SetUser)
	defer unsubscribe()

	if err := s.serveMetrics(runCtx, &wg); err != nil {
		return err
	}
	if s.watcher != nil {
		wg.Go(func() {
			if err := s.watcher.Watch(runCtx, authState.SyncFromStore); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("token file watch stopped", logging.Field("error", err))
			}
		})
	}

	if err := s.signIn(authState); err != nil {
		return err
	}

	subscribed := map[realtime.Identity]*realtime.Channel{}
	for {
		ev, ok := runctx.RecvOrDone(runCtx, "session events", s.logger, events)
		if !ok {
			s.logger.Info("realtime client stopped")
			return ctx.Err()
		}
		if ev.expired != nil {
			_ = authState.Logout()
			return fmt.Errorf("realtime session ended: %w", ev.expired)
		}
		if s.hooks.OnStatus != nil {
			s.hooks.OnStatus(ev.identity, ev.status)
		}
		// A status dropped by TrySend means the queue was full, so events
		// are still pending; checking both channels on each one catches a
		// lost Connected.
		s.syncSubscriptions(coordinator, subscribed)
	}
}

// syncSubscriptions subscribes the configured topics on every connected
// channel object not seen before. Transport reconnects replay subscriptions
// themselves; only a new channel object needs them again.
func (s *realtimeService) syncSubscriptions(coordinator *session.Coordinator, subscribed map[realtime.Identity]*realtime.Channel) {
	for _, identity := range []realtime.Identity{realtime.Chat, realtime.Notification} {
		ch := coordinator.Channel(identity)
		if ch == nil || !ch.IsConnected() || subscribed[identity] == ch {
			continue
		}
		subscribed[identity] = ch
		s.subscribeTopics(coordinator.Registry(identity), identity)
	}
}

// signIn logs in with tokens from the command line, or resumes the session
// persisted in the token store.
func (s *realtimeService) signIn(state *auth.State) error {
	user := strings.TrimSpace(s.opts.UserID)
	if user == "" {
		user = defaultUser
	}
	if strings.TrimSpace(s.opts.AccessToken) != "" {
		return state.Login(user, s.opts.AccessToken, s.opts.RefreshToken)
	}
	access, err := s.deps.Tokens.Get(tokenstore.Access)
	if err != nil {
		return fmt.Errorf("read stored tokens: %w", err)
	}
	if access == "" {
		return ErrNoCredentials
	}
	refreshToken, err := s.deps.Tokens.Get(tokenstore.Refresh)
	if err != nil {
		return fmt.Errorf("read stored tokens: %w", err)
	}
	s.logger.Info("resuming stored session", logging.Field("user", user))
	return state.Login(user, access, refreshToken)
}

func (s *realtimeService) subscribeTopics(registry *session.Registry, identity realtime.Identity) {
	topics := s.opts.ChatTopics
	if identity == realtime.Notification {
		topics = s.opts.NotifyTopics
	}
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		registry.Subscribe(topic, s.onMessage)
		s.logger.Info("subscribed", logging.Field("channel", string(identity)), logging.Field("topic", topic))
	}
}

func (s *realtimeService) onMessage(msg realtime.Message) {
	s.logger.Info("message received",
		logging.Field("channel", string(msg.Channel)),
		logging.Field("topic", msg.Topic),
		logging.Field("frame", logging.Truncate(string(msg.Body))),
	)
	if s.hooks.OnMessage != nil {
		s.hooks.OnMessage(msg)
	}
}

func (s *realtimeService) serveMetrics(ctx context.Context, wg *sync.WaitGroup) error {
	addr := strings.TrimSpace(s.opts.MetricsAddr)
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.deps.Metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	wg.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", logging.Field("error", err))
		}
	})
	wg.Go(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	s.logger.Info("serving metrics", logging.Field("addr", addr))
	return nil
}
