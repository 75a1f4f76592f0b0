// Package session binds the chat and notification channels to the signed-in
// user and turns chat authentication failures into a refresh-and-reconnect.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"social-realtime/internal/alert"
	"social-realtime/internal/logging"
	"social-realtime/internal/metrics"
	"social-realtime/internal/realtime"
	"social-realtime/internal/refresh"
	"social-realtime/internal/runstatus"
	"social-realtime/internal/tokenstore"
)

const (
	DefaultRefreshLead = 30 * time.Second
	sessionExpiredText = "Your session has expired. Please sign in again."
)

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (refresh.Result, error)
}

type Config struct {
	ChatURL         string
	NotificationURL string

	// NotificationAuth sends the access token on the notification channel
	// too. Off by default: the backend trusts that endpoint without a
	// per-connection credential.
	NotificationAuth bool

	ReconnectDelay     time.Duration
	DialTimeout        time.Duration
	DropAlertThreshold int
	Classifier         realtime.Classifier

	// RefreshLead schedules a refresh this long before a JWT access token's
	// exp claim. Zero uses DefaultRefreshLead; negative disables.
	RefreshLead time.Duration
}

type Hooks struct {
	OnStatus         func(identity realtime.Identity, status string)
	OnSessionExpired func(err error)
}

type Deps struct {
	Tokens    tokenstore.Store
	Refresher Refresher
	Transport realtime.Transport
	Alerts    alert.Notifier
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Coordinator is one session: the token store plus the chat and notification
// channels of the current user. Independent coordinators share nothing.
type Coordinator struct {
	cfg       Config
	tokens    tokenstore.Store
	refresher Refresher
	transport realtime.Transport
	alerts    alert.Notifier
	logger    *logging.Logger
	metrics   *metrics.Metrics
	hooks     Hooks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// lifecycle serializes channel creation and teardown.
	lifecycle  sync.Mutex
	refreshing atomic.Bool

	mu           sync.Mutex
	user         string
	// generation changes whenever SetUser replaces or ends the session.
	generation   uint64
	expired      bool
	closed       bool
	chat         *realtime.Channel
	notification *realtime.Channel
	refreshTimer *time.Timer
	statuses     map[realtime.Identity]string
}

func New(cfg Config, deps Deps, hooks Hooks) *Coordinator {
	if deps.Tokens == nil {
		panic("session.New: token store must not be nil")
	}
	if deps.Refresher == nil {
		panic("session.New: refresher must not be nil")
	}
	if deps.Transport == nil {
		panic("session.New: transport must not be nil")
	}
	if cfg.RefreshLead == 0 {
		cfg.RefreshLead = DefaultRefreshLead
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = realtime.DefaultDialTimeout
	}
	alerts := deps.Alerts
	if alerts == nil {
		alerts = alert.LogNotifier{Logger: deps.Logger}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:       cfg,
		tokens:    deps.Tokens,
		refresher: deps.Refresher,
		transport: deps.Transport,
		alerts:    alerts,
		logger:    deps.Logger.With(logging.Field("component", "session")),
		metrics:   deps.Metrics,
		hooks:     hooks,
		ctx:       ctx,
		cancel:    cancel,
		statuses:  map[realtime.Identity]string{},
	}
}

func (c *Coordinator) Registry(identity realtime.Identity) *Registry {
	return &Registry{coordinator: c, identity: identity}
}

func (c *Coordinator) IsChannelConnected(identity realtime.Identity) bool {
	ch := c.channel(identity)
	return ch != nil && ch.IsConnected()
}

// Channel returns the current channel object for identity, or nil.
func (c *Coordinator) Channel(identity realtime.Identity) *realtime.Channel {
	return c.channel(identity)
}

func (c *Coordinator) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *Coordinator) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

func (c *Coordinator) channel(identity realtime.Identity) *realtime.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch identity {
	case realtime.Chat:
		return c.chat
	case realtime.Notification:
		return c.notification
	default:
		return nil
	}
}

// SetUser reacts to the signed-in user changing. A repeated call for the same
// live session is a no-op; a different user tears down and reopens both
// channels; an empty userID tears everything down.
func (c *Coordinator) SetUser(userID string) {
	userID = strings.TrimSpace(userID)

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if userID == c.user && !c.expired && (userID == "" || c.chat != nil) {
		c.mu.Unlock()
		c.logger.Debug("session already initialized", logging.Field("user", userID))
		return
	}
	previous := c.user
	oldChat, oldNotification := c.chat, c.notification
	c.user = userID
	c.generation++
	c.expired = false
	c.chat, c.notification = nil, nil
	c.stopRefreshTimerLocked()
	c.mu.Unlock()

	c.teardown(oldChat, oldNotification)
	if userID == "" {
		if previous != "" {
			c.logger.Info("session ended", logging.Field("user", previous))
		}
		c.setStatus(realtime.Chat, runstatus.Disconnected)
		c.setStatus(realtime.Notification, runstatus.Disconnected)
		return
	}

	access, err := c.tokens.Get(tokenstore.Access)
	if err != nil {
		c.logger.Warn("access token unreadable, connecting chat anonymously", logging.Field("error", err))
	}
	c.logger.Info("session started", logging.Field("user", userID))

	chat := c.newChannel(realtime.Chat, c.cfg.ChatURL)
	notification := c.newChannel(realtime.Notification, c.cfg.NotificationURL)
	c.mu.Lock()
	c.chat, c.notification = chat, notification
	c.mu.Unlock()

	chat.Connect(access)
	notification.Connect(c.notificationToken(access))
	c.scheduleRefresh(access)
}

// ReconnectWithFreshCredentials exchanges the refresh token for a new access
// token, stores it, and replaces the chat channel with a new one using it.
// While one call is in flight every other call returns nil immediately.
// A refresh failure expires the session.
func (c *Coordinator) ReconnectWithFreshCredentials(ctx context.Context) error {
	if !c.refreshing.CompareAndSwap(false, true) {
		c.logger.Debug("credential refresh already in flight")
		return nil
	}
	defer c.refreshing.Store(false)

	c.mu.Lock()
	user, generation, expired, closed := c.user, c.generation, c.expired, c.closed
	c.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case user == "":
		return ErrNoSession
	case expired:
		return &SessionExpiredError{Err: errors.New("awaiting new login")}
	}

	refreshToken, err := c.tokens.Get(tokenstore.Refresh)
	if err == nil && strings.TrimSpace(refreshToken) == "" {
		err = errors.New("no refresh token stored")
	}
	if err != nil {
		return c.expire(user, generation, err)
	}

	c.setStatus(realtime.Chat, runstatus.Reconnecting)
	result, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return c.expire(user, generation, err)
	}

	// SetUser holds lifecycle while it swaps sessions, so once the check below
	// passes no logout or user switch can interleave with the token write.
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.closed || c.generation != generation || c.expired {
		c.mu.Unlock()
		c.logger.Debug("session changed during refresh, discarding refreshed tokens", logging.Field("user", user))
		return nil
	}
	c.mu.Unlock()

	if err := c.tokens.Set(tokenstore.Access, result.AccessToken); err != nil {
		c.logger.Warn("could not persist refreshed access token", logging.Field("error", err))
	}
	if result.RefreshToken != "" {
		if err := c.tokens.Set(tokenstore.Refresh, result.RefreshToken); err != nil {
			c.logger.Warn("could not persist rotated refresh token", logging.Field("error", err))
		}
	}

	c.mu.Lock()
	oldChat := c.chat
	c.chat = nil
	var oldNotification *realtime.Channel
	if c.cfg.NotificationAuth {
		oldNotification = c.notification
		c.notification = nil
	}
	c.stopRefreshTimerLocked()
	c.mu.Unlock()

	c.teardown(oldChat, oldNotification)

	chat := c.newChannel(realtime.Chat, c.cfg.ChatURL)
	var notification *realtime.Channel
	if oldNotification != nil {
		notification = c.newChannel(realtime.Notification, c.cfg.NotificationURL)
	}
	c.mu.Lock()
	c.chat = chat
	if notification != nil {
		c.notification = notification
	}
	c.mu.Unlock()

	c.logger.Info("reconnecting with refreshed credentials", logging.Field("user", user))
	chat.Connect(result.AccessToken)
	if notification != nil {
		notification.Connect(result.AccessToken)
	}
	c.scheduleRefresh(result.AccessToken)
	return nil
}

// expire ends the session after a failed refresh: one alert, both channels
// down, tokens cleared, no further automatic refresh until the next SetUser.
func (c *Coordinator) expire(user string, generation uint64, cause error) error {
	err := &SessionExpiredError{Err: cause}

	c.mu.Lock()
	if c.expired || c.generation != generation {
		c.mu.Unlock()
		return err
	}
	c.expired = true
	chat, notification := c.chat, c.notification
	c.stopRefreshTimerLocked()
	c.mu.Unlock()

	c.logger.Warn("session expired", logging.Field("user", user), logging.Field("error", cause))
	if chat != nil {
		chat.Disconnect()
	}
	if notification != nil {
		notification.Disconnect()
	}
	if clearErr := tokenstore.Clear(c.tokens); clearErr != nil {
		c.logger.Warn("could not clear tokens", logging.Field("error", clearErr))
	}
	c.setStatus(realtime.Chat, runstatus.SessionExpired)
	c.setStatus(realtime.Notification, runstatus.SessionExpired)
	c.alerts.Notify(alert.SessionExpired, sessionExpiredText)
	if c.hooks.OnSessionExpired != nil {
		c.hooks.OnSessionExpired(err)
	}
	return err
}

// Close ends the session and waits for background refreshes to finish.
func (c *Coordinator) Close() {
	c.SetUser("")
	c.mu.Lock()
	c.closed = true
	c.stopRefreshTimerLocked()
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) newChannel(identity realtime.Identity, endpoint string) *realtime.Channel {
	return realtime.New(realtime.Options{
		Identity:           identity,
		Endpoint:           endpoint,
		Transport:          c.transport,
		Logger:             c.logger,
		Alerts:             c.alerts,
		Metrics:            c.metrics,
		ReconnectDelay:     c.cfg.ReconnectDelay,
		DialTimeout:        c.cfg.DialTimeout,
		Classifier:         c.cfg.Classifier,
		DropAlertThreshold: c.cfg.DropAlertThreshold,
		OnEvent:            c.onEvent,
	})
}

func (c *Coordinator) notificationToken(access string) string {
	if c.cfg.NotificationAuth {
		return access
	}
	return ""
}

// teardown disconnects the given channels and waits until their goroutines
// are gone, so a replacement never overlaps a live socket.
func (c *Coordinator) teardown(channels ...*realtime.Channel) {
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		ch.Disconnect()
		waitCtx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
		if err := ch.Wait(waitCtx); err != nil {
			c.logger.Warn("channel did not stop in time", logging.Field("channel", string(ch.Identity())), logging.Field("error", err))
		}
		cancel()
	}
}

// onEvent runs on channel goroutines. It must not block, so reconnects are
// started on their own goroutine.
func (c *Coordinator) onEvent(ev realtime.Event) {
	c.mu.Lock()
	current := ev.Channel != nil && (ev.Channel == c.chat || ev.Channel == c.notification)
	closed, expired := c.closed, c.expired
	c.mu.Unlock()
	if !current {
		c.logger.Debug("ignoring event from retired channel",
			logging.Field("channel", string(ev.Identity)),
			logging.Field("event", string(ev.Kind)),
		)
		return
	}

	switch ev.Kind {
	case realtime.EventStateChanged:
		if expired {
			return
		}
		// Keep the auth status visible when the failed channel settles.
		if ev.State == realtime.Disconnected && runstatus.Settled(c.statusOf(ev.Identity)) {
			return
		}
		c.setStatus(ev.Identity, runstatus.ForState(ev.State))
	case realtime.EventAuthFailure:
		c.setStatus(ev.Identity, runstatus.DisconnectedAuth)
		if ev.Identity == realtime.Notification && !c.cfg.NotificationAuth {
			c.logger.Warn("notification channel rejected without a credential", logging.Field("error", ev.Err))
			return
		}
		if closed || expired {
			return
		}
		c.startReconnect("auth failure")
	}
}

func (c *Coordinator) startReconnect(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		c.logger.Info("refreshing credentials", logging.Field("reason", reason))
		if err := c.ReconnectWithFreshCredentials(c.ctx); err != nil && !IsSessionExpired(err) {
			c.logger.Debug("credential reconnect skipped", logging.Field("error", err))
		}
	}()
}

func (c *Coordinator) scheduleRefresh(access string) {
	if c.cfg.RefreshLead < 0 {
		return
	}
	exp, ok := TokenExpiry(access)
	if !ok {
		return
	}
	delay := refreshDelay(exp, time.Now(), c.cfg.RefreshLead)
	c.logger.Debug("proactive refresh scheduled", logging.Field("in", delay.String()))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.expired || c.user == "" {
		return
	}
	c.stopRefreshTimerLocked()
	c.refreshTimer = time.AfterFunc(delay, func() {
		c.startReconnect("access token expiring")
	})
}

func (c *Coordinator) stopRefreshTimerLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

func (c *Coordinator) setStatus(identity realtime.Identity, status string) {
	c.mu.Lock()
	if c.statuses[identity] == status {
		c.mu.Unlock()
		return
	}
	previous := c.statuses[identity]
	c.statuses[identity] = status
	c.mu.Unlock()

	c.logger.Debug("channel status changed",
		logging.Field("channel", string(identity)),
		logging.Field("from", previous),
		logging.Field("to", status),
	)
	if c.hooks.OnStatus != nil {
		c.hooks.OnStatus(identity, status)
	}
}

func (c *Coordinator) statusOf(identity realtime.Identity) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[identity]
}
