package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"social-realtime/internal/alert"
	"social-realtime/internal/logging"
	"social-realtime/internal/metrics"
)

const (
	DefaultReconnectDelay     = 5 * time.Second
	DefaultDialTimeout        = 10 * time.Second
	DefaultDropAlertThreshold = 3
	DefaultAuthHeader         = "Authorization"
)

type Options struct {
	Identity  Identity
	Endpoint  string
	Transport Transport

	Logger  *logging.Logger
	Alerts  alert.Notifier
	Metrics *metrics.Metrics

	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	Classifier     Classifier
	// DropAlertThreshold is the number of consecutive failed attempts after
	// which a single "connection unstable" alert is raised. Negative disables.
	DropAlertThreshold int
	AuthHeader         string

	// OnEvent is called synchronously from the channel's goroutines. It must
	// not block and must not call Disconnect or Wait.
	OnEvent func(Event)
}

// Channel is one persistent STOMP connection. At most one socket is live per
// Channel at a time; Connect while not disconnected is a no-op.
type Channel struct {
	opts   Options
	logger *logging.Logger

	mu       sync.Mutex
	state    State
	conn     Conn
	cancel   context.CancelFunc
	done     chan struct{}
	subs     map[string]*Subscription
	failures int
	unstable bool
}

func New(opts Options) *Channel {
	if opts.Transport == nil {
		panic("realtime.New: transport must not be nil")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.DropAlertThreshold == 0 {
		opts.DropAlertThreshold = DefaultDropAlertThreshold
	}
	if opts.AuthHeader == "" {
		opts.AuthHeader = DefaultAuthHeader
	}
	return &Channel{
		opts:   opts,
		logger: opts.Logger.With(logging.Field("channel", string(opts.Identity))),
		state:  Disconnected,
		subs:   map[string]*Subscription{},
	}
}

func (c *Channel) Identity() Identity {
	return c.opts.Identity
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) IsConnected() bool {
	return c.State() == Connected
}

// Connect starts connecting in the background with the given bearer token
// (empty means anonymous). It returns immediately.
func (c *Channel) Connect(token string) {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("connect ignored", logging.Field("state", string(state)))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.failures, c.unstable = 0, false
	ev := c.setStateLocked(Connecting, nil)
	c.mu.Unlock()

	c.emit(ev)
	go c.run(ctx, token, done)
}

// Disconnect deactivates every subscription, unsubscribes them on the wire and
// closes the socket. Callbacks not yet started will not fire after it returns.
// Safe to call in any state and more than once.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.state == Disconnected && c.cancel == nil && len(c.subs) == 0 {
		c.mu.Unlock()
		return
	}
	subs := c.subs
	c.subs = map[string]*Subscription{}
	for _, sub := range subs {
		sub.deactivate()
	}
	cancel, conn := c.cancel, c.conn
	c.cancel, c.conn = nil, nil
	changed := c.state != Disconnected
	ev := c.setStateLocked(Disconnected, nil)
	c.mu.Unlock()

	if conn != nil {
		for id := range subs {
			if err := conn.Unsubscribe(id); err != nil {
				c.logger.Debug("unsubscribe on disconnect failed", logging.Field("subscription", id), logging.Field("error", err))
				break
			}
		}
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.opts.Metrics.Connected(string(c.opts.Identity), false)
	c.logger.Info("channel disconnected", logging.Field("subscriptions", len(subs)))
	if changed {
		c.emit(ev)
	}
}

// Wait blocks until the background goroutine of the last Connect has exited.
func (c *Channel) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers callback for topic. When the channel is not connected it
// returns an inactive subscription that never fires.
func (c *Channel) Subscribe(topic string, callback func(Message)) *Subscription {
	c.mu.Lock()
	if c.state != Connected || c.conn == nil {
		c.mu.Unlock()
		c.logger.Debug("subscribe ignored while not connected", logging.Field("topic", topic))
		return noopSubscription(topic)
	}
	sub := &Subscription{
		id:       "sub-" + uuid.NewString(),
		topic:    topic,
		callback: callback,
		channel:  c,
	}
	sub.active.Store(true)
	c.subs[sub.id] = sub
	conn := c.conn
	c.mu.Unlock()

	if err := conn.Subscribe(sub.id, topic); err != nil {
		// The registration stays; a transport reconnect re-sends it.
		c.logger.Warn("subscribe frame failed", logging.Field("topic", topic), logging.Field("error", err))
	} else {
		c.logger.Debug("subscribed", logging.Field("topic", topic), logging.Field("subscription", sub.id))
	}
	return sub
}

// Publish sends payload to destination as JSON. It returns false without
// sending when the channel is not connected or the payload cannot be encoded.
func (c *Channel) Publish(destination string, payload any) bool {
	channel := string(c.opts.Identity)
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != Connected || conn == nil {
		c.opts.Metrics.Publish(channel, "not_connected")
		c.logger.Debug("publish dropped while not connected", logging.Field("destination", destination))
		return false
	}

	body, err := encodePayload(payload)
	if err != nil {
		c.opts.Metrics.Publish(channel, "encode_error")
		c.logger.Warn("publish payload not encodable", logging.Field("destination", destination), logging.Field("error", err))
		return false
	}
	if err := conn.Send(destination, body); err != nil {
		c.opts.Metrics.Publish(channel, "error")
		c.logger.Warn("publish failed", logging.Field("destination", destination), logging.Field("error", err))
		return false
	}
	c.opts.Metrics.Publish(channel, "ok")
	return true
}

func encodePayload(payload any) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encode payload: %v", r)
		}
	}()
	switch v := payload.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("raw payload is not valid JSON")
		}
		return v, nil
	case []byte:
		if json.Valid(v) {
			return v, nil
		}
	}
	return json.Marshal(payload)
}

func (c *Channel) release(sub *Subscription) {
	c.mu.Lock()
	if c.subs[sub.id] != sub {
		c.mu.Unlock()
		return
	}
	delete(c.subs, sub.id)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Unsubscribe(sub.id); err != nil {
		c.logger.Debug("unsubscribe frame failed", logging.Field("topic", sub.topic), logging.Field("error", err))
	}
}

func (c *Channel) run(ctx context.Context, token string, done chan struct{}) {
	defer close(done)

	headers := map[string]string{}
	if token != "" {
		headers[c.opts.AuthHeader] = "Bearer " + token
	}
	channel := string(c.opts.Identity)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.session(ctx, headers)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if IsAuthFailure(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err == nil {
			err = io.EOF
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.ReconnectDelay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.opts.Metrics.ReconnectAttempt(channel)
			c.logger.Warn("channel dropped, retrying", logging.Field("error", err), logging.Field("retry_in", next.String()))
			c.onTransportFailure(ctx, err)
		}),
	)

	if !IsAuthFailure(err) {
		return
	}
	c.opts.Metrics.AuthFailure(channel)
	c.logger.Warn("channel credential rejected", logging.Field("error", err))

	c.mu.Lock()
	if c.done != done || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.cancel = nil
	c.conn = nil
	ev := c.setStateLocked(Disconnected, err)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.opts.Metrics.Connected(channel, false)
	c.emit(ev)
	c.emit(Event{Kind: EventAuthFailure, Channel: c, Identity: c.opts.Identity, State: Disconnected, Err: err})
}

func (c *Channel) onTransportFailure(ctx context.Context, err error) {
	c.mu.Lock()
	if ctx.Err() != nil || c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	c.failures++
	ev := c.setStateLocked(Reconnecting, err)
	raise := c.opts.DropAlertThreshold > 0 && !c.unstable && c.failures >= c.opts.DropAlertThreshold
	if raise {
		c.unstable = true
	}
	c.mu.Unlock()

	c.opts.Metrics.Connected(string(c.opts.Identity), false)
	c.emit(ev)
	if raise {
		c.notify(alert.Warning, fmt.Sprintf("%s connection lost, retrying every %s", c.opts.Identity, c.opts.ReconnectDelay))
		c.emit(Event{Kind: EventConnectionUnstable, Channel: c, Identity: c.opts.Identity, State: Reconnecting, Err: err})
	}
}

// session dials once and pumps frames until the socket ends. It returns an
// *AuthError when the credential was refused.
func (c *Channel) session(ctx context.Context, headers map[string]string) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, err := c.opts.Transport.Dial(dialCtx, c.opts.Endpoint, headers)
	cancel()
	if err != nil {
		if c.opts.Classifier.ClassifyErr(err) == ErrorAuth {
			return &AuthError{Identity: c.opts.Identity, Err: err}
		}
		return err
	}
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	c.mu.Lock()
	if ctx.Err() != nil || c.state == Disconnected {
		c.mu.Unlock()
		return ctx.Err()
	}
	c.conn = conn
	restored := c.unstable
	c.failures, c.unstable = 0, false
	resubscribe := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		resubscribe = append(resubscribe, sub)
	}
	ev := c.setStateLocked(Connected, nil)
	c.mu.Unlock()

	channel := string(c.opts.Identity)
	c.opts.Metrics.Connected(channel, true)
	c.logger.Info("channel connected", logging.Field("endpoint", c.opts.Endpoint))
	c.emit(ev)
	if restored {
		c.notify(alert.Info, fmt.Sprintf("%s connection restored", c.opts.Identity))
		c.emit(Event{Kind: EventConnectionRestored, Channel: c, Identity: c.opts.Identity, State: Connected})
	}

	for _, sub := range resubscribe {
		if !sub.Active() {
			continue
		}
		if err := conn.Subscribe(sub.id, sub.topic); err != nil {
			return err
		}
		c.logger.Debug("resubscribed", logging.Field("topic", sub.topic), logging.Field("subscription", sub.id))
	}

	frames := conn.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				if err := conn.Err(); err != nil {
					return err
				}
				return io.EOF
			}
			if err := c.handleFrame(conn, f); err != nil {
				return err
			}
		}
	}
}

// handleFrame runs on the reader goroutine, which keeps per-topic delivery in
// arrival order.
func (c *Channel) handleFrame(conn Conn, f Frame) error {
	channel := string(c.opts.Identity)
	switch f.Command {
	case CommandMessage:
		sub := c.lookup(conn, f)
		if sub == nil {
			c.opts.Metrics.FrameDropped(channel, "no_subscriber")
			c.logger.Debug("message without live subscription", logging.Field("destination", f.Destination), logging.Field("subscription", f.Subscription))
			return nil
		}
		if !json.Valid(f.Body) {
			decodeErr := &DecodeError{Identity: c.opts.Identity, Destination: f.Destination, Err: errors.New("body is not valid JSON")}
			c.opts.Metrics.FrameDropped(channel, "decode")
			c.logger.Warn("dropping malformed message", logging.Field("destination", f.Destination), logging.Field("frame", logging.Payload(f.Body)))
			c.notify(alert.Warning, decodeErr.Error())
			c.emit(Event{Kind: EventFrameError, Channel: c, Identity: c.opts.Identity, State: Connected, Err: decodeErr})
			return nil
		}
		msg := Message{
			Channel:     c.opts.Identity,
			Topic:       sub.topic,
			Destination: f.Destination,
			Headers:     f.Headers,
			Body:        json.RawMessage(f.Body),
		}
		if sub.deliver(msg) {
			c.opts.Metrics.FrameReceived(channel)
		} else {
			c.opts.Metrics.FrameDropped(channel, "inactive")
		}
		return nil
	case CommandError:
		frameErr := &FrameError{Message: f.Headers["message"], Body: string(f.Body)}
		if c.opts.Classifier.Classify(frameErr.Text()) == ErrorAuth {
			return &AuthError{Identity: c.opts.Identity, Err: frameErr}
		}
		c.logger.Warn("stomp error frame", logging.Field("error", frameErr.Text()))
		c.emit(Event{Kind: EventFrameError, Channel: c, Identity: c.opts.Identity, State: Connected, Err: frameErr})
		return nil
	default:
		c.logger.Debug("ignoring frame", logging.Field("command", f.Command))
		return nil
	}
}

func (c *Channel) lookup(conn Conn, f Frame) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return nil
	}
	if sub, ok := c.subs[f.Subscription]; ok {
		return sub
	}
	if f.Subscription != "" {
		return nil
	}
	for _, sub := range c.subs {
		if sub.topic == f.Destination {
			return sub
		}
	}
	return nil
}

func (c *Channel) setStateLocked(state State, err error) Event {
	c.state = state
	return Event{Kind: EventStateChanged, Channel: c, Identity: c.opts.Identity, State: state, Err: err}
}

func (c *Channel) emit(ev Event) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(ev)
	}
}

func (c *Channel) notify(kind alert.Kind, message string) {
	if c.opts.Alerts != nil {
		c.opts.Alerts.Notify(kind, message)
	}
}
