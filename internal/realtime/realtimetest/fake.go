// Package realtimetest provides an in-memory realtime.Transport for tests.
package realtimetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"social-realtime/internal/realtime"
)

var ErrClosed = errors.New("realtimetest: connection closed")

type Dial struct {
	Endpoint string
	Headers  map[string]string
}

type Sent struct {
	Destination string
	Body        []byte
}

// Transport records every dial and hands out Conns the test drives by hand.
// Reject, when set, is consulted before each dial; a non-nil error fails it.
type Transport struct {
	Reject func(endpoint string, headers map[string]string) error

	mu      sync.Mutex
	dials   []Dial
	conns   []*Conn
	live    map[string]int
	maxLive map[string]int
	dialed  chan *Conn
}

func NewTransport() *Transport {
	return &Transport{
		live:    map[string]int{},
		maxLive: map[string]int{},
		dialed:  make(chan *Conn, 64),
	}
}

func (t *Transport) Dial(ctx context.Context, endpoint string, headers map[string]string) (realtime.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}

	t.mu.Lock()
	t.dials = append(t.dials, Dial{Endpoint: endpoint, Headers: copied})
	reject := t.Reject
	t.mu.Unlock()

	if reject != nil {
		if err := reject(endpoint, copied); err != nil {
			return nil, err
		}
	}

	conn := &Conn{
		transport: t,
		Endpoint:  endpoint,
		Headers:   copied,
		frames:    make(chan realtime.Frame, 128),
		subs:      map[string]string{},
	}
	t.mu.Lock()
	t.conns = append(t.conns, conn)
	t.live[endpoint]++
	if t.live[endpoint] > t.maxLive[endpoint] {
		t.maxLive[endpoint] = t.live[endpoint]
	}
	t.mu.Unlock()
	select {
	case t.dialed <- conn:
	default:
	}
	return conn, nil
}

func (t *Transport) SetReject(fn func(endpoint string, headers map[string]string) error) {
	t.mu.Lock()
	t.Reject = fn
	t.mu.Unlock()
}

func (t *Transport) Dials() []Dial {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Dial(nil), t.dials...)
}

func (t *Transport) DialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dials)
}

// MaxLive is the highest number of simultaneously open conns seen for endpoint.
func (t *Transport) MaxLive(endpoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxLive[endpoint]
}

func (t *Transport) Live(endpoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live[endpoint]
}

// NextConn waits for the next successful dial.
func (t *Transport) NextConn(tb testing.TB, timeout time.Duration) *Conn {
	tb.Helper()
	select {
	case conn := <-t.dialed:
		return conn
	case <-time.After(timeout):
		tb.Fatalf("no connection dialed within %v", timeout)
		return nil
	}
}

// ConnsFor lists every conn dialed to endpoint, oldest first.
func (t *Transport) ConnsFor(endpoint string) []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Conn
	for _, c := range t.conns {
		if c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

// WaitConn waits for the n-th (1-based) conn to endpoint.
func (t *Transport) WaitConn(tb testing.TB, endpoint string, n int, timeout time.Duration) *Conn {
	tb.Helper()
	var conn *Conn
	Eventually(tb, timeout, func() bool {
		conns := t.ConnsFor(endpoint)
		if len(conns) < n {
			return false
		}
		conn = conns[n-1]
		return true
	}, "conn #%d to %s never dialed", n, endpoint)
	return conn
}

func (t *Transport) released(endpoint string) {
	t.mu.Lock()
	t.live[endpoint]--
	t.mu.Unlock()
}

// Conn is one fake socket. The test plays the server through Deliver, Fail
// and Drop.
type Conn struct {
	transport *Transport
	Endpoint  string
	Headers   map[string]string

	mu           sync.Mutex
	frames       chan realtime.Frame
	subs         map[string]string
	unsubscribed []string
	sent         []Sent
	closed       bool
	err          error
}

func (c *Conn) Subscribe(id, destination string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.subs[id] = destination
	return nil
}

func (c *Conn) Unsubscribe(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	delete(c.subs, id)
	c.unsubscribed = append(c.unsubscribed, id)
	return nil
}

func (c *Conn) Send(destination string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.sent = append(c.sent, Sent{Destination: destination, Body: append([]byte(nil), body...)})
	return nil
}

func (c *Conn) Frames() <-chan realtime.Frame {
	return c.frames
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.end(nil)
	return nil
}

// Drop simulates the server or network ending the socket.
func (c *Conn) Drop(err error) {
	c.end(err)
}

func (c *Conn) end(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	close(c.frames)
	c.mu.Unlock()
	c.transport.released(c.Endpoint)
}

func (c *Conn) push(f realtime.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames <- f
	return true
}

// Deliver pushes a MESSAGE for topic to whichever subscription id holds it.
// It reports false when nothing is subscribed to topic or the conn is closed.
func (c *Conn) Deliver(topic, body string) bool {
	id := c.SubscriptionID(topic)
	if id == "" {
		return false
	}
	return c.DeliverTo(id, topic, body)
}

func (c *Conn) DeliverTo(subscriptionID, destination, body string) bool {
	return c.push(realtime.Frame{
		Command:      realtime.CommandMessage,
		Destination:  destination,
		Subscription: subscriptionID,
		Headers:      map[string]string{"destination": destination, "subscription": subscriptionID},
		Body:         []byte(body),
	})
}

// Fail pushes a STOMP ERROR frame.
func (c *Conn) Fail(message string) bool {
	return c.push(realtime.Frame{
		Command: realtime.CommandError,
		Headers: map[string]string{"message": message},
	})
}

func (c *Conn) SubscriptionID(topic string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, dest := range c.subs {
		if dest == topic {
			return id
		}
	}
	return ""
}

func (c *Conn) Subscriptions() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

func (c *Conn) Unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

func (c *Conn) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(tb testing.TB, timeout time.Duration, cond func() bool, format string, args ...any) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf(format, args...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
