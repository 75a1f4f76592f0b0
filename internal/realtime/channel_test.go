package realtime_test

import (
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"social-realtime/internal/alert"
	"social-realtime/internal/logging"
	"social-realtime/internal/realtime"
	"social-realtime/internal/realtime/realtimetest"
)

const (
	endpoint = "ws://example.test/ws/chat"
	wait     = 2 * time.Second
)

type eventLog struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (l *eventLog) record(ev realtime.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(kind realtime.EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func newTestLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func newChannel(t *testing.T, transport *realtimetest.Transport) (*realtime.Channel, *eventLog, *alert.Recorder) {
	t.Helper()
	events := &eventLog{}
	alerts := &alert.Recorder{}
	ch := realtime.New(realtime.Options{
		Identity:       realtime.Chat,
		Endpoint:       endpoint,
		Transport:      transport,
		Logger:         newTestLogger(),
		Alerts:         alerts,
		ReconnectDelay: 10 * time.Millisecond,
		DialTimeout:    time.Second,
		OnEvent:        events.record,
	})
	t.Cleanup(ch.Disconnect)
	return ch, events, alerts
}

func connect(t *testing.T, ch *realtime.Channel, transport *realtimetest.Transport, token string) *realtimetest.Conn {
	t.Helper()
	ch.Connect(token)
	conn := transport.NextConn(t, wait)
	realtimetest.Eventually(t, wait, ch.IsConnected, "channel never reached connected, state = %v", ch.State())
	return conn
}

func TestChannel_ConnectSendsBearerAndReachesConnected(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, events, _ := newChannel(t, transport)

	if got := ch.State(); got != realtime.Disconnected {
		t.Fatalf("State() = %v, want disconnected", got)
	}
	conn := connect(t, ch, transport, "T1")
	if got := conn.Headers["Authorization"]; got != "Bearer T1" {
		t.Fatalf("Authorization = %q, want Bearer T1", got)
	}
	if conn.Endpoint != endpoint {
		t.Fatalf("Endpoint = %q", conn.Endpoint)
	}
	if events.count(realtime.EventStateChanged) < 2 {
		t.Fatalf("expected connecting and connected state events")
	}
}

func TestChannel_AnonymousConnectHasNoAuthorization(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, _, _ := newChannel(t, transport)
	conn := connect(t, ch, transport, "")
	if _, ok := conn.Headers["Authorization"]; ok {
		t.Fatalf("anonymous connect carried Authorization header")
	}
}

func TestChannel_ConnectIsNoopUnlessDisconnected(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, _, _ := newChannel(t, transport)

	ch.Connect("T1")
	ch.Connect("T1")
	transport.NextConn(t, wait)
	realtimetest.Eventually(t, wait, ch.IsConnected, "not connected")
	ch.Connect("T2")

	time.Sleep(30 * time.Millisecond)
	if got := transport.DialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
	if got := transport.MaxLive(endpoint); got != 1 {
		t.Fatalf("max live sockets = %d, want 1", got)
	}
}

func TestChannel_SubscribeAndPublishWhileDisconnected(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, _, _ := newChannel(t, transport)

	sub := ch.Subscribe("/topic/a", func(realtime.Message) {
		t.Fatalf("no-op subscription fired")
	})
	if sub.Active() {
		t.Fatalf("subscription while disconnected should be inactive")
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	if ch.Publish("/app/chat.send", map[string]string{"text": "hi"}) {
		t.Fatalf("Publish() while disconnected = true, want false")
	}
	if transport.DialCount() != 0 {
		t.Fatalf("publish or subscribe must not dial")
	}
}

func TestChannel_PublishEncodesJSON(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, _, _ := newChannel(t, transport)
	conn := connect(t, ch, transport, "T1")

	if !ch.Publish("/app/chat.send", map[string]string{"text": "hi"}) {
		t.Fatalf("Publish() = false, want true")
	}
	if !ch.Publish("/app/raw", []byte(`{"a":1}`)) {
		t.Fatalf("Publish(raw) = false, want true")
	}
	if ch.Publish("/app/bad", make(chan int)) {
		t.Fatalf("Publish(chan) = true, want false")
	}

	sent := conn.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d frames, want 2", len(sent))
	}
	if sent[0].Destination != "/app/chat.send" || string(sent[0].Body) != `{"text":"hi"}` {
		t.Fatalf("sent[0] = %s %s", sent[0].Destination, sent[0].Body)
	}
	if string(sent[1].Body) != `{"a":1}` {
		t.Fatalf("sent[1] body = %s", sent[1].Body)
	}
}

func TestChannel_DeliversInOrderPerTopic(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, _, _ := newChannel(t, transport)
	conn := connect(t, ch, transport, "T1")

	var mu sync.Mutex
	var got []int
	sub := ch.Subscribe("/topic/seq", func(m realtime.Message) {
		var v struct{ N int }
		if err := m.Decode(&v); err != nil {
			t.Errorf("Decode() error = %v", err)
		}
		mu.Lock()
		got = append(got, v.N)
		mu.Unlock()
	})
	if !sub.Active() {
		t.Fatalf("subscription should be active")
	}
	const n = 50
	for i := 0; i < n; i++ {
		if !conn.Deliver("/topic/seq", `{"N":`+strconv.Itoa(i)+`}`) {
			t.Fatalf("Deliver(%d) failed", i)
		}
	}
	realtimetest.Eventually(t, wait, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, "delivered %d of %d", len(got), n)
	for i, v := range got {
		if v != i {
			t.Fatalf("message %d = %d, out of order", i, v)
		}
	}
}

func TestChannel_UnsubscribeStopsDelivery(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, _, _ := newChannel(t, transport)
	conn := connect(t, ch, transport, "T1")

	fired := make(chan struct{}, 4)
	sub := ch.Subscribe("/topic/a", func(realtime.Message) { fired <- struct{}{} })
	id := sub.ID()
	sub.Unsubscribe()
	sub.Unsubscribe()

	if sub.Active() {
		t.Fatalf("Active() after Unsubscribe = true")
	}
	if got := conn.Unsubscribed(); len(got) != 1 || got[0] != id {
		t.Fatalf("unsubscribed = %v, want [%s]", got, id)
	}
	conn.DeliverTo(id, "/topic/a", `{}`)
	time.Sleep(30 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("callback fired after Unsubscribe")
	}
}

func TestChannel_DisconnectReleasesSubscriptionsAndDropsInFlight(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, _, _ := newChannel(t, transport)
	conn := connect(t, ch, transport, "T1")

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls sync.WaitGroup
	var mu sync.Mutex
	count := 0
	calls.Add(1)
	sub := ch.Subscribe("/topic/a", func(realtime.Message) {
		mu.Lock()
		count++
		first := count == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
			calls.Done()
		}
	})
	id := sub.ID()
	conn.Deliver("/topic/a", `{"n":1}`)
	conn.Deliver("/topic/a", `{"n":2}`)
	<-entered

	ch.Disconnect()
	if sub.Active() {
		t.Fatalf("subscription still active after Disconnect")
	}
	if got := ch.State(); got != realtime.Disconnected {
		t.Fatalf("State() = %v, want disconnected", got)
	}
	if !conn.Closed() {
		t.Fatalf("socket not closed by Disconnect")
	}
	close(release)
	calls.Wait()
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("callback ran %d times, want 1 (in-flight frame must be dropped)", count)
	}
	unsub := conn.Unsubscribed()
	if len(unsub) != 1 || unsub[0] != id {
		t.Fatalf("unsubscribed = %v, want [%s]", unsub, id)
	}

	ch.Disconnect()
	ch.Disconnect()
	if ch.Publish("/app/x", 1) {
		t.Fatalf("Publish() after Disconnect = true")
	}
}

func TestChannel_ReconnectAfterDisconnect(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, _, _ := newChannel(t, transport)
	connect(t, ch, transport, "T1")
	ch.Disconnect()
	conn := connect(t, ch, transport, "T2")
	if conn.Headers["Authorization"] != "Bearer T2" {
		t.Fatalf("second connect used %q", conn.Headers["Authorization"])
	}
	if got := transport.MaxLive(endpoint); got != 1 {
		t.Fatalf("max live sockets = %d, want 1", got)
	}
}

func TestChannel_TransportDropResubscribes(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, events, _ := newChannel(t, transport)
	first := connect(t, ch, transport, "T1")

	got := make(chan string, 4)
	sub := ch.Subscribe("/topic/a", func(m realtime.Message) { got <- string(m.Body) })
	first.Drop(io.ErrUnexpectedEOF)

	second := transport.NextConn(t, wait)
	realtimetest.Eventually(t, wait, func() bool { return second.SubscriptionID("/topic/a") == sub.ID() },
		"subscription %s not replayed on new socket", sub.ID())
	if second.Headers["Authorization"] != "Bearer T1" {
		t.Fatalf("transport reconnect changed credential: %q", second.Headers["Authorization"])
	}
	second.Deliver("/topic/a", `{"after":"reconnect"}`)
	select {
	case body := <-got:
		if body != `{"after":"reconnect"}` {
			t.Fatalf("body = %s", body)
		}
	case <-time.After(wait):
		t.Fatalf("subscription did not fire after reconnect")
	}
	if events.count(realtime.EventAuthFailure) != 0 {
		t.Fatalf("transport drop reported as auth failure")
	}
}

func TestChannel_AuthErrorFrameStopsWithoutRetry(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, events, _ := newChannel(t, transport)
	conn := connect(t, ch, transport, "T1")

	conn.Fail("Unauthorized")
	realtimetest.Eventually(t, wait, func() bool { return events.count(realtime.EventAuthFailure) == 1 },
		"no auth failure event")
	if got := ch.State(); got != realtime.Disconnected {
		t.Fatalf("State() = %v, want disconnected", got)
	}
	time.Sleep(60 * time.Millisecond)
	if got := transport.DialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1 (no retry with a rejected token)", got)
	}
	if err := ch.Wait(t.Context()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestChannel_HandshakeRejectionIsAuthFailure(t *testing.T) {
	transport := realtimetest.NewTransport()
	transport.SetReject(func(string, map[string]string) error {
		return &realtime.HandshakeError{StatusCode: 401, Status: "401 Unauthorized"}
	})
	ch, events, _ := newChannel(t, transport)
	ch.Connect("expired")

	realtimetest.Eventually(t, wait, func() bool { return events.count(realtime.EventAuthFailure) == 1 },
		"no auth failure event")
	time.Sleep(60 * time.Millisecond)
	if got := transport.DialCount(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestChannel_NonAuthErrorFrameKeepsChannel(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, events, _ := newChannel(t, transport)
	conn := connect(t, ch, transport, "T1")

	conn.Fail("broker busy")
	realtimetest.Eventually(t, wait, func() bool { return events.count(realtime.EventFrameError) == 1 },
		"no frame error event")
	if !ch.IsConnected() {
		t.Fatalf("non-auth error frame tore down the channel")
	}
}

func TestChannel_MalformedBodyIsReportedNotFatal(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, events, alerts := newChannel(t, transport)
	conn := connect(t, ch, transport, "T1")

	got := make(chan string, 4)
	ch.Subscribe("/topic/a", func(m realtime.Message) { got <- string(m.Body) })
	conn.Deliver("/topic/a", `not json`)
	conn.Deliver("/topic/a", `{"ok":true}`)

	select {
	case body := <-got:
		if body != `{"ok":true}` {
			t.Fatalf("first delivered body = %s, want the valid one", body)
		}
	case <-time.After(wait):
		t.Fatalf("valid message after malformed one was not delivered")
	}
	if alerts.Count(alert.Warning) != 1 {
		t.Fatalf("warning alerts = %d, want 1", alerts.Count(alert.Warning))
	}
	var decodeErr *realtime.DecodeError
	found := false
	events.mu.Lock()
	for _, ev := range events.events {
		if ev.Kind == realtime.EventFrameError && errors.As(ev.Err, &decodeErr) {
			found = true
		}
	}
	events.mu.Unlock()
	if !found {
		t.Fatalf("no DecodeError event recorded")
	}
	if !ch.IsConnected() {
		t.Fatalf("malformed payload disconnected the channel")
	}
}

func TestChannel_PersistentDropRaisesOneAlert(t *testing.T) {
	transport := realtimetest.NewTransport()
	ch, events, alerts := newChannel(t, transport)
	first := connect(t, ch, transport, "T1")

	transport.SetReject(func(string, map[string]string) error { return errors.New("connection refused") })
	first.Drop(io.ErrUnexpectedEOF)

	realtimetest.Eventually(t, wait, func() bool { return transport.DialCount() >= 7 }, "retries stalled at %d", transport.DialCount())
	if got := alerts.Count(alert.Warning); got != 1 {
		t.Fatalf("warning alerts = %d, want exactly 1", got)
	}
	if got := ch.State(); got != realtime.Reconnecting {
		t.Fatalf("State() = %v, want reconnecting", got)
	}

	transport.SetReject(nil)
	transport.NextConn(t, wait)
	realtimetest.Eventually(t, wait, ch.IsConnected, "never reconnected")
	realtimetest.Eventually(t, wait, func() bool { return alerts.Count(alert.Info) == 1 }, "no restored alert")
	if events.count(realtime.EventConnectionUnstable) != 1 || events.count(realtime.EventConnectionRestored) != 1 {
		t.Fatalf("unstable/restored events = %d/%d, want 1/1",
			events.count(realtime.EventConnectionUnstable), events.count(realtime.EventConnectionRestored))
	}
}
