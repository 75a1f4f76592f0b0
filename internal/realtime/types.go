// Package realtime owns one persistent STOMP channel: connect, subscribe,
// receive, publish, disconnect and transport-level reconnect.
package realtime

import (
	"context"
	"encoding/json"
)

type Identity string

const (
	Chat         Identity = "chat"
	Notification Identity = "notification"
)

type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
)

// Frame is an inbound STOMP frame as seen by the channel.
type Frame struct {
	Command      string
	Destination  string
	Subscription string
	Headers      map[string]string
	Body         []byte
}

const (
	CommandMessage = "MESSAGE"
	CommandError   = "ERROR"
	CommandReceipt = "RECEIPT"
)

// Conn is one live socket. Frames is closed when the socket ends; Err then
// reports why. Close must be safe to call more than once.
type Conn interface {
	Subscribe(id, destination string) error
	Unsubscribe(id string) error
	Send(destination string, body []byte) error
	Frames() <-chan Frame
	Err() error
	Close() error
}

// Transport opens sockets. headers carries connect-time credentials.
type Transport interface {
	Dial(ctx context.Context, endpoint string, headers map[string]string) (Conn, error)
}

// Message is what subscribers receive. Body is always valid JSON.
type Message struct {
	Channel     Identity
	Topic       string
	Destination string
	Headers     map[string]string
	Body        json.RawMessage
}

func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Body, v)
}

type EventKind string

const (
	EventStateChanged       EventKind = "state_changed"
	EventAuthFailure        EventKind = "auth_failure"
	EventFrameError         EventKind = "frame_error"
	EventConnectionUnstable EventKind = "connection_unstable"
	EventConnectionRestored EventKind = "connection_restored"
)

// Event reports channel lifecycle changes to the owner. Channel identifies the
// exact connection object so stale events can be ignored after a reconnect.
type Event struct {
	Kind     EventKind
	Channel  *Channel
	Identity Identity
	State    State
	Err      error
}
