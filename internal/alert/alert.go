// Package alert is the user-visible notification sink used by the realtime
// core. Delivery is fire-and-forget.
package alert

import (
	"sync"

	"social-realtime/internal/logging"
)

type Kind string

const (
	Info           Kind = "info"
	Warning        Kind = "warning"
	Error          Kind = "error"
	SessionExpired Kind = "session_expired"
)

type Notifier interface {
	Notify(kind Kind, message string)
}

type Func func(kind Kind, message string)

func (f Func) Notify(kind Kind, message string) {
	if f != nil {
		f(kind, message)
	}
}

// LogNotifier surfaces alerts through the logger, at a level matching kind.
type LogNotifier struct {
	Logger *logging.Logger
}

func (n LogNotifier) Notify(kind Kind, message string) {
	switch kind {
	case Info:
		n.Logger.Info(message, logging.Field("alert", string(kind)))
	case Warning:
		n.Logger.Warn(message, logging.Field("alert", string(kind)))
	default:
		n.Logger.Error(message, logging.Field("alert", string(kind)))
	}
}

// Recorder keeps every alert in order. Handy for tests and status views.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

type Alert struct {
	Kind    Kind
	Message string
}

func (r *Recorder) Notify(kind Kind, message string) {
	r.mu.Lock()
	r.alerts = append(r.alerts, Alert{Kind: kind, Message: message})
	r.mu.Unlock()
}

func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Multi fans an alert out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(kind Kind, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(kind, message)
		}
	}
}
