// Package runctx holds the channel helpers the run loops use to stay
// responsive to cancellation.
package runctx

import (
	"context"
	"log/slog"

	"social-realtime/internal/logging"
)

// RecvOrDone receives from in unless ctx ends first. ok is false when the
// loop named name should stop.
func RecvOrDone[T any](ctx context.Context, name string, logger *logging.Logger, in <-chan T) (v T, ok bool) {
	if logger == nil {
		panic("runctx.RecvOrDone: logger must not be nil")
	}
	select {
	case <-ctx.Done():
		logger.Debug("stopping "+name, logging.Field("reason", ctx.Err()))
		return v, false
	case v, ok = <-in:
		if !ok {
			logger.Debug("stopping "+name, logging.Field("reason", "input closed"))
		}
		return v, ok
	}
}

// SendOrDone blocks until value is delivered or ctx ends.
func SendOrDone[T any](ctx context.Context, name string, logger *logging.Logger, out chan<- T, value T) bool {
	if logger == nil {
		panic("runctx.SendOrDone: logger must not be nil")
	}
	select {
	case out <- value:
		return true
	case <-ctx.Done():
		logger.Debug("dropping "+name+" after cancel", logging.Field("reason", ctx.Err()))
		return false
	}
}

// TrySend delivers value only if out has room. Channel goroutines use it so a
// slow consumer never stalls the socket; a dropped value is logged as a warning
// with fields attached.
func TrySend[T any](name string, logger *logging.Logger, out chan<- T, value T, fields ...slog.Attr) bool {
	select {
	case out <- value:
		return true
	default:
		logger.Warn(name+" dropped", fields...)
		return false
	}
}
