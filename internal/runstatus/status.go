// Package runstatus names the per-channel statuses reported to hooks and shown
// to the user.
package runstatus

import "social-realtime/internal/realtime"

const (
	Connecting       = "Connecting"
	Connected        = "Connected"
	Reconnecting     = "Reconnecting"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
	SessionExpired   = "Session expired"
)

// ForState maps a channel state onto its display status. Auth and expiry
// statuses are never derived from state alone.
func ForState(state realtime.State) string {
	switch state {
	case realtime.Connecting:
		return Connecting
	case realtime.Connected:
		return Connected
	case realtime.Reconnecting:
		return Reconnecting
	default:
		return Disconnected
	}
}

// Settled reports whether status needs user action or a new login before it
// can change again.
func Settled(status string) bool {
	return status == DisconnectedAuth || status == SessionExpired
}
