package session

import (
	"social-realtime/internal/logging"
	"social-realtime/internal/realtime"
)

// Registry is the topic fan-out handed to consumers of one channel identity.
// It always talks to the coordinator's current channel object, so it stays
// valid across credential reconnects and logouts.
type Registry struct {
	coordinator *Coordinator
	identity    realtime.Identity
}

// Subscribe attaches callback to destination and returns its unsubscribe
// function. Before a connection exists it returns a no-op.
func (r *Registry) Subscribe(destination string, callback func(realtime.Message)) (unsubscribe func()) {
	ch := r.coordinator.channel(r.identity)
	if ch == nil {
		r.coordinator.logger.Debug("subscribe before channel exists",
			logging.Field("channel", string(r.identity)),
			logging.Field("topic", destination),
		)
		return func() {}
	}
	return ch.Subscribe(destination, callback).Unsubscribe
}

func (r *Registry) Publish(destination string, payload any) bool {
	ch := r.coordinator.channel(r.identity)
	if ch == nil {
		r.coordinator.metrics.Publish(string(r.identity), "not_connected")
		return false
	}
	return ch.Publish(destination, payload)
}

func (r *Registry) Connected() bool {
	return r.coordinator.IsChannelConnected(r.identity)
}
