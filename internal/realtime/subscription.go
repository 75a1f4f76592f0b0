package realtime

import "sync/atomic"

// Subscription is one topic callback registered on a Channel. Once inactive it
// never fires again.
type Subscription struct {
	id       string
	topic    string
	callback func(Message)
	channel  *Channel
	active   atomic.Bool
}

// noopSubscription is handed out when the channel cannot subscribe. It is
// permanently inactive.
func noopSubscription(topic string) *Subscription {
	return &Subscription{topic: topic}
}

func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

func (s *Subscription) Topic() string {
	if s == nil {
		return ""
	}
	return s.topic
}

func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}

// Unsubscribe is idempotent and safe on a no-op subscription.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	if s.channel != nil {
		s.channel.release(s)
	}
}

func (s *Subscription) deactivate() {
	s.active.Store(false)
}

func (s *Subscription) deliver(msg Message) bool {
	if !s.active.Load() || s.callback == nil {
		return false
	}
	s.callback(msg)
	return true
}
