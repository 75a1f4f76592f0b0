// Package metrics exposes Prometheus counters for the realtime session core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry          *prometheus.Registry
	connects          *prometheus.CounterVec
	reconnectAttempts *prometheus.CounterVec
	authFailures      *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	publishes         *prometheus.CounterVec
	connected         *prometheus.GaugeVec
	refreshes         *prometheus.CounterVec
}

// New registers every collector on a private registry so independent sessions
// (and tests) never collide on the global one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_connects_total",
			Help: "Successful STOMP handshakes per channel.",
		}, []string{"channel"}),
		reconnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_reconnect_attempts_total",
			Help: "Transport-level reconnect attempts per channel.",
		}, []string{"channel"}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_auth_failures_total",
			Help: "Authentication failures detected per channel.",
		}, []string{"channel"}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_frames_received_total",
			Help: "MESSAGE frames delivered to subscribers per channel.",
		}, []string{"channel"}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_frames_dropped_total",
			Help: "Inbound frames dropped per channel and reason.",
		}, []string{"channel", "reason"}),
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_publishes_total",
			Help: "Publish calls per channel and result.",
		}, []string{"channel", "result"}),
		connected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "realtime_channel_connected",
			Help: "1 while the channel is connected.",
		}, []string{"channel"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_token_refresh_total",
			Help: "Access token refresh attempts by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Connected(channel string, up bool) {
	if m == nil {
		return
	}
	if up {
		m.connects.WithLabelValues(channel).Inc()
		m.connected.WithLabelValues(channel).Set(1)
		return
	}
	m.connected.WithLabelValues(channel).Set(0)
}

func (m *Metrics) ReconnectAttempt(channel string) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(channel).Inc()
}

func (m *Metrics) AuthFailure(channel string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) FrameReceived(channel string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(channel).Inc()
}

func (m *Metrics) FrameDropped(channel, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(channel, reason).Inc()
}

func (m *Metrics) Publish(channel, result string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) RefreshResult(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}
