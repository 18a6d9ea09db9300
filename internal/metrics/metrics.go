// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Upgrade outcomes recorded by UpgradeOutcome.
const (
	OutcomeHandedOff   = "handed_off"
	OutcomeFailed      = "handshake_failed"
	OutcomeRateLimited = "rate_limited"
)

// Metrics holds the relay's collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	Upgrades       *prometheus.CounterVec
	SessionsActive prometheus.Gauge
	RoomsActive    prometheus.Gauge
	FramesRelayed  prometheus.Counter
	PeersDropped   prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docrelay_http_requests_total",
			Help: "Plain HTTP requests answered by the responder",
		}, []string{"method"}),
		Upgrades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docrelay_upgrades_total",
			Help: "WebSocket upgrade attempts by outcome",
		}, []string{"outcome"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docrelay_sessions_active",
			Help: "Connections currently owned by the session hub",
		}),
		RoomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docrelay_rooms_active",
			Help: "Documents with at least one connected peer",
		}),
		FramesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docrelay_frames_relayed_total",
			Help: "Frames received from a peer and fanned out to its room",
		}),
		PeersDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "docrelay_peers_dropped_total",
			Help: "Peers disconnected because their send queue was full",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(method string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method).Inc()
}

func (m *Metrics) UpgradeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Upgrades.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.SessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.RoomsActive.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.RoomsActive.Dec()
	}
}

func (m *Metrics) FrameRelayed() {
	if m != nil {
		m.FramesRelayed.Inc()
	}
}

func (m *Metrics) PeerDropped() {
	if m != nil {
		m.PeersDropped.Inc()
	}
}
