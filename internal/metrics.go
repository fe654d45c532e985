package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boardlive/internal/wire"
)

// Metrics holds the realtime layer's Prometheus collectors. Each server owns
// its own registry so several servers can live in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	activeConns        prometheus.Gauge
	authenticatedConns prometheus.Gauge
	activeRooms        prometheus.Gauge
	envelopes          *prometheus.CounterVec
	protocolErrors     *prometheus.CounterVec
	slowConsumerDrops  prometheus.Counter
	archiveFailures    prometheus.Counter
	archiveDropped     prometheus.Counter
	signups            prometheus.Counter
	logins             prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "boardlive_active_connections",
			Help: "Number of open realtime connections",
		}),
		authenticatedConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "boardlive_authenticated_connections",
			Help: "Number of open connections bound to a user",
		}),
		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "boardlive_active_rooms",
			Help: "Number of rooms with at least one member",
		}),
		envelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boardlive_inbound_envelopes_total",
			Help: "Decoded client envelopes by type",
		}, []string{"type"}),
		protocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "boardlive_protocol_errors_total",
			Help: "Rejected client envelopes by reason",
		}, []string{"reason"}),
		slowConsumerDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "boardlive_slow_consumer_drops_total",
			Help: "Connections dropped because their mailbox overflowed",
		}),
		archiveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "boardlive_archive_failures_total",
			Help: "Chat messages the archive failed to persist",
		}),
		archiveDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "boardlive_archive_dropped_total",
			Help: "Chat messages dropped because the archive queue was full",
		}),
		signups: factory.NewCounter(prometheus.CounterOpts{
			Name: "boardlive_signups_total",
			Help: "Successful sign-ups",
		}),
		logins: factory.NewCounter(prometheus.CounterOpts{
			Name: "boardlive_logins_total",
			Help: "Successful logins",
		}),
	}
}

func (m *Metrics) IncSignup() { m.signups.Inc() }
func (m *Metrics) IncLogin() { m.logins.Inc() }

func (m *Metrics) ConnOpened() { m.activeConns.Inc() }
func (m *Metrics) ConnClosed() { m.activeConns.Dec() }

func (m *Metrics) Authenticated() { m.authenticatedConns.Inc() }
func (m *Metrics) Deauthenticated() { m.authenticatedConns.Dec() }

func (m *Metrics) SetRooms(n int) { m.activeRooms.Set(float64(n)) }

func (m *Metrics) Envelope(t wire.Type) { m.envelopes.WithLabelValues(string(t)).Inc() }
func (m *Metrics) ProtocolError(reason string) { m.protocolErrors.WithLabelValues(reason).Inc() }

func (m *Metrics) SlowConsumerDropped() { m.slowConsumerDrops.Inc() }
func (m *Metrics) ArchiveFailed() { m.archiveFailures.Inc() }
func (m *Metrics) ArchiveDropped() { m.archiveDropped.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
