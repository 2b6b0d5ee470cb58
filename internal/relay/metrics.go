package relay

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the relay's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	clients    *prometheus.GaugeVec
	broadcasts *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	evictions  *prometheus.CounterVec
	catchUp    *prometheus.GaugeVec
}

// NewMetrics creates and registers the relay collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		clients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "airwave",
			Name:      "relay_clients",
			Help:      "Connected listeners per station.",
		}, []string{"station"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airwave",
			Name:      "relay_broadcast_payloads_total",
			Help:      "Decoded audio payloads offered to listeners.",
		}, []string{"station"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airwave",
			Name:      "relay_delivered_payloads_total",
			Help:      "Audio payloads written to listener sockets.",
		}, []string{"station"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "airwave",
			Name:      "relay_client_departures_total",
			Help:      "Listeners unregistered, by reason.",
		}, []string{"station", "reason"}),
		catchUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "airwave",
			Name:      "subscriber_catchup_dropped_ms",
			Help:      "Audio skipped by the last catch-up, in milliseconds.",
		}, []string{"station"}),
	}
	reg.MustRegister(m.clients, m.broadcasts, m.deliveries, m.evictions, m.catchUp)
	return m
}

func label(station int) string {
	return strconv.Itoa(station)
}

// register creates the station's client series so it reads 0 before the
// first listener joins.
func (m *Metrics) register(station int) {
	if m == nil {
		return
	}
	m.clients.WithLabelValues(label(station))
}

func (m *Metrics) joined(station int) {
	if m == nil {
		return
	}
	m.clients.WithLabelValues(label(station)).Inc()
}

func (m *Metrics) left(station int, reason error) {
	if m == nil {
		return
	}
	m.clients.WithLabelValues(label(station)).Dec()
	m.evictions.WithLabelValues(label(station), reasonLabel(reason)).Inc()
}

func (m *Metrics) broadcast(station int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(label(station)).Inc()
}

func (m *Metrics) delivered(station int) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(label(station)).Inc()
}

// ObserveCatchUp records how much audio a subscriber skipped to reach the
// live edge.
func (m *Metrics) ObserveCatchUp(station int, droppedMs uint64) {
	if m == nil {
		return
	}
	m.catchUp.WithLabelValues(label(station)).Set(float64(droppedMs))
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrClientSendBufferFull):
		return "buffer_full"
	case errors.Is(err, ErrClientTimeout):
		return "timeout"
	case errors.Is(err, ErrClientClosed):
		return "closed"
	default:
		return "write_error"
	}
}
