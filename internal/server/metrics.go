package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event result labels.
const (
	resultHandled = "handled"
	resultDropped = "dropped"
)

// Metrics holds the collectors for one server instance. Each instance owns
// its registry so tests can run several servers side by side.
type Metrics struct {
	registry       *prometheus.Registry
	connections    prometheus.Gauge
	events         *prometheus.CounterVec
	droppedClients prometheus.Counter
}

// NewMetrics registers the RoomChat collectors. users and rooms are sampled
// at scrape time.
func NewMetrics(users, rooms func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_connections",
			Help: "Open WebSocket connections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_events_total",
			Help: "Inbound events by name and result.",
		}, []string{"event", "result"}),
		droppedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_dropped_clients_total",
			Help: "Clients disconnected because their send buffer was full.",
		}),
	}

	reg.MustRegister(
		m.connections,
		m.events,
		m.droppedClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if users != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "roomchat_registered_users",
			Help: "Connections that have announced an identity.",
		}, func() float64 { return float64(users()) }))
	}
	if rooms != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "roomchat_rooms",
			Help: "Rooms in the directory.",
		}, func() float64 { return float64(rooms()) }))
	}
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) clientConnected() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) clientGone() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) clientDropped() {
	if m != nil {
		m.droppedClients.Inc()
	}
}

func (m *Metrics) event(name, result string) {
	if m != nil {
		m.events.WithLabelValues(name, result).Inc()
	}
}
