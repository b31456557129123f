package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Hub metrics.
var (
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_connections_active",
		Help: "Currently registered connections.",
	})

	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_rooms_active",
		Help: "Rooms with at least one member.",
	})

	EventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_events_dispatched_total",
			Help: "Events accepted by the dispatch loop.",
		},
		[]string{"type"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_events_dropped_total",
			Help: "Events rejected before fan-out.",
		},
		[]string{"reason"},
	)

	Deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_deliveries_total",
		Help: "Per-connection event deliveries.",
	})

	SlowConsumerDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_slow_consumer_drops_total",
		Help: "Connections dropped because their outbound buffer overflowed.",
	})

	RequestsRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_requests_rate_limited_total",
		Help: "HTTP requests rejected by the per-IP rate limiter.",
	})
)

// Init registers the hub metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		ConnectionsActive,
		RoomsActive,
		EventsDispatched,
		EventsDropped,
		Deliveries,
		SlowConsumerDrops,
		RequestsRateLimited,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
