package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns its registry so tests and multiple servers in one process
// never collide on registration.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	BookingsTotal         *prometheus.CounterVec
	TransitionsTotal      *prometheus.CounterVec
	SlotsGeneratedTotal   prometheus.Counter
	RatingsTotal          prometheus.Counter
	InconsistenciesTotal  prometheus.Counter
	OrphanedSlots         prometheus.Gauge
	SlotCacheLookupsTotal *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		BookingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome (booked, slot_unavailable, invalid, inconsistent, error).",
		}, []string{"outcome"}),

		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by target status.",
		}, []string{"status"}),

		SlotsGeneratedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "slots_generated_total",
			Help:      "Slots newly created by the generator.",
		}),

		RatingsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "ratings_total",
			Help:      "Ratings accepted.",
		}),

		InconsistenciesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "inconsistent_state_total",
			Help:      "Slot claims whose appointment write failed. Alert if non-zero.",
		}),

		OrphanedSlots: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "orphaned_slots",
			Help:      "Booked slots without a live appointment seen by the last reconciliation sweep.",
		}),

		SlotCacheLookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "slot_lookups_total",
			Help:      "Available-slot cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
