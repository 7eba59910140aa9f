package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	RegionPages      *prometheus.GaugeVec
	AllocatedBuckets prometheus.Gauge
	RegistryEntries  prometheus.Gauge
	OperationLatency *prometheus.HistogramVec
	OperationErrors  *prometheus.CounterVec
	Reseeds          *prometheus.CounterVec
	ActivityMirrored prometheus.Counter
	ActivityDropped  prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RegionPages: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "emrvault_region_pages",
			Help: "Pages currently mapped to each stable memory region",
		}, []string{"region"}),
		AllocatedBuckets: f.NewGauge(prometheus.GaugeOpts{
			Name: "emrvault_allocated_buckets",
			Help: "Buckets handed out by the region allocator",
		}),
		RegistryEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "emrvault_registry_entries",
			Help: "Live fragments in the composite key registry",
		}),
		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "emrvault_operation_duration_seconds",
			Help:    "Latency of record operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		OperationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emrvault_operation_errors_total",
			Help: "Record operations that returned an error, by code",
		}, []string{"operation", "code"}),
		Reseeds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emrvault_idgen_reseeds_total",
			Help: "Identifier generator reseed attempts",
		}, []string{"result"}),
		ActivityMirrored: f.NewCounter(prometheus.CounterOpts{
			Name: "emrvault_activity_mirrored_total",
			Help: "Activity entries published to the external stream",
		}),
		ActivityDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "emrvault_activity_dropped_total",
			Help: "Activity entries dropped because the mirror buffer was full",
		}),
	}
}

func (m *Metrics) ObserveOperation(op string, start time.Time) {
	m.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementOperationError(op, code string) {
	m.OperationErrors.WithLabelValues(op, code).Inc()
}

func (m *Metrics) SetRegionPages(region string, pages uint64) {
	m.RegionPages.WithLabelValues(region).Set(float64(pages))
}

// ReseedResult matches the idgen result hook signature.
func (m *Metrics) ReseedResult(err error) {
	if err != nil {
		m.Reseeds.WithLabelValues("failure").Inc()
		return
	}
	m.Reseeds.WithLabelValues("success").Inc()
}
