package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Row outcome label values.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics holds the import engine's Prometheus collectors. Each Metrics owns
// its registry so several services (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	rowsTotal        *prometheus.CounterVec
	batchesTotal     *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	importsTotal     *prometheus.CounterVec
	importDuration   *prometheus.HistogramVec
	identifiersTotal *prometheus.CounterVec
	allocationErrors *prometheus.CounterVec
	activeImports    prometheus.Gauge
}

// NewMetrics creates and registers the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lims"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Imported rows by entity and outcome.",
		}, []string{"entity", "outcome"}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "batches_total",
			Help:      "Import batches by entity and result (committed, rolled_back).",
		}, []string{"entity", "result"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "batch_duration_seconds",
			Help:      "Time spent applying one batch transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"entity"}),
		importsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Import runs by entity and status (completed, aborted, rejected, failed).",
		}, []string{"entity", "status"}),
		importDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "run_duration_seconds",
			Help:      "Wall time of whole import runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"entity"}),
		identifiersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identifiers",
			Name:      "assigned_total",
			Help:      "Sequential identifiers assigned by entity and mode (generate, preserve).",
		}, []string{"entity", "mode"}),
		allocationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identifiers",
			Name:      "allocation_errors_total",
			Help:      "Failed identifier allocations by entity.",
		}, []string{"entity"}),
		activeImports: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "active",
			Help:      "Imports currently running.",
		}),
	}

	m.registry.MustRegister(
		m.rowsTotal,
		m.batchesTotal,
		m.batchDuration,
		m.importsTotal,
		m.importDuration,
		m.identifiersTotal,
		m.allocationErrors,
		m.activeImports,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) rows(entity EntityType, outcome string, n int) {
	if n > 0 {
		m.rowsTotal.WithLabelValues(string(entity), outcome).Add(float64(n))
	}
}

func (m *Metrics) batch(entity EntityType, result string, seconds float64) {
	m.batchesTotal.WithLabelValues(string(entity), result).Inc()
	m.batchDuration.WithLabelValues(string(entity)).Observe(seconds)
}

func (m *Metrics) run(entity EntityType, status string, seconds float64) {
	m.importsTotal.WithLabelValues(string(entity), status).Inc()
	m.importDuration.WithLabelValues(string(entity)).Observe(seconds)
}

func (m *Metrics) identifiers(entity EntityType, mode string, n int) {
	if n > 0 {
		m.identifiersTotal.WithLabelValues(string(entity), mode).Add(float64(n))
	}
}

func (m *Metrics) allocationError(entity EntityType) {
	m.allocationErrors.WithLabelValues(string(entity)).Inc()
}
