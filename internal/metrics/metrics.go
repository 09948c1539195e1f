package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
)

var (
	triageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsmend",
			Name:      "triage_total",
			Help:      "Total number of log entries triaged, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	triageDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "opsmend",
			Name:      "triage_seconds",
			Help:      "Triage latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsmend",
			Name:      "classifications_total",
			Help:      "Classifications produced, partitioned by error type.",
		},
		[]string{"error_type"},
	)

	patchOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "opsmend",
			Name:      "patch_operations_total",
			Help:      "Patch apply/rollback operations, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	incidentsStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsmend",
			Name:      "incidents_stored_total",
			Help:      "Incidents persisted to the store.",
		},
	)

	incidentsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "opsmend",
			Name:      "incidents_suppressed_total",
			Help:      "Incoming incidents suppressed as near-duplicates at store time.",
		},
	)

	incidentStoreSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "opsmend",
			Name:      "incident_store_size",
			Help:      "Current number of incidents held by the store.",
		},
	)
)

// Register attaches opsmend collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		triageTotal,
		triageDurationSeconds,
		classificationsTotal,
		patchOperationsTotal,
		incidentsStoredTotal,
		incidentsSuppressedTotal,
		incidentStoreSize,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTriage records a triage duration and outcome label.
func ObserveTriage(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	triageTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	triageDurationSeconds.Observe(duration.Seconds())
}

// ObserveClassification counts a produced classification by error type.
func ObserveClassification(errorType string) {
	if errorType == "" {
		errorType = "unknown"
	}
	classificationsTotal.WithLabelValues(errorType).Inc()
}

// ObservePatchOperation counts an apply or rollback by outcome.
func ObservePatchOperation(operation string, success bool) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeError
	}
	patchOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveIncidentStored counts a persisted incident and updates the size gauge.
func ObserveIncidentStored(storeSize int) {
	incidentsStoredTotal.Inc()
	incidentStoreSize.Set(float64(storeSize))
}

// ObserveIncidentSuppressed counts a store-time duplicate suppression.
func ObserveIncidentSuppressed() {
	incidentsSuppressedTotal.Inc()
}

// SetStoreSize updates the incident store size gauge.
func SetStoreSize(storeSize int) {
	incidentStoreSize.Set(float64(storeSize))
}
