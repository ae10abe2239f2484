package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"identify/internal/contact/models"
)

// Metrics provides observability for reconciliation.
// Tracks outcomes, merge sizes, failures by code, and end-to-end latency.
type Metrics struct {
	Reconciliations   *prometheus.CounterVec
	DemotedPrimaries  prometheus.Counter
	RelinkedContacts  prometheus.Counter
	Failures          *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	ResolveRetries    prometheus.Counter
}

// New registers the reconciliation metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identify_reconciliations_total",
			Help: "Completed reconciliations by outcome",
		}, []string{"outcome"}),
		DemotedPrimaries: factory.NewCounter(prometheus.CounterOpts{
			Name: "identify_demoted_primaries_total",
			Help: "Primary contacts demoted to secondary by cluster merges",
		}),
		RelinkedContacts: factory.NewCounter(prometheus.CounterOpts{
			Name: "identify_relinked_contacts_total",
			Help: "Contacts whose link was rewritten by cluster merges",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identify_reconcile_failures_total",
			Help: "Failed reconciliations by error code",
		}, []string{"code"}),
		ReconcileDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "identify_reconcile_duration_seconds",
			Help:    "Duration of Reconcile including the store transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ResolveRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "identify_resolve_retries_total",
			Help: "Lookups repeated because a cluster root changed under lock",
		}),
	}
}

// ObserveResolution records a committed reconciliation.
func (m *Metrics) ObserveResolution(res models.Resolution, start time.Time) {
	m.Reconciliations.WithLabelValues(string(res.Outcome())).Inc()
	m.DemotedPrimaries.Add(float64(len(res.Demoted)))
	m.RelinkedContacts.Add(float64(len(res.Relinked)))
	m.ReconcileDuration.Observe(time.Since(start).Seconds())
}

// IncrementFailure records a reconciliation that returned an error.
func (m *Metrics) IncrementFailure(code string) {
	m.Failures.WithLabelValues(code).Inc()
}

// IncrementResolveRetry records one repeated lookup.
func (m *Metrics) IncrementResolveRetry() {
	m.ResolveRetries.Inc()
}
