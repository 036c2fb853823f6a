package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the certificate module.
type Metrics struct {
	// Submissions by outcome: "accepted", "rejected", "failed"
	Submissions *prometheus.CounterVec

	// Decisions by target status and outcome
	Decisions *prometheus.CounterVec

	// Approvals that lost the conditional update to a concurrent writer
	DecisionConflicts prometheus.Counter

	StampLatency prometheus.Histogram

	UploadBytes prometheus.Histogram

	// Requests currently stored per status, refreshed by the backlog reporter
	Requests *prometheus.GaugeVec
}

// New registers the certificate metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certifier_submissions_total",
			Help: "Certificate request submissions by outcome",
		}, []string{"outcome"}),

		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "certifier_decisions_total",
			Help: "Reviewer decisions by target status and outcome",
		}, []string{"status", "outcome"}),

		DecisionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "certifier_decision_conflicts_total",
			Help: "Decisions that lost a concurrent conditional update",
		}),

		StampLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certifier_stamp_duration_seconds",
			Help:    "Duration of stamping a document including blob reads and writes",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		UploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "certifier_upload_bytes",
			Help:    "Size of accepted uploads",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 6),
		}),

		Requests: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "certifier_requests",
			Help: "Stored certificate requests by status",
		}, []string{"status"}),
	}
}

func (m *Metrics) IncSubmission(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncDecision(status, outcome string) {
	if m != nil {
		m.Decisions.WithLabelValues(status, outcome).Inc()
	}
}

func (m *Metrics) IncDecisionConflict() {
	if m != nil {
		m.DecisionConflicts.Inc()
	}
}

func (m *Metrics) ObserveStampLatency(d time.Duration) {
	if m != nil {
		m.StampLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveUploadBytes(n int) {
	if m != nil {
		m.UploadBytes.Observe(float64(n))
	}
}

// SetRequests replaces the per-status gauges.
func (m *Metrics) SetRequests(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.Requests.WithLabelValues(status).Set(float64(n))
	}
}
