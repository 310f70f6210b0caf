package quorumlock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors updated by a Manager. Build one per registry
// with NewMetrics and share it between managers.
type Metrics struct {
	// acquire calls by final result, status is acquired|not_acquired|error
	AcquireTotal *prometheus.CounterVec
	// wall time of a whole Acquire call including retries
	AcquireDuration prometheus.Histogram
	// single rounds, outcome is granted|no_quorum|expired
	AttemptsTotal *prometheus.CounterVec
	// per node failures, op is connect|set|delete
	NodeErrorsTotal *prometheus.CounterVec
	ReleaseTotal    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AcquireTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorumlock_acquire_total",
				Help: "total number of acquire calls by result",
			},
			[]string{"status"},
		),
		AcquireDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quorumlock_acquire_duration_seconds",
				Help:    "time taken by acquire calls including retries",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
			},
		),
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorumlock_attempts_total",
				Help: "total number of acquisition rounds by outcome",
			},
			[]string{"outcome"},
		),
		NodeErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorumlock_node_errors_total",
				Help: "total number of failed node calls",
			},
			[]string{"node", "op"},
		),
		ReleaseTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "quorumlock_release_total",
				Help: "total number of release calls",
			},
		),
	}
}

func (m *Metrics) observeAcquire(status string, seconds float64) {
	if m == nil {
		return
	}
	m.AcquireTotal.WithLabelValues(status).Inc()
	m.AcquireDuration.Observe(seconds)
}

func (m *Metrics) observeAttempt(outcome string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeNodeError(e *NodeError) {
	if m == nil {
		return
	}
	m.NodeErrorsTotal.WithLabelValues(e.Node, e.Op).Inc()
}

func (m *Metrics) observeRelease() {
	if m == nil {
		return
	}
	m.ReleaseTotal.Inc()
}
