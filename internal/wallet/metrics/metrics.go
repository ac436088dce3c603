// Package metrics exposes Prometheus instrumentation for wallet operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the wallet feature's Prometheus collectors. All methods are
// nil-safe so services can run without instrumentation in tests.
type Metrics struct {
	WalletsCreated   prometheus.Counter
	Deposits         prometheus.Counter
	Submissions      prometheus.Counter
	Confirmations    prometheus.Counter
	Revocations      prometheus.Counter
	Executions       *prometheus.CounterVec
	ExecuteDuration  prometheus.Histogram
	SnapshotCacheHit *prometheus.CounterVec
}

// New creates and registers all wallet metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		WalletsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_wallets_created_total",
			Help: "Total number of wallets created.",
		}),
		Deposits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_deposits_total",
			Help: "Total number of deposits credited.",
		}),
		Submissions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_submissions_total",
			Help: "Total number of transactions submitted.",
		}),
		Confirmations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_confirmations_total",
			Help: "Total number of confirmations recorded.",
		}),
		Revocations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_revocations_total",
			Help: "Total number of confirmations revoked.",
		}),
		Executions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_executions_total",
			Help: "Total number of execution attempts by outcome and action.",
		}, []string{"outcome", "action"}),
		ExecuteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_execute_duration_seconds",
			Help:    "Latency of execute operations.",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotCacheHit: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_snapshot_cache_requests_total",
			Help: "Wallet snapshot cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncWalletsCreated() {
	if m != nil {
		m.WalletsCreated.Inc()
	}
}

func (m *Metrics) IncDeposits() {
	if m != nil {
		m.Deposits.Inc()
	}
}

func (m *Metrics) IncSubmissions() {
	if m != nil {
		m.Submissions.Inc()
	}
}

func (m *Metrics) IncConfirmations() {
	if m != nil {
		m.Confirmations.Inc()
	}
}

func (m *Metrics) IncRevocations() {
	if m != nil {
		m.Revocations.Inc()
	}
}

func (m *Metrics) IncExecutions(outcome, action string) {
	if m != nil {
		m.Executions.WithLabelValues(outcome, action).Inc()
	}
}

func (m *Metrics) ObserveExecuteDuration(seconds float64) {
	if m != nil {
		m.ExecuteDuration.Observe(seconds)
	}
}

func (m *Metrics) IncSnapshotCache(result string) {
	if m != nil {
		m.SnapshotCacheHit.WithLabelValues(result).Inc()
	}
}
