package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds the ledger's Prometheus collectors.
type Metrics struct {
	// Registry owns these metrics; the /metrics endpoint serves it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	transactions      *prometheus.CounterVec
	chainConflicts    prometheus.Counter
	scoringFailures   *prometheus.CounterVec
	suspiciousEntries prometheus.Counter
	eventPublishFails prometheus.Counter
}

// NewMetrics registers all collectors in a private registry so that it can
// be called more than once (tests) without duplicate registration panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_transactions_total",
				Help: "Ledger transactions by kind and outcome.",
			},
			[]string{"kind", "status"},
		),
		chainConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_chain_conflicts_total",
				Help: "Appends rejected because an account tip moved.",
			},
		),
		scoringFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_scoring_failures_total",
				Help: "Risk scoring calls that fell back to the neutral score.",
			},
			[]string{"cause"},
		),
		suspiciousEntries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_suspicious_entries_total",
				Help: "Entries flagged suspicious at creation.",
			},
		),
		eventPublishFails: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_event_publish_failures_total",
				Help: "Committed transactions whose event could not be queued.",
			},
		),
	}
}

func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrTransaction counts a create or reverse outcome.
func (m *Metrics) IncrTransaction(kind, status string) {
	m.transactions.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) IncrChainConflict() {
	m.chainConflicts.Inc()
}

func (m *Metrics) IncrScoringFailure(cause string) {
	m.scoringFailures.WithLabelValues(cause).Inc()
}

func (m *Metrics) IncrSuspicious() {
	m.suspiciousEntries.Inc()
}

func (m *Metrics) IncrEventPublishFailure() {
	m.eventPublishFails.Inc()
}

// Snapshot is a point-in-time view of the counters, served as JSON.
type Snapshot struct {
	TransactionsCreated  int64 `json:"transactions_created"`
	TransactionsReversed int64 `json:"transactions_reversed"`
	Failures             int64 `json:"failures"`
	ChainConflicts       int64 `json:"chain_conflicts"`
	ScoringFailures      int64 `json:"scoring_failures"`
	SuspiciousEntries    int64 `json:"suspicious_entries"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TransactionsCreated:  int64(getCounterValue(m.transactions.WithLabelValues("create", "success"))),
		TransactionsReversed: int64(getCounterValue(m.transactions.WithLabelValues("reverse", "success"))),
		Failures: int64(getCounterValue(m.transactions.WithLabelValues("create", "error")) +
			getCounterValue(m.transactions.WithLabelValues("reverse", "error"))),
		ChainConflicts: int64(getCounterValue(m.chainConflicts)),
		ScoringFailures: int64(getCounterValue(m.scoringFailures.WithLabelValues("timeout")) +
			getCounterValue(m.scoringFailures.WithLabelValues("unavailable")) +
			getCounterValue(m.scoringFailures.WithLabelValues("malformed"))),
		SuspiciousEntries: int64(getCounterValue(m.suspiciousEntries)),
	}
}

// getCounterValue extracts the current value of a counter.
func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
