package observability_test

import (
	"testing"
	"time"

	"github.com/ledgerx/backend/internal/observability"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Snapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrTransaction("create", "success")
	m.IncrTransaction("create", "success")
	m.IncrTransaction("reverse", "success")
	m.IncrTransaction("create", "error")
	m.IncrChainConflict()
	m.IncrScoringFailure("timeout")
	m.IncrScoringFailure("malformed")
	m.IncrSuspicious()
	m.RecordDuration("create_transaction", 15*time.Millisecond)

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.TransactionsCreated)
	assert.Equal(t, int64(1), s.TransactionsReversed)
	assert.Equal(t, int64(1), s.Failures)
	assert.Equal(t, int64(1), s.ChainConflicts)
	assert.Equal(t, int64(2), s.ScoringFailures)
	assert.Equal(t, int64(1), s.SuspiciousEntries)
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()

	a.IncrChainConflict()

	assert.Equal(t, int64(1), a.Snapshot().ChainConflicts)
	assert.Equal(t, int64(0), b.Snapshot().ChainConflicts)

	families, err := a.Registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}
