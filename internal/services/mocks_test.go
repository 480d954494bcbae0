package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ledgerx/backend/internal/config"
	"github.com/ledgerx/backend/internal/database"
	"github.com/ledgerx/backend/internal/models"
	"github.com/ledgerx/backend/internal/observability"
	"github.com/ledgerx/backend/internal/resilience"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

type MockScoringClient struct {
	mock.Mock
}

func (m *MockScoringClient) Score(ctx context.Context, features models.RiskFeatures) (float64, error) {
	args := m.Called(ctx, features)
	return args.Get(0).(float64), args.Error(1)
}

// scoringFunc adapts a function to ScoringClient.
type scoringFunc func(ctx context.Context, features models.RiskFeatures) (float64, error)

func (f scoringFunc) Score(ctx context.Context, features models.RiskFeatures) (float64, error) {
	return f(ctx, features)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs(prefix string) func() string {
	var n int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&n, 1))
	}
}

var testRetry = resilience.Config{MaxRetries: 3, InitialBackoff: time.Millisecond}

type testLedger struct {
	store     *database.MemoryLedgerStore
	ledger    *LedgerService
	reversals *ReversalService
	clock     *fakeClock
	metrics   *observability.Metrics
}

type ledgerSetup struct {
	wrap      func(LedgerRepository) LedgerRepository
	client    ScoringClient
	scoring   RiskScorerConfig
	publisher EventPublisher
}

func newTestLedger(t *testing.T, setup ledgerSetup) *testLedger {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store := database.NewMemoryLedgerStore()
	var repo LedgerRepository = store
	if setup.wrap != nil {
		repo = setup.wrap(store)
	}
	if setup.scoring.HighAmountThreshold == 0 {
		setup.scoring.HighAmountThreshold = 10_000_000
	}

	clock := newFakeClock()
	metrics := observability.NewMetrics()
	scorer := NewRiskScorer(setup.client, setup.scoring, metrics, logger)

	opts := []LedgerOption{
		WithClock(clock.Now),
		WithIDGenerator(sequentialIDs("id")),
	}
	if setup.publisher != nil {
		opts = append(opts, WithEventPublisher(setup.publisher))
	}
	ledger := NewLedgerService(repo, scorer, testRetry, metrics, logger, opts...)
	reversals := NewReversalService(repo, ledger, config.MaxReversalAge, logger, WithReversalClock(clock.Now))

	return &testLedger{
		store:     store,
		ledger:    ledger,
		reversals: reversals,
		clock:     clock,
		metrics:   metrics,
	}
}

func transfer(from, to string, amount int64) models.TransactionRequest {
	return models.TransactionRequest{
		UserID:         "user-1",
		FromAccount:    from,
		ToAccount:      to,
		Amount:         amount,
		DebitCategory:  "food",
		CreditCategory: "salary",
	}
}

// gatedRepository holds the first n readers of account's tip until all of
// them have read it, so they commit against the same tip.
type gatedRepository struct {
	LedgerRepository
	account string
	n       int32
	seen    int32
	gate    sync.WaitGroup
}

func newGatedRepository(repo LedgerRepository, account string, n int) *gatedRepository {
	g := &gatedRepository{LedgerRepository: repo, account: account, n: int32(n)}
	g.gate.Add(n)
	return g
}

func (g *gatedRepository) GetChainTip(ctx context.Context, accountID string) (string, error) {
	tip, err := g.LedgerRepository.GetChainTip(ctx, accountID)
	if accountID == g.account && atomic.AddInt32(&g.seen, 1) <= g.n {
		g.gate.Done()
		g.gate.Wait()
	}
	return tip, err
}

// faultyRepository fails the first failures appends with err.
type faultyRepository struct {
	LedgerRepository
	err      error
	failures int32
	appends  int32
}

func (f *faultyRepository) AppendEntryPair(ctx context.Context, tx *models.Transaction, expectedDebitPrev, expectedCreditPrev string) error {
	if atomic.AddInt32(&f.appends, 1) <= f.failures {
		return f.err
	}
	return f.LedgerRepository.AppendEntryPair(ctx, tx, expectedDebitPrev, expectedCreditPrev)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, tx *models.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, NewLedgerEvent(tx))
	return nil
}
