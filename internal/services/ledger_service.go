package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerx/backend/internal/chain"
	"github.com/ledgerx/backend/internal/models"
	"github.com/ledgerx/backend/internal/observability"
	"github.com/ledgerx/backend/internal/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ledgerTracer = otel.Tracer("services/ledger")

// LedgerService builds balanced, hash-chained transactions.
type LedgerService struct {
	repo      LedgerRepository
	scorer    *RiskScorer
	locks     *AccountLocker
	events    EventPublisher
	audit     *chain.AuditLogger
	validator *ValidationHelper
	metrics   *observability.Metrics
	logger    *zap.Logger
	retry     resilience.Config
	now       func() time.Time
	newID     func() string
}

type LedgerOption func(*LedgerService)

func WithClock(now func() time.Time) LedgerOption {
	return func(s *LedgerService) { s.now = now }
}

func WithIDGenerator(newID func() string) LedgerOption {
	return func(s *LedgerService) { s.newID = newID }
}

func WithEventPublisher(p EventPublisher) LedgerOption {
	return func(s *LedgerService) { s.events = p }
}

// WithAccountLocker shares a locker between services of one process.
func WithAccountLocker(l *AccountLocker) LedgerOption {
	return func(s *LedgerService) { s.locks = l }
}

func NewLedgerService(repo LedgerRepository, scorer *RiskScorer, retry resilience.Config, metrics *observability.Metrics, logger *zap.Logger, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{
		repo:      repo,
		scorer:    scorer,
		locks:     NewAccountLocker(),
		events:    noopEventPublisher{},
		audit:     chain.NewAuditLogger(logger),
		validator: NewValidationHelper(),
		metrics:   metrics,
		logger:    logger,
		retry:     retry,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTransaction makes a single commit attempt. A concurrent append on
// either account surfaces as models.ErrChainConflict.
func (s *LedgerService) CreateTransaction(ctx context.Context, req models.TransactionRequest) (*models.Transaction, error) {
	return s.create(ctx, req, resilience.Config{})
}

// CreateTransactionWithRetry retries chain conflicts with a freshly read tip,
// up to the configured retry budget. Scoring is done once.
func (s *LedgerService) CreateTransactionWithRetry(ctx context.Context, req models.TransactionRequest) (*models.Transaction, error) {
	return s.create(ctx, req, s.retry)
}

func (s *LedgerService) create(ctx context.Context, req models.TransactionRequest, retry resilience.Config) (*models.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreateTransaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.debit_account", req.FromAccount),
		attribute.String("ledger.credit_account", req.ToAccount),
		attribute.Bool("ledger.reversal", req.Reversal != nil),
	)

	kind := "create"
	if req.Reversal != nil {
		kind = "reverse"
	}
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration(kind+"_transaction", time.Since(start))
	}()

	draft, err := s.prepare(ctx, req)
	if err != nil {
		s.metrics.IncrTransaction(kind, "error")
		span.RecordError(err)
		return nil, err
	}

	var tx *models.Transaction
	err = resilience.RetryWithBackoff(ctx, retry, models.IsRetryable, func() error {
		var commitErr error
		tx, commitErr = s.commit(ctx, *draft)
		if errors.Is(commitErr, models.ErrChainConflict) {
			s.metrics.IncrChainConflict()
			s.audit.LogConflict(draft.ID, draft.Debit.AccountID, draft.Credit.AccountID)
		}
		return commitErr
	})
	if err != nil {
		s.metrics.IncrTransaction(kind, "error")
		span.RecordError(err)
		var repoErr *models.RepositoryError
		if errors.As(err, &repoErr) {
			s.audit.LogError(draft.ID, draft.Debit.AccountID, err)
		}
		return nil, err
	}

	s.metrics.IncrTransaction(kind, "success")
	s.audit.LogTransaction(tx)
	if err := s.events.Publish(ctx, tx); err != nil {
		s.metrics.IncrEventPublishFailure()
		s.logger.Warn("failed to publish ledger event",
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
	}
	return tx, nil
}

// prepare validates the request and builds both legs, scored but not yet chained.
func (s *LedgerService) prepare(ctx context.Context, req models.TransactionRequest) (*models.Transaction, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", models.ErrImbalancedAmount, req.Amount)
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, &RequestError{Err: err}
	}

	txID := s.newID()
	ts := s.now().UTC().Truncate(time.Microsecond)

	debit := models.LedgerEntry{
		ID:            s.newID(),
		AccountID:     req.FromAccount,
		UserID:        req.UserID,
		Type:          models.EntryDebit,
		Amount:        req.Amount,
		Timestamp:     ts,
		Category:      req.DebitCategory,
		TransactionID: txID,
	}
	credit := models.LedgerEntry{
		ID:            s.newID(),
		AccountID:     req.ToAccount,
		UserID:        req.UserID,
		Type:          models.EntryCredit,
		Amount:        req.Amount,
		Timestamp:     ts,
		Category:      req.CreditCategory,
		TransactionID: txID,
	}

	reasons := append([]models.ReasonCode(nil), req.Reasons...)
	parentID := ""

	if req.Reversal != nil {
		// Reversals are administrative corrections: neutral score, never suspicious.
		parentID = req.Reversal.ParentID
		debit.IsReversal, debit.OriginalHash = true, req.Reversal.DebitOriginalHash
		credit.IsReversal, credit.OriginalHash = true, req.Reversal.CreditOriginalHash
		reasons = mergeReasons(reasons, models.ReasonReversal)
	} else {
		debitRisk, creditRisk := s.scoreLegs(ctx, &debit, &credit)
		debit.RiskScore, debit.IsSuspicious = debitRisk.Score, debitRisk.Suspicious
		credit.RiskScore, credit.IsSuspicious = creditRisk.Score, creditRisk.Suspicious
		reasons = mergeReasons(reasons, debitRisk.Reasons...)
		reasons = mergeReasons(reasons, creditRisk.Reasons...)
	}

	return &models.Transaction{
		ID:        txID,
		UserID:    req.UserID,
		Debit:     debit,
		Credit:    credit,
		Amount:    req.Amount,
		Timestamp: ts,
		Reasons:   reasons,
		ParentID:  parentID,
	}, nil
}

// scoreLegs scores both entries concurrently. No chain lock is held here.
func (s *LedgerService) scoreLegs(ctx context.Context, debit, credit *models.LedgerEntry) (models.RiskAssessment, models.RiskAssessment) {
	var debitRisk, creditRisk models.RiskAssessment

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		debitRisk = s.scorer.Score(gCtx, debit)
		return nil
	})
	g.Go(func() error {
		creditRisk = s.scorer.Score(gCtx, credit)
		return nil
	})
	_ = g.Wait()

	return debitRisk, creditRisk
}

// commit chains the draft onto both account tips and persists it. The
// account locks cover only read-tip, hash and append.
func (s *LedgerService) commit(ctx context.Context, tx models.Transaction) (*models.Transaction, error) {
	unlock, err := s.locks.Lock(ctx, tx.Debit.AccountID, tx.Credit.AccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	debitPrev, err := s.repo.GetChainTip(ctx, tx.Debit.AccountID)
	if err != nil {
		return nil, err
	}
	creditPrev, err := s.repo.GetChainTip(ctx, tx.Credit.AccountID)
	if err != nil {
		return nil, err
	}

	if err := link(&tx.Debit, debitPrev); err != nil {
		return nil, err
	}
	if err := link(&tx.Credit, creditPrev); err != nil {
		return nil, err
	}

	if err := s.repo.AppendEntryPair(ctx, &tx, debitPrev, creditPrev); err != nil {
		return nil, err
	}
	return &tx, nil
}

func link(e *models.LedgerEntry, prevHash string) error {
	e.PrevHash = prevHash
	hash, err := chain.ComputeHash(e.AccountID, chain.FieldsOf(e), prevHash)
	if err != nil {
		return err
	}
	e.Hash = hash
	return nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetTransaction")
	defer span.End()

	return s.repo.FindTransaction(ctx, id)
}

// GetAccountChain returns the account's entries in append order.
func (s *LedgerService) GetAccountChain(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.GetAccountChain")
	defer span.End()
	span.SetAttributes(attribute.String("ledger.account", accountID))

	return s.repo.ListAccountEntries(ctx, accountID)
}

// VerifyAccountChain replays the account chain and re-derives every hash.
func (s *LedgerService) VerifyAccountChain(ctx context.Context, accountID string) (models.ChainReport, error) {
	entries, err := s.GetAccountChain(ctx, accountID)
	if err != nil {
		return models.ChainReport{}, err
	}

	report := chain.VerifyChain(accountID, entries)
	if !report.Valid {
		s.logger.Error("account chain verification failed",
			zap.String("account_id", accountID),
			zap.Intp("broken_at", report.BrokenAt),
			zap.String("reason", report.Reason),
		)
	}
	return report, nil
}

// RequestError reports a malformed transaction request.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("invalid transaction request: %v", e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func mergeReasons(reasons []models.ReasonCode, extra ...models.ReasonCode) []models.ReasonCode {
	for _, r := range extra {
		dup := false
		for _, existing := range reasons {
			if existing == r {
				dup = true
				break
			}
		}
		if !dup {
			reasons = append(reasons, r)
		}
	}
	return reasons
}
