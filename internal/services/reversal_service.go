package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerx/backend/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReversalService undoes transactions by booking their inverse. A
// transaction is ACTIVE until a child with ParentID = its id exists, after
// which it is REVERSED for good.
type ReversalService struct {
	repo   LedgerRepository
	ledger *LedgerService
	locks  *AccountLocker
	window time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type ReversalOption func(*ReversalService)

func WithReversalClock(now func() time.Time) ReversalOption {
	return func(s *ReversalService) { s.now = now }
}

func NewReversalService(repo LedgerRepository, ledger *LedgerService, window time.Duration, logger *zap.Logger, opts ...ReversalOption) *ReversalService {
	s := &ReversalService{
		repo:   repo,
		ledger: ledger,
		locks:  NewAccountLocker(),
		window: window,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReverseTransaction books the inverse of transactionID and returns the new
// reversal transaction. The original is never modified.
func (s *ReversalService) ReverseTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	ctx, span := ledgerTracer.Start(ctx, "ReversalService.ReverseTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("ledger.parent_id", transactionID))

	// Check-then-create is one critical section per parent in this process;
	// the unique parent_id in storage covers every other writer.
	unlock, err := s.locks.Lock(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	original, err := s.repo.FindTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindReversalOf(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s by %s", models.ErrAlreadyReversed, transactionID, existing.ID)
	}

	if age := s.now().Sub(original.Timestamp); age > s.window {
		return nil, fmt.Errorf("%w: %s is %s old, limit %s",
			models.ErrReversalWindowExpired, transactionID, age.Truncate(time.Second), s.window)
	}

	// The original credit account is debited back and the original debit
	// account is credited back, for the same amount.
	req := models.TransactionRequest{
		UserID:         original.UserID,
		FromAccount:    original.Credit.AccountID,
		ToAccount:      original.Debit.AccountID,
		Amount:         original.Amount,
		DebitCategory:  original.Credit.Category,
		CreditCategory: original.Debit.Category,
		Reasons:        []models.ReasonCode{models.ReasonReversal},
		Reversal: &models.ReversalOf{
			ParentID:           original.ID,
			DebitOriginalHash:  original.Credit.Hash,
			CreditOriginalHash: original.Debit.Hash,
		},
	}

	reversal, err := s.ledger.CreateTransactionWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("transaction reversed",
		zap.String("transaction_id", original.ID),
		zap.String("reversal_id", reversal.ID),
	)
	return reversal, nil
}

// ReverseByEntryHash reverses the transaction owning the entry with hash.
func (s *ReversalService) ReverseByEntryHash(ctx context.Context, hash string) (*models.Transaction, error) {
	entries, err := s.repo.ListEntriesByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no entry with hash %s", models.ErrNotFound, hash)
	}
	return s.ReverseTransaction(ctx, entries[0].TransactionID)
}
