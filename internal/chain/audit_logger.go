package chain

import (
	"time"

	"github.com/ledgerx/backend/internal/models"
	"go.uber.org/zap"
)

const (
	EventTransactionCreated  = "TRANSACTION_CREATED"
	EventTransactionReversed = "TRANSACTION_REVERSED"
	EventChainConflict       = "CHAIN_CONFLICT"
	EventError               = "ERROR"
)

// AuditLogger writes one structured record per ledger mutation attempt.
type AuditLogger struct {
	logger *zap.Logger
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	return &AuditLogger{logger: logger.Named("audit")}
}

func (a *AuditLogger) LogTransaction(tx *models.Transaction) {
	event := EventTransactionCreated
	if tx.IsReversal() {
		event = EventTransactionReversed
	}
	a.logger.Info(event,
		zap.Time("at", time.Now().UTC()),
		zap.String("transaction_id", tx.ID),
		zap.String("parent_id", tx.ParentID),
		zap.String("user_id", tx.UserID),
		zap.Int64("amount", tx.Amount),
		zap.String("debit_account", tx.Debit.AccountID),
		zap.String("debit_hash", tx.Debit.Hash),
		zap.String("credit_account", tx.Credit.AccountID),
		zap.String("credit_hash", tx.Credit.Hash),
		zap.Bool("suspicious", tx.Debit.IsSuspicious || tx.Credit.IsSuspicious),
	)
}

func (a *AuditLogger) LogConflict(transactionID, fromAccount, toAccount string) {
	a.logger.Warn(EventChainConflict,
		zap.Time("at", time.Now().UTC()),
		zap.String("transaction_id", transactionID),
		zap.String("debit_account", fromAccount),
		zap.String("credit_account", toAccount),
	)
}

func (a *AuditLogger) LogError(transactionID, accountID string, err error) {
	a.logger.Error(EventError,
		zap.Time("at", time.Now().UTC()),
		zap.String("transaction_id", transactionID),
		zap.String("account_id", accountID),
		zap.Error(err),
	)
}
