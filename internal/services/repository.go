package services

import (
	"context"

	"github.com/ledgerx/backend/internal/models"
)

// LedgerRepository is the durable append-only store behind the ledger.
// Implementations wrap storage failures in *models.RepositoryError.
type LedgerRepository interface {
	// GetChainTip returns the hash of the latest entry on the account,
	// or "" when the account has no entries yet.
	GetChainTip(ctx context.Context, accountID string) (string, error)

	// AppendEntryPair persists tx and both of its entries atomically. It fails
	// with models.ErrChainConflict when either account tip no longer matches
	// the expected value, and with models.ErrAlreadyReversed when another
	// transaction already carries tx.ParentID.
	AppendEntryPair(ctx context.Context, tx *models.Transaction, expectedDebitPrev, expectedCreditPrev string) error

	// FindTransaction returns models.ErrNotFound when id is unknown.
	FindTransaction(ctx context.Context, id string) (*models.Transaction, error)

	// FindReversalOf returns nil, nil when parentID has not been reversed.
	FindReversalOf(ctx context.Context, parentID string) (*models.Transaction, error)

	ListEntriesByHash(ctx context.Context, hash string) ([]models.LedgerEntry, error)

	// ListAccountEntries returns the account's entries in append order.
	ListAccountEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error)

	// ListUserEntries returns every entry booked by userID, newest first.
	ListUserEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error)

	// SumSpending totals the user's debit legs matching f. Reversal legs and
	// legs of reversed transactions are left out.
	SumSpending(ctx context.Context, userID string, f models.SpendingFilter) (int64, error)

	// TopCategories groups the same legs as SumSpending by category, largest
	// first, ties by name. Empty categories count as models.UncategorizedLabel.
	TopCategories(ctx context.Context, userID string, f models.SpendingFilter, limit int) ([]models.CategoryTotal, error)
}
