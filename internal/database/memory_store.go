package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerx/backend/internal/models"
)

// MemoryLedgerStore is a process-local ledger with the same conflict and
// uniqueness rules as PostgresLedgerStore. Nothing survives a restart.
type MemoryLedgerStore struct {
	mu           sync.RWMutex
	tips         map[string]string
	transactions map[string]models.Transaction
	reversals    map[string]string // parent id -> reversal id
	accounts     map[string][]models.LedgerEntry
	byHash       map[string][]models.LedgerEntry
	users        map[string][]models.LedgerEntry
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		tips:         make(map[string]string),
		transactions: make(map[string]models.Transaction),
		reversals:    make(map[string]string),
		accounts:     make(map[string][]models.LedgerEntry),
		byHash:       make(map[string][]models.LedgerEntry),
		users:        make(map[string][]models.LedgerEntry),
	}
}

func (m *MemoryLedgerStore) GetChainTip(_ context.Context, accountID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tips[accountID], nil
}

func (m *MemoryLedgerStore) AppendEntryPair(_ context.Context, tx *models.Transaction, expectedDebitPrev, expectedCreditPrev string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if got := m.tips[tx.Debit.AccountID]; got != expectedDebitPrev {
		return fmt.Errorf("%w: tip of account %s moved", models.ErrChainConflict, tx.Debit.AccountID)
	}
	if got := m.tips[tx.Credit.AccountID]; got != expectedCreditPrev {
		return fmt.Errorf("%w: tip of account %s moved", models.ErrChainConflict, tx.Credit.AccountID)
	}
	if _, dup := m.transactions[tx.ID]; dup {
		return &models.RepositoryError{Op: "append", Err: fmt.Errorf("duplicate transaction id %s", tx.ID)}
	}
	if tx.ParentID != "" {
		if _, ok := m.transactions[tx.ParentID]; !ok {
			return &models.RepositoryError{Op: "append", Err: fmt.Errorf("unknown parent transaction %s", tx.ParentID)}
		}
		if existing, ok := m.reversals[tx.ParentID]; ok {
			return fmt.Errorf("%w: %s by %s", models.ErrAlreadyReversed, tx.ParentID, existing)
		}
	}

	stored := *tx
	stored.Reversed = false
	stored.Reasons = append([]models.ReasonCode(nil), tx.Reasons...)
	m.transactions[tx.ID] = stored
	if tx.ParentID != "" {
		m.reversals[tx.ParentID] = tx.ID
	}
	for _, e := range []models.LedgerEntry{tx.Debit, tx.Credit} {
		m.accounts[e.AccountID] = append(m.accounts[e.AccountID], e)
		m.byHash[e.Hash] = append(m.byHash[e.Hash], e)
		m.users[e.UserID] = append(m.users[e.UserID], e)
		m.tips[e.AccountID] = e.Hash
	}
	return nil
}

func (m *MemoryLedgerStore) FindTransaction(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.find(id)
}

func (m *MemoryLedgerStore) find(id string) (*models.Transaction, error) {
	stored, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	tx := stored
	tx.Reasons = append([]models.ReasonCode(nil), stored.Reasons...)
	_, tx.Reversed = m.reversals[id]
	return &tx, nil
}

func (m *MemoryLedgerStore) FindReversalOf(_ context.Context, parentID string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.reversals[parentID]
	if !ok {
		return nil, nil
	}
	return m.find(id)
}

func (m *MemoryLedgerStore) ListEntriesByHash(_ context.Context, hash string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.LedgerEntry(nil), m.byHash[hash]...), nil
}

func (m *MemoryLedgerStore) ListAccountEntries(_ context.Context, accountID string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.LedgerEntry(nil), m.accounts[accountID]...), nil
}

func (m *MemoryLedgerStore) ListUserEntries(_ context.Context, userID string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.users[userID]
	entries := make([]models.LedgerEntry, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		entries = append(entries, stored[i])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

func (m *MemoryLedgerStore) SumSpending(_ context.Context, userID string, f models.SpendingFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, e := range m.users[userID] {
		if m.spends(e, f) {
			total += e.Amount
		}
	}
	return total, nil
}

func (m *MemoryLedgerStore) TopCategories(_ context.Context, userID string, f models.SpendingFilter, limit int) ([]models.CategoryTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make(map[string]int64)
	for _, e := range m.users[userID] {
		if !m.spends(e, f) {
			continue
		}
		category := e.Category
		if category == "" {
			category = models.UncategorizedLabel
		}
		totals[category] += e.Amount
	}

	out := make([]models.CategoryTotal, 0, len(totals))
	for category, amount := range totals {
		out = append(out, models.CategoryTotal{Category: category, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Category < out[j].Category
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// spends reports whether e counts as spending under f. Callers hold m.mu.
func (m *MemoryLedgerStore) spends(e models.LedgerEntry, f models.SpendingFilter) bool {
	if e.Type != models.EntryDebit || e.IsReversal {
		return false
	}
	if _, reversed := m.reversals[e.TransactionID]; reversed {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}
