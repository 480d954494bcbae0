package models

import (
	"time"
)

type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

func (t EntryType) Valid() bool {
	return t == EntryDebit || t == EntryCredit
}

// Invert returns the opposite side of the ledger.
func (t EntryType) Invert() EntryType {
	if t == EntryDebit {
		return EntryCredit
	}
	return EntryDebit
}

// LedgerEntry is one side of a transaction, chained to the previous entry
// on the same account. Entries are never updated once persisted.
type LedgerEntry struct {
	ID            string    `json:"id" db:"id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Type          EntryType `json:"type" db:"type"`
	Amount        int64     `json:"amount" db:"amount"` // minor units
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	Hash          string    `json:"hash" db:"hash"`
	PrevHash      string    `json:"prev_hash,omitempty" db:"prev_hash"` // empty only for the genesis entry
	IsReversal    bool      `json:"is_reversal" db:"is_reversal"`
	OriginalHash  string    `json:"original_hash,omitempty" db:"original_hash"`
	Category      string    `json:"category,omitempty" db:"category"`
	RiskScore     float64   `json:"risk_score" db:"risk_score"`
	IsSuspicious  bool      `json:"is_suspicious" db:"is_suspicious"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
}

// Transaction pairs exactly one debit and one credit entry.
// Reversed is derived from the existence of a child reversal and is never stored.
type Transaction struct {
	ID        string       `json:"id" db:"id"`
	UserID    string       `json:"user_id" db:"user_id"`
	Debit     LedgerEntry  `json:"debit"`
	Credit    LedgerEntry  `json:"credit"`
	Amount    int64        `json:"amount" db:"amount"`
	Timestamp time.Time    `json:"timestamp" db:"timestamp"`
	Reasons   []ReasonCode `json:"reasons" db:"reasons"`
	ParentID  string       `json:"parent_id,omitempty" db:"parent_id"`
	Reversed  bool         `json:"reversed"`
}

func (t *Transaction) IsReversal() bool {
	return t.ParentID != ""
}

// Balanced reports whether both legs carry the same amount.
func (t *Transaction) Balanced() bool {
	return t.Debit.Amount == t.Credit.Amount && t.Debit.Amount == t.Amount
}

// EntryOn returns the leg booked on accountID, if any.
func (t *Transaction) EntryOn(accountID string) (LedgerEntry, bool) {
	switch accountID {
	case t.Debit.AccountID:
		return t.Debit, true
	case t.Credit.AccountID:
		return t.Credit, true
	}
	return LedgerEntry{}, false
}

type ReasonCode string

const (
	ReasonReversal      ReasonCode = "reversal"
	ReasonHighAmount    ReasonCode = "high_amount"
	ReasonUncategorized ReasonCode = "uncategorized"
	ReasonOddHour       ReasonCode = "odd_hour"
	ReasonManual        ReasonCode = "manual"
)

// ChainReport is the outcome of replaying an account chain.
type ChainReport struct {
	AccountID string `json:"account_id"`
	Valid     bool   `json:"valid"`
	Length    int    `json:"length"`
	TipHash   string `json:"tip_hash,omitempty"`
	BrokenAt  *int   `json:"broken_at,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
