// Package chain computes and verifies the per-account hash chain of ledger entries.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ledgerx/backend/internal/models"
)

// EntryFields are the entry attributes covered by the hash, apart from the
// account and the previous hash.
type EntryFields struct {
	UserID        string
	Type          models.EntryType
	Amount        int64
	Timestamp     time.Time
	TransactionID string
	Category      string
	IsReversal    bool
	OriginalHash  string
}

// canonical fixes the field order of the hashed payload. Do not reorder.
type canonical struct {
	AccountID     string `json:"account_id"`
	UserID        string `json:"user_id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	Timestamp     string `json:"timestamp"`
	TransactionID string `json:"transaction_id"`
	PrevHash      string `json:"prev_hash"`
	Category      string `json:"category"`
	IsReversal    bool   `json:"is_reversal"`
	OriginalHash  string `json:"original_hash"`
}

// ComputeHash returns the hex SHA-256 digest of the entry linked to prevHash.
// prevHash is empty for the first entry on an account.
func ComputeHash(accountID string, fields EntryFields, prevHash string) (string, error) {
	if fields.Amount < 0 {
		return "", fmt.Errorf("%w: negative amount %d", models.ErrInvalidEntryKind, fields.Amount)
	}
	if !fields.Type.Valid() {
		return "", fmt.Errorf("%w: type %q", models.ErrInvalidEntryKind, fields.Type)
	}
	// json.Marshal rewrites invalid UTF-8 to U+FFFD, which would let two
	// different byte strings share a hash.
	for _, f := range [...]struct{ name, value string }{
		{"account_id", accountID},
		{"user_id", fields.UserID},
		{"transaction_id", fields.TransactionID},
		{"prev_hash", prevHash},
		{"category", fields.Category},
		{"original_hash", fields.OriginalHash},
	} {
		if !utf8.ValidString(f.value) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", models.ErrInvalidEntryKind, f.name)
		}
	}

	payload, err := json.Marshal(canonical{
		AccountID:     accountID,
		UserID:        fields.UserID,
		Type:          string(fields.Type),
		Amount:        fields.Amount,
		Timestamp:     fields.Timestamp.UTC().Format(time.RFC3339Nano),
		TransactionID: fields.TransactionID,
		PrevHash:      prevHash,
		Category:      fields.Category,
		IsReversal:    fields.IsReversal,
		OriginalHash:  fields.OriginalHash,
	})
	if err != nil {
		return "", fmt.Errorf("serialize entry: %w", err)
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// FieldsOf extracts the hashed attributes of a stored entry.
func FieldsOf(e *models.LedgerEntry) EntryFields {
	return EntryFields{
		UserID:        e.UserID,
		Type:          e.Type,
		Amount:        e.Amount,
		Timestamp:     e.Timestamp,
		TransactionID: e.TransactionID,
		Category:      e.Category,
		IsReversal:    e.IsReversal,
		OriginalHash:  e.OriginalHash,
	}
}

// HashEntry recomputes the hash of a stored entry from its own fields.
func HashEntry(e *models.LedgerEntry) (string, error) {
	return ComputeHash(e.AccountID, FieldsOf(e), e.PrevHash)
}

// VerifyChain replays entries in append order and checks every link.
// BrokenAt is the index of the first offending entry, nil for a valid chain.
func VerifyChain(accountID string, entries []models.LedgerEntry) models.ChainReport {
	report := models.ChainReport{AccountID: accountID, Valid: true, Length: len(entries)}

	prev := ""
	for i := range entries {
		e := &entries[i]
		if e.AccountID != accountID {
			return broken(report, i, fmt.Sprintf("entry %s belongs to account %s", e.ID, e.AccountID))
		}
		if e.PrevHash != prev {
			return broken(report, i, fmt.Sprintf("entry %s links to %q, expected %q", e.ID, e.PrevHash, prev))
		}
		expected, err := HashEntry(e)
		if err != nil {
			return broken(report, i, err.Error())
		}
		if expected != e.Hash {
			return broken(report, i, fmt.Sprintf("entry %s hash mismatch", e.ID))
		}
		prev = e.Hash
	}

	report.TipHash = prev
	return report
}

func broken(r models.ChainReport, at int, reason string) models.ChainReport {
	r.Valid = false
	r.BrokenAt = &at
	r.Reason = reason
	return r
}
