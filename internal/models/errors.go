package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEntryKind rejects an entry that cannot be hashed, such as a
	// negative amount or a field that is not valid UTF-8.
	ErrInvalidEntryKind = errors.New("invalid entry kind")

	ErrImbalancedAmount = errors.New("amount must be > 0")

	ErrNotFound = errors.New("transaction not found")

	ErrAlreadyReversed = errors.New("transaction already reversed")

	ErrReversalWindowExpired = errors.New("reversal window expired")

	// ErrChainConflict means an account tip moved between read and commit.
	// It is the only retryable error; retry with a fresh tip.
	ErrChainConflict = errors.New("chain conflict")

	// ErrScoringUnavailable never leaves the risk scorer.
	ErrScoringUnavailable = errors.New("risk scoring unavailable")
)

// RepositoryError wraps a storage failure. The operation that produced it
// left no partial state behind.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the operation may be retried with freshly read state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrChainConflict)
}
