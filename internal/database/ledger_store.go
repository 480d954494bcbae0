package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ledgerx/backend/internal/models"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const entryColumns = `id, account_id, user_id, type, amount, timestamp, hash, prev_hash,
	is_reversal, COALESCE(original_hash, ''), COALESCE(category, ''), risk_score, is_suspicious, transaction_id`

// PostgresLedgerStore keeps the ledger in PostgreSQL. Chain tips advance by
// compare-and-set inside the same database transaction as the entry inserts.
type PostgresLedgerStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db, now: time.Now}
}

func (s *PostgresLedgerStore) GetChainTip(ctx context.Context, accountID string) (string, error) {
	var tip string
	err := s.db.QueryRowContext(ctx,
		`SELECT tip_hash FROM account_chain_tips WHERE account_id = $1`, accountID,
	).Scan(&tip)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &models.RepositoryError{Op: "get chain tip", Err: err}
	}
	return tip, nil
}

type tipMove struct {
	accountID string
	expected  string
	next      string
}

func (s *PostgresLedgerStore) AppendEntryPair(ctx context.Context, tx *models.Transaction, expectedDebitPrev, expectedCreditPrev string) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.RepositoryError{Op: "begin append", Err: err}
	}
	defer dbTx.Rollback()

	// Tip rows are locked in account order so two pairs never wait on each other.
	moves := []tipMove{
		{accountID: tx.Debit.AccountID, expected: expectedDebitPrev, next: tx.Debit.Hash},
		{accountID: tx.Credit.AccountID, expected: expectedCreditPrev, next: tx.Credit.Hash},
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].accountID < moves[j].accountID })

	for _, m := range moves {
		if err := s.advanceTip(ctx, dbTx, m); err != nil {
			return err
		}
	}

	reasons := make([]string, len(tx.Reasons))
	for i, r := range tx.Reasons {
		reasons[i] = string(r)
	}
	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO ledger_transactions (id, user_id, amount, timestamp, reasons, parent_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tx.ID, tx.UserID, tx.Amount, tx.Timestamp, pq.Array(reasons), nullString(tx.ParentID),
	)
	if err != nil {
		return writeError("insert transaction", err)
	}

	for _, e := range []*models.LedgerEntry{&tx.Debit, &tx.Credit} {
		_, err = dbTx.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, account_id, user_id, type, amount, timestamp, hash, prev_hash,
				is_reversal, original_hash, category, risk_score, is_suspicious, transaction_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			e.ID, e.AccountID, e.UserID, string(e.Type), e.Amount, e.Timestamp, e.Hash, e.PrevHash,
			e.IsReversal, nullString(e.OriginalHash), nullString(e.Category), e.RiskScore, e.IsSuspicious, e.TransactionID,
		)
		if err != nil {
			return writeError("insert entry", err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return &models.RepositoryError{Op: "commit append", Err: err}
	}
	return nil
}

func (s *PostgresLedgerStore) advanceTip(ctx context.Context, dbTx *sql.Tx, m tipMove) error {
	var (
		res sql.Result
		err error
	)
	if m.expected == "" {
		res, err = dbTx.ExecContext(ctx,
			`INSERT INTO account_chain_tips (account_id, tip_hash, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (account_id) DO NOTHING`,
			m.accountID, m.next, s.now().UTC(),
		)
	} else {
		res, err = dbTx.ExecContext(ctx,
			`UPDATE account_chain_tips SET tip_hash = $1, updated_at = $2
			 WHERE account_id = $3 AND tip_hash = $4`,
			m.next, s.now().UTC(), m.accountID, m.expected,
		)
	}
	if err != nil {
		return &models.RepositoryError{Op: "advance chain tip", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return &models.RepositoryError{Op: "advance chain tip", Err: err}
	}
	if n == 0 {
		return fmt.Errorf("%w: tip of account %s moved", models.ErrChainConflict, m.accountID)
	}
	return nil
}

// writeError maps unique violations on the ledger's own constraints to
// domain errors.
func writeError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		switch pqErr.Constraint {
		case constraintParentUnique:
			return fmt.Errorf("%w: %s", models.ErrAlreadyReversed, pqErr.Detail)
		case constraintChainLink:
			return fmt.Errorf("%w: %s", models.ErrChainConflict, pqErr.Detail)
		}
	}
	return &models.RepositoryError{Op: op, Err: err}
}

func (s *PostgresLedgerStore) FindTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var reasons []string
	err := s.db.QueryRowContext(ctx,
		`SELECT t.id, t.user_id, t.amount, t.timestamp, t.reasons, COALESCE(t.parent_id, ''),
			EXISTS (SELECT 1 FROM ledger_transactions c WHERE c.parent_id = t.id)
		 FROM ledger_transactions t WHERE t.id = $1`, id,
	).Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Timestamp, pq.Array(&reasons), &tx.ParentID, &tx.Reversed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, &models.RepositoryError{Op: "find transaction", Err: err}
	}
	tx.Timestamp = tx.Timestamp.UTC()
	tx.Reasons = make([]models.ReasonCode, len(reasons))
	for i, r := range reasons {
		tx.Reasons[i] = models.ReasonCode(r)
	}

	entries, err := s.queryEntries(ctx, "find transaction entries",
		`SELECT `+entryColumns+` FROM ledger_entries WHERE transaction_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}

	var haveDebit, haveCredit bool
	for _, e := range entries {
		switch e.Type {
		case models.EntryDebit:
			tx.Debit, haveDebit = e, true
		case models.EntryCredit:
			tx.Credit, haveCredit = e, true
		}
	}
	if len(entries) != 2 || !haveDebit || !haveCredit {
		return nil, &models.RepositoryError{
			Op:  "find transaction",
			Err: fmt.Errorf("transaction %s has %d entries, want one debit and one credit", id, len(entries)),
		}
	}
	return tx, nil
}

func (s *PostgresLedgerStore) FindReversalOf(ctx context.Context, parentID string) (*models.Transaction, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM ledger_transactions WHERE parent_id = $1`, parentID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.RepositoryError{Op: "find reversal", Err: err}
	}
	return s.FindTransaction(ctx, id)
}

func (s *PostgresLedgerStore) ListEntriesByHash(ctx context.Context, hash string) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list entries by hash",
		`SELECT `+entryColumns+` FROM ledger_entries WHERE hash = $1 ORDER BY seq`, hash)
}

func (s *PostgresLedgerStore) ListAccountEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list account entries",
		`SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY seq`, accountID)
}

func (s *PostgresLedgerStore) ListUserEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	return s.queryEntries(ctx, "list user entries",
		`SELECT `+entryColumns+` FROM ledger_entries WHERE user_id = $1 ORDER BY timestamp DESC, seq DESC`, userID)
}

// spendingWhere selects debit legs of live, non-reversal transactions.
// $1 user, $2 category ('' for any), $3/$4 optional window.
const spendingWhere = `
	WHERE e.user_id = $1
	  AND e.type = 'debit'
	  AND NOT e.is_reversal
	  AND NOT EXISTS (SELECT 1 FROM ledger_transactions c WHERE c.parent_id = e.transaction_id)
	  AND ($2 = '' OR COALESCE(e.category, '') = $2)
	  AND ($3::timestamptz IS NULL OR e.timestamp >= $3)
	  AND ($4::timestamptz IS NULL OR e.timestamp < $4)`

func spendingArgs(userID string, f models.SpendingFilter) []interface{} {
	return []interface{}{userID, f.Category, nullTime(f.From), nullTime(f.To)}
}

func (s *PostgresLedgerStore) SumSpending(ctx context.Context, userID string, f models.SpendingFilter) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(e.amount), 0) FROM ledger_entries e`+spendingWhere,
		spendingArgs(userID, f)...,
	).Scan(&total)
	if err != nil {
		return 0, &models.RepositoryError{Op: "sum spending", Err: err}
	}
	return total, nil
}

func (s *PostgresLedgerStore) TopCategories(ctx context.Context, userID string, f models.SpendingFilter, limit int) ([]models.CategoryTotal, error) {
	args := append(spendingArgs(userID, f), models.UncategorizedLabel, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(NULLIF(e.category, ''), $5) AS category, SUM(e.amount) AS total
		 FROM ledger_entries e`+spendingWhere+`
		 GROUP BY 1 ORDER BY total DESC, category ASC LIMIT $6`,
		args...,
	)
	if err != nil {
		return nil, &models.RepositoryError{Op: "top categories", Err: err}
	}
	defer rows.Close()

	var totals []models.CategoryTotal
	for rows.Next() {
		var ct models.CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Amount); err != nil {
			return nil, &models.RepositoryError{Op: "top categories", Err: err}
		}
		totals = append(totals, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.RepositoryError{Op: "top categories", Err: err}
	}
	return totals, nil
}

func (s *PostgresLedgerStore) queryEntries(ctx context.Context, op, query string, args ...interface{}) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.RepositoryError{Op: op, Err: err}
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var entryType string
		if err := rows.Scan(
			&e.ID, &e.AccountID, &e.UserID, &entryType, &e.Amount, &e.Timestamp, &e.Hash, &e.PrevHash,
			&e.IsReversal, &e.OriginalHash, &e.Category, &e.RiskScore, &e.IsSuspicious, &e.TransactionID,
		); err != nil {
			return nil, &models.RepositoryError{Op: op, Err: err}
		}
		e.Type = models.EntryType(entryType)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.RepositoryError{Op: op, Err: err}
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
