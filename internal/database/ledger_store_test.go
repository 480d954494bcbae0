package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ledgerx/backend/internal/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryColumnNames = []string{
	"id", "account_id", "user_id", "type", "amount", "timestamp", "hash", "prev_hash",
	"is_reversal", "original_hash", "category", "risk_score", "is_suspicious", "transaction_id",
}

func newMockStore(t *testing.T) (*PostgresLedgerStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresLedgerStore(db), mock
}

func sampleTransaction() *models.Transaction {
	ts := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	return &models.Transaction{
		ID:        "tx-1",
		UserID:    "user-1",
		Amount:    100,
		Timestamp: ts,
		Reasons:   []models.ReasonCode{models.ReasonManual},
		Debit: models.LedgerEntry{
			ID: "e-1", AccountID: "acct-a", UserID: "user-1", Type: models.EntryDebit,
			Amount: 100, Timestamp: ts, Hash: "hash-a", TransactionID: "tx-1", Category: "food",
		},
		Credit: models.LedgerEntry{
			ID: "e-2", AccountID: "acct-b", UserID: "user-1", Type: models.EntryCredit,
			Amount: 100, Timestamp: ts, Hash: "hash-b", PrevHash: "prev-b", TransactionID: "tx-1",
		},
	}
}

func TestPostgresLedgerStore_GetChainTip(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	t.Run("genesis", func(t *testing.T) {
		mock.ExpectQuery("SELECT tip_hash FROM account_chain_tips WHERE account_id = \\$1").
			WithArgs("acct-a").
			WillReturnError(sql.ErrNoRows)

		tip, err := store.GetChainTip(ctx, "acct-a")
		assert.NoError(t, err)
		assert.Empty(t, tip)
	})

	t.Run("existing tip", func(t *testing.T) {
		mock.ExpectQuery("SELECT tip_hash FROM account_chain_tips").
			WithArgs("acct-a").
			WillReturnRows(sqlmock.NewRows([]string{"tip_hash"}).AddRow("abc"))

		tip, err := store.GetChainTip(ctx, "acct-a")
		assert.NoError(t, err)
		assert.Equal(t, "abc", tip)
	})

	t.Run("storage failure", func(t *testing.T) {
		mock.ExpectQuery("SELECT tip_hash FROM account_chain_tips").
			WithArgs("acct-a").
			WillReturnError(errors.New("connection reset"))

		_, err := store.GetChainTip(ctx, "acct-a")
		var repoErr *models.RepositoryError
		assert.ErrorAs(t, err, &repoErr)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerStore_AppendEntryPair(t *testing.T) {
	ctx := context.Background()

	t.Run("advances both tips and inserts the pair", func(t *testing.T) {
		store, mock := newMockStore(t)
		tx := sampleTransaction()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO account_chain_tips").
			WithArgs("acct-a", "hash-a", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE account_chain_tips SET tip_hash = \\$1").
			WithArgs("hash-b", sqlmock.AnyArg(), "acct-b", "prev-b").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WithArgs("tx-1", "user-1", int64(100), tx.Timestamp, sqlmock.AnyArg(), nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("e-1", "acct-a", "user-1", "debit", int64(100), tx.Timestamp, "hash-a", "",
				false, nil, "food", float64(0), false, "tx-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("e-2", "acct-b", "user-1", "credit", int64(100), tx.Timestamp, "hash-b", "prev-b",
				false, nil, nil, float64(0), false, "tx-1").
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		err := store.AppendEntryPair(ctx, tx, "", "prev-b")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale tip is a chain conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		tx := sampleTransaction()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE account_chain_tips").
			WithArgs("hash-a", sqlmock.AnyArg(), "acct-a", "old-a").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.AppendEntryPair(ctx, tx, "old-a", "prev-b")
		assert.ErrorIs(t, err, models.ErrChainConflict)
		assert.True(t, models.IsRetryable(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("genesis race is a chain conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		tx := sampleTransaction()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO account_chain_tips").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.AppendEntryPair(ctx, tx, "", "prev-b")
		assert.ErrorIs(t, err, models.ErrChainConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate parent is already reversed", func(t *testing.T) {
		store, mock := newMockStore(t)
		tx := sampleTransaction()
		tx.ParentID = "tx-0"

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO account_chain_tips").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE account_chain_tips").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WithArgs("tx-1", "user-1", int64(100), tx.Timestamp, sqlmock.AnyArg(), "tx-0").
			WillReturnError(&pq.Error{Code: "23505", Constraint: constraintParentUnique})
		mock.ExpectRollback()

		err := store.AppendEntryPair(ctx, tx, "", "prev-b")
		assert.ErrorIs(t, err, models.ErrAlreadyReversed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("forked link is a chain conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		tx := sampleTransaction()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO account_chain_tips").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE account_chain_tips").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_transactions").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnError(&pq.Error{Code: "23505", Constraint: constraintChainLink})
		mock.ExpectRollback()

		err := store.AppendEntryPair(ctx, tx, "", "prev-b")
		assert.ErrorIs(t, err, models.ErrChainConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure rolls back", func(t *testing.T) {
		store, mock := newMockStore(t)
		tx := sampleTransaction()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO account_chain_tips").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE account_chain_tips").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_transactions").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := store.AppendEntryPair(ctx, tx, "", "prev-b")
		var repoErr *models.RepositoryError
		require.ErrorAs(t, err, &repoErr)
		assert.Equal(t, "insert entry", repoErr.Op)
		assert.False(t, models.IsRetryable(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresLedgerStore_FindTransaction(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT t.id, t.user_id, t.amount").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "timestamp", "reasons", "parent_id", "exists"}).
				AddRow("tx-1", "user-1", int64(100), ts, "{manual,odd_hour}", "", true))
		mock.ExpectQuery("FROM ledger_entries WHERE transaction_id = \\$1 ORDER BY seq").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows(entryColumnNames).
				AddRow("e-1", "acct-a", "user-1", "debit", int64(100), ts, "hash-a", "", false, "", "food", 0.2, false, "tx-1").
				AddRow("e-2", "acct-b", "user-1", "credit", int64(100), ts, "hash-b", "", false, "", "", 0.1, false, "tx-1"))

		tx, err := store.FindTransaction(ctx, "tx-1")
		require.NoError(t, err)
		assert.True(t, tx.Reversed)
		assert.Equal(t, []models.ReasonCode{models.ReasonManual, models.ReasonOddHour}, tx.Reasons)
		assert.Equal(t, "acct-a", tx.Debit.AccountID)
		assert.Equal(t, models.EntryCredit, tx.Credit.Type)
		assert.Equal(t, 0.2, tx.Debit.RiskScore)
		assert.True(t, tx.Balanced())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT t.id").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := store.FindTransaction(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("half a pair is corruption", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT t.id").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "amount", "timestamp", "reasons", "parent_id", "exists"}).
				AddRow("tx-1", "user-1", int64(100), ts, "{}", "", false))
		mock.ExpectQuery("FROM ledger_entries WHERE transaction_id").
			WillReturnRows(sqlmock.NewRows(entryColumnNames).
				AddRow("e-1", "acct-a", "user-1", "debit", int64(100), ts, "hash-a", "", false, "", "", 0.0, false, "tx-1"))

		_, err := store.FindTransaction(ctx, "tx-1")
		var repoErr *models.RepositoryError
		assert.ErrorAs(t, err, &repoErr)
	})
}

func TestPostgresLedgerStore_FindReversalOf(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id FROM ledger_transactions WHERE parent_id = \\$1").
		WithArgs("tx-1").
		WillReturnError(sql.ErrNoRows)

	rev, err := store.FindReversalOf(context.Background(), "tx-1")
	assert.NoError(t, err)
	assert.Nil(t, rev)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerStore_ListAccountEntries(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM ledger_entries WHERE account_id = \\$1 ORDER BY seq").
		WithArgs("acct-a").
		WillReturnRows(sqlmock.NewRows(entryColumnNames).
			AddRow("e-1", "acct-a", "user-1", "debit", int64(100), ts, "h1", "", false, "", "", 0.0, false, "tx-1").
			AddRow("e-3", "acct-a", "user-1", "credit", int64(40), ts, "h2", "h1", true, "x", "", 0.0, false, "tx-2"))

	entries, err := store.ListAccountEntries(context.Background(), "acct-a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "h1", entries[1].PrevHash)
	assert.True(t, entries[1].IsReversal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ledger_transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerStore_ListUserEntries(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM ledger_entries WHERE user_id = \\$1 ORDER BY timestamp DESC, seq DESC").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(entryColumnNames).
			AddRow("e-2", "acct-b", "user-1", "credit", int64(100), ts, "h2", "", false, "", "", 0.0, false, "tx-1").
			AddRow("e-1", "acct-a", "user-1", "debit", int64(100), ts, "h1", "", false, "", "food", 0.0, false, "tx-1"))

	entries, err := store.ListUserEntries(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e-2", entries[0].ID)
	assert.Equal(t, "food", entries[1].Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerStore_SumSpending(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	t.Run("open window", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(e.amount\\), 0\\) FROM ledger_entries e").
			WithArgs("user-1", "", nil, nil).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(250)))

		total, err := store.SumSpending(ctx, "user-1", models.SpendingFilter{})
		require.NoError(t, err)
		assert.Equal(t, int64(250), total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("category and month", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("NOT EXISTS \\(SELECT 1 FROM ledger_transactions c WHERE c.parent_id = e.transaction_id\\)").
			WithArgs("user-1", "food", from, to).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(0)))

		total, err := store.SumSpending(ctx, "user-1", models.SpendingFilter{Category: "food", From: from, To: to})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery("SELECT COALESCE").WillReturnError(errors.New("connection reset"))

		_, err := store.SumSpending(ctx, "user-1", models.SpendingFilter{})
		var repoErr *models.RepositoryError
		require.ErrorAs(t, err, &repoErr)
		assert.Equal(t, "sum spending", repoErr.Op)
	})
}

func TestPostgresLedgerStore_TopCategories(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("GROUP BY 1 ORDER BY total DESC, category ASC LIMIT \\$6").
		WithArgs("user-1", "", nil, nil, models.UncategorizedLabel, 3).
		WillReturnRows(sqlmock.NewRows([]string{"category", "total"}).
			AddRow("rent", int64(900)).
			AddRow(models.UncategorizedLabel, int64(40)))

	top, err := store.TopCategories(context.Background(), "user-1", models.SpendingFilter{}, 3)
	require.NoError(t, err)
	assert.Equal(t, []models.CategoryTotal{
		{Category: "rent", Amount: 900},
		{Category: models.UncategorizedLabel, Amount: 40},
	}, top)
	assert.NoError(t, mock.ExpectationsWereMet())
}
