package database

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	constraintParentUnique = "ledger_transactions_parent_id_key"
	constraintChainLink    = "ledger_entries_account_prev_key"
)

// schema is idempotent. Ledger rows are append-only; a trigger rejects
// UPDATE and DELETE on entries and transactions.
const schema = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	amount     BIGINT NOT NULL CHECK (amount > 0),
	timestamp  TIMESTAMPTZ NOT NULL,
	reasons    TEXT[] NOT NULL DEFAULT '{}',
	parent_id  TEXT REFERENCES ledger_transactions (id),
	CONSTRAINT ledger_transactions_parent_id_key UNIQUE (parent_id)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	transaction_id TEXT NOT NULL REFERENCES ledger_transactions (id),
	account_id     TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	type           TEXT NOT NULL CHECK (type IN ('debit', 'credit')),
	amount         BIGINT NOT NULL CHECK (amount >= 0),
	timestamp      TIMESTAMPTZ NOT NULL,
	hash           TEXT NOT NULL,
	prev_hash      TEXT NOT NULL DEFAULT '',
	is_reversal    BOOLEAN NOT NULL DEFAULT FALSE,
	original_hash  TEXT,
	category       TEXT,
	risk_score     DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (risk_score >= 0 AND risk_score <= 1),
	is_suspicious  BOOLEAN NOT NULL DEFAULT FALSE,
	CONSTRAINT ledger_entries_account_prev_key UNIQUE (account_id, prev_hash)
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_seq ON ledger_entries (account_id, seq);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_hash ON ledger_entries (hash);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_transaction ON ledger_entries (transaction_id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_time ON ledger_entries (user_id, timestamp);

CREATE TABLE IF NOT EXISTS account_chain_tips (
	account_id TEXT PRIMARY KEY,
	tip_hash   TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE OR REPLACE FUNCTION ledger_reject_mutation() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'ledger rows are append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS ledger_entries_append_only ON ledger_entries;
CREATE TRIGGER ledger_entries_append_only
	BEFORE UPDATE OR DELETE ON ledger_entries
	FOR EACH ROW EXECUTE FUNCTION ledger_reject_mutation();

DROP TRIGGER IF EXISTS ledger_transactions_append_only ON ledger_transactions;
CREATE TRIGGER ledger_transactions_append_only
	BEFORE UPDATE OR DELETE ON ledger_transactions
	FOR EACH ROW EXECUTE FUNCTION ledger_reject_mutation();
`

// Migrate applies the ledger schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}
