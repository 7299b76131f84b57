package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
)

// schema is applied statement by statement; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		wallet_id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		currency CHAR(3) NOT NULL,
		balance NUMERIC(20,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (owner_id, currency)
	);`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		entry_id UUID PRIMARY KEY,
		wallet_id UUID NOT NULL REFERENCES wallets(wallet_id),
		order_id UUID NOT NULL,
		kind VARCHAR(16) NOT NULL CHECK (kind IN ('debit', 'credit', 'refund')),
		category VARCHAR(32) NOT NULL DEFAULT '',
		amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
		balance_after NUMERIC(20,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (wallet_id, order_id, kind)
	);`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_daily_idx
		ON ledger_entries (wallet_id, category, created_at);`,
	`CREATE OR REPLACE FUNCTION ledger_entries_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'ledger_entries is append-only';
	END;
	$$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS ledger_entries_no_mutation ON ledger_entries;`,
	`CREATE TRIGGER ledger_entries_no_mutation
		BEFORE UPDATE OR DELETE ON ledger_entries
		FOR EACH ROW EXECUTE FUNCTION ledger_entries_append_only();`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id UUID PRIMARY KEY,
		request_key VARCHAR(128) NOT NULL,
		owner_id UUID NOT NULL,
		wallet_id UUID NOT NULL REFERENCES wallets(wallet_id),
		kind VARCHAR(32) NOT NULL,
		provider VARCHAR(64) NOT NULL,
		provider_ref VARCHAR(128),
		params JSONB NOT NULL DEFAULT '{}',
		currency CHAR(3) NOT NULL,
		amount NUMERIC(20,2) NOT NULL,
		fees NUMERIC(20,2) NOT NULL DEFAULT 0,
		total_amount NUMERIC(20,2) NOT NULL,
		status VARCHAR(16) NOT NULL,
		error_message TEXT,
		refund_pending BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMPTZ,
		last_polled_at TIMESTAMPTZ,
		UNIQUE (owner_id, request_key)
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS orders_provider_ref_idx
		ON orders (provider, provider_ref) WHERE provider_ref IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS orders_reconcile_idx
		ON orders (status, updated_at);`,
}

// Migrate creates the wallets, ledger_entries and orders tables.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Log.Errorw("migration failed", "sql", stmt, "error", err)
			return err
		}
	}
	logger.Log.Infow("database schema is up to date", "statements", len(schema))
	return nil
}
