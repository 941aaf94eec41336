package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The unique constraint on (transaction_hash, log_index) is what makes
// re-ingesting overlapping block ranges a no-op instead of a duplication bug.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		block_number BIGINT NOT NULL,
		transaction_hash TEXT NOT NULL,
		log_index INTEGER NOT NULL,
		pair_address TEXT NOT NULL,
		sender TEXT NOT NULL,
		to_address TEXT NOT NULL,
		amount0_in NUMERIC(78,0) NOT NULL,
		amount1_in NUMERIC(78,0) NOT NULL,
		amount0_out NUMERIC(78,0) NOT NULL,
		amount1_out NUMERIC(78,0) NOT NULL,
		token0_address TEXT,
		token1_address TEXT,
		block_timestamp BIGINT NOT NULL,
		gas_price BIGINT NOT NULL,
		gas_used BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT trades_tx_log_unique UNIQUE (transaction_hash, log_index)
	)`,
	`CREATE INDEX IF NOT EXISTS trades_sender_idx ON trades (sender)`,
	`CREATE INDEX IF NOT EXISTS trades_pair_idx ON trades (pair_address)`,
	`CREATE INDEX IF NOT EXISTS trades_block_idx ON trades (block_number)`,
	`CREATE TABLE IF NOT EXISTS tokens (
		address TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		name TEXT NOT NULL,
		decimals SMALLINT NOT NULL,
		total_supply NUMERIC(78,0) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		address TEXT PRIMARY KEY,
		total_trades BIGINT NOT NULL DEFAULT 0,
		first_trade_timestamp BIGINT,
		last_trade_timestamp BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Setup creates the three logical tables if they do not exist. Safe to run
// on every start.
func Setup(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
