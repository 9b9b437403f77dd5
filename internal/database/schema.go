package database

import (
	"context"
	"fmt"
)

// Schema creates the tables used by the repositories. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS candidate_snapshots (
	id         UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	candidates JSONB NOT NULL,
	skipped    JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_candidate_snapshots_created_at ON candidate_snapshots (created_at DESC);

CREATE TABLE IF NOT EXISTS active_pairs (
	id              UUID PRIMARY KEY,
	pair_key        TEXT NOT NULL,
	status          TEXT NOT NULL,
	long_first      BOOLEAN NOT NULL,
	entry_time      TIMESTAMPTZ NOT NULL,
	entry_spread_z  DOUBLE PRECISION NOT NULL,
	entry_half_life DOUBLE PRECISION NOT NULL,
	legs            JSONB NOT NULL DEFAULT '[]',
	realized_pnl    NUMERIC NOT NULL DEFAULT 0,
	closed_at       TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_active_pairs_open_key ON active_pairs (pair_key) WHERE status = 'OPEN';

CREATE TABLE IF NOT EXISTS active_pair_history (
	id              BIGSERIAL PRIMARY KEY,
	pair_id         UUID NOT NULL REFERENCES active_pairs (id),
	ts              TIMESTAMPTZ NOT NULL,
	spread_z        DOUBLE PRECISION NOT NULL,
	half_life       DOUBLE PRECISION NOT NULL,
	pnl_usd         NUMERIC NOT NULL,
	delta_spread_z  DOUBLE PRECISION NOT NULL,
	delta_half_life DOUBLE PRECISION NOT NULL,
	elapsed_ms      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_active_pair_history_pair_ts ON active_pair_history (pair_id, ts DESC);
`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, pool DatabasePool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
