package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ActivePairRepository stores lifecycle records and their history rows.
// Records are closed, never deleted.
type ActivePairRepository struct {
	pool DatabasePool
}

// NewActivePairRepository creates a new active pair repository.
func NewActivePairRepository(pool DatabasePool) *ActivePairRepository {
	return &ActivePairRepository{pool: pool}
}

// Upsert inserts state or updates its mutable columns.
func (r *ActivePairRepository) Upsert(ctx context.Context, state *models.ActivePairState) error {
	legs, err := json.Marshal(nonNilLegs(state.Legs))
	if err != nil {
		return fmt.Errorf("failed to encode legs: %w", err)
	}

	query := `
		INSERT INTO active_pairs (
			id, pair_key, status, long_first, entry_time, entry_spread_z,
			entry_half_life, legs, realized_pnl, closed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			long_first = EXCLUDED.long_first,
			legs = EXCLUDED.legs,
			realized_pnl = EXCLUDED.realized_pnl,
			closed_at = EXCLUDED.closed_at,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err = r.pool.Exec(ctx, query,
		state.ID,
		string(state.Key),
		string(state.Status),
		state.LongFirst,
		state.EntryTime,
		state.EntrySpreadZ,
		state.EntryHalfLife,
		legs,
		state.RealizedPnL.String(),
		state.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert active pair %s: %w", state.Key, err)
	}
	return nil
}

// AppendHistory stores one evaluation row for the record identified by pairID.
func (r *ActivePairRepository) AppendHistory(ctx context.Context, pairID string, row models.HistoryRow) error {
	query := `
		INSERT INTO active_pair_history (
			pair_id, ts, spread_z, half_life, pnl_usd, delta_spread_z, delta_half_life, elapsed_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		pairID,
		row.Timestamp,
		row.SpreadZ,
		row.HalfLife,
		row.PnLUSD.String(),
		row.DeltaSpreadZ,
		row.DeltaHalfLife,
		row.ElapsedMs,
	)
	if err != nil {
		return fmt.Errorf("failed to append history for %s: %w", pairID, err)
	}
	return nil
}

// MarkClosed moves a record to CLOSED and stores its realized P&L. A record
// that is already CLOSED keeps its first close time, so partial closes only
// update realized_pnl.
func (r *ActivePairRepository) MarkClosed(ctx context.Context, pairID string, closedAt time.Time, realized decimal.Decimal) error {
	query := `
		UPDATE active_pairs
		SET status = $2, closed_at = COALESCE(closed_at, $3), realized_pnl = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, pairID, string(models.StatusClosed), closedAt, realized.String())
	if err != nil {
		return fmt.Errorf("failed to close active pair %s: %w", pairID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestHistory returns the newest history row of the most recent record for key.
func (r *ActivePairRepository) LatestHistory(ctx context.Context, key models.PairKey) (*models.HistoryRow, error) {
	query := `
		SELECT h.ts, h.spread_z, h.half_life, h.pnl_usd::text, h.delta_spread_z, h.delta_half_life, h.elapsed_ms
		FROM active_pair_history h
		JOIN active_pairs p ON p.id = h.pair_id
		WHERE p.pair_key = $1
		ORDER BY p.entry_time DESC, h.ts DESC
		LIMIT 1
	`
	return r.scanHistoryRow(r.pool.QueryRow(ctx, query, string(key)))
}

func (r *ActivePairRepository) latestHistoryByID(ctx context.Context, pairID string) (*models.HistoryRow, error) {
	query := `
		SELECT ts, spread_z, half_life, pnl_usd::text, delta_spread_z, delta_half_life, elapsed_ms
		FROM active_pair_history
		WHERE pair_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`
	return r.scanHistoryRow(r.pool.QueryRow(ctx, query, pairID))
}

func (r *ActivePairRepository) scanHistoryRow(row pgx.Row) (*models.HistoryRow, error) {
	var (
		h   models.HistoryRow
		pnl string
	)
	err := row.Scan(&h.Timestamp, &h.SpreadZ, &h.HalfLife, &pnl, &h.DeltaSpreadZ, &h.DeltaHalfLife, &h.ElapsedMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history row: %w", err)
	}
	if h.PnLUSD, err = decimal.NewFromString(pnl); err != nil {
		return nil, fmt.Errorf("invalid pnl_usd %q: %w", pnl, err)
	}
	return &h, nil
}

// ListOpen returns every OPEN record with its latest history row, if any, as History.
func (r *ActivePairRepository) ListOpen(ctx context.Context) ([]*models.ActivePairState, error) {
	query := `
		SELECT id, pair_key, status, long_first, entry_time, entry_spread_z,
			entry_half_life, legs, realized_pnl::text, closed_at
		FROM active_pairs
		WHERE status = $1
		ORDER BY entry_time
	`
	rows, err := r.pool.Query(ctx, query, string(models.StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to list open pairs: %w", err)
	}
	defer rows.Close()

	var states []*models.ActivePairState
	for rows.Next() {
		var (
			s        models.ActivePairState
			key      string
			status   string
			legs     []byte
			realized string
		)
		if err := rows.Scan(&s.ID, &key, &status, &s.LongFirst, &s.EntryTime, &s.EntrySpreadZ,
			&s.EntryHalfLife, &legs, &realized, &s.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan open pair: %w", err)
		}
		s.Key = models.PairKey(key)
		s.Status = models.PairStatus(status)
		if err := json.Unmarshal(legs, &s.Legs); err != nil {
			return nil, fmt.Errorf("failed to decode legs of %s: %w", key, err)
		}
		if s.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
			return nil, fmt.Errorf("invalid realized_pnl of %s: %w", key, err)
		}
		states = append(states, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate open pairs: %w", err)
	}
	rows.Close()

	for _, s := range states {
		row, err := r.latestHistoryByID(ctx, s.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.History = []models.HistoryRow{*row}
	}
	return states, nil
}

func nonNilLegs(legs []models.LegFill) []models.LegFill {
	if legs == nil {
		return []models.LegFill{}
	}
	return legs
}
