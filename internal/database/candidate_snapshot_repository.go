package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/statarb-engine/internal/models"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// CandidateSnapshotRepository persists one row per generation cycle.
type CandidateSnapshotRepository struct {
	pool DatabasePool
}

// NewCandidateSnapshotRepository creates a new snapshot repository.
//
// Parameters:
//
//	pool: The database connection pool.
//
// Returns:
//
//	*CandidateSnapshotRepository: The initialized repository.
func NewCandidateSnapshotRepository(pool DatabasePool) *CandidateSnapshotRepository {
	return &CandidateSnapshotRepository{pool: pool}
}

// Save inserts snapshot, assigning an ID and timestamp when they are empty.
//
// Parameters:
//
//	ctx: Context.
//	snapshot: Candidates and skip notes of one cycle.
//
// Returns:
//
//	error: Error if the insert fails.
func (r *CandidateSnapshotRepository) Save(ctx context.Context, snapshot *models.CandidateSnapshot) error {
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}
	if snapshot.Candidates == nil {
		snapshot.Candidates = []models.PairCandidate{}
	}
	if snapshot.Skipped == nil {
		snapshot.Skipped = []models.SkipNote{}
	}

	candidates, err := json.Marshal(snapshot.Candidates)
	if err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}
	skipped, err := json.Marshal(snapshot.Skipped)
	if err != nil {
		return fmt.Errorf("failed to encode skip notes: %w", err)
	}

	query := `
		INSERT INTO candidate_snapshots (id, created_at, candidates, skipped)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.pool.Exec(ctx, query, snapshot.ID, snapshot.CreatedAt, candidates, skipped); err != nil {
		return fmt.Errorf("failed to save candidate snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot or ErrNotFound.
func (r *CandidateSnapshotRepository) Latest(ctx context.Context) (*models.CandidateSnapshot, error) {
	query := `
		SELECT id, created_at, candidates, skipped
		FROM candidate_snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`

	var (
		snapshot   models.CandidateSnapshot
		candidates []byte
		skipped    []byte
	)
	err := r.pool.QueryRow(ctx, query).Scan(&snapshot.ID, &snapshot.CreatedAt, &candidates, &skipped)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest candidate snapshot: %w", err)
	}

	if err := json.Unmarshal(candidates, &snapshot.Candidates); err != nil {
		return nil, fmt.Errorf("failed to decode candidates: %w", err)
	}
	if err := json.Unmarshal(skipped, &snapshot.Skipped); err != nil {
		return nil, fmt.Errorf("failed to decode skip notes: %w", err)
	}
	return &snapshot, nil
}
