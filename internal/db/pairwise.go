package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/types"
)

// AppendComparison records one head-to-head verdict. The table is
// append-only tournament history; rows are never updated.
func (db *DB) AppendComparison(ctx context.Context, c types.PairwiseComparison) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO pairwise_comparisons (run_id, pass_number, applicant_a, applicant_b, winner, reason)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.RunID, c.PassNumber, c.ApplicantA, c.ApplicantB, c.Winner, nullable(c.Reason),
	)
	if err != nil {
		return fmt.Errorf("failed to append comparison: %w", err)
	}
	return nil
}

// ListComparisons retrieves a run's comparison history in recording order.
func (db *DB) ListComparisons(ctx context.Context, runID uuid.UUID) ([]types.PairwiseComparison, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT run_id, pass_number, applicant_a, applicant_b, winner, COALESCE(reason, ''), recorded_at
		 FROM pairwise_comparisons WHERE run_id = $1 ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list comparisons: %w", err)
	}
	defer rows.Close()

	var comparisons []types.PairwiseComparison
	for rows.Next() {
		var c types.PairwiseComparison
		if err := rows.Scan(&c.RunID, &c.PassNumber, &c.ApplicantA, &c.ApplicantB, &c.Winner, &c.Reason, &c.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comparison: %w", err)
		}
		comparisons = append(comparisons, c)
	}
	return comparisons, nil
}
