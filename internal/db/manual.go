package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/admissions-engine/internal/types"
)

// SetManualDecision records a human override for an applicant. A nil
// decision clears the override; the row is kept so the audit trail shows
// an override existed.
func (db *DB) SetManualDecision(ctx context.Context, runID, applicantID uuid.UUID, decision *types.Decision) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO manual_decisions (run_id, applicant_id, decision, set_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (run_id, applicant_id) DO UPDATE
		 SET decision = EXCLUDED.decision, set_at = NOW()`,
		runID, applicantID, decision,
	)
	if err != nil {
		return fmt.Errorf("failed to set manual decision: %w", err)
	}
	return nil
}

// GetManualDecision retrieves the override for one applicant.
// Returns nil when no override row exists.
func (db *DB) GetManualDecision(ctx context.Context, runID, applicantID uuid.UUID) (*types.ManualDecision, error) {
	var m types.ManualDecision
	err := db.pool.QueryRow(ctx,
		`SELECT applicant_id, decision, set_at
		 FROM manual_decisions WHERE run_id = $1 AND applicant_id = $2`,
		runID, applicantID,
	).Scan(&m.ApplicantID, &m.Decision, &m.SetAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get manual decision: %w", err)
	}
	return &m, nil
}

// ListManualDecisions retrieves every override of a run, keyed by applicant.
// Callers re-read this before each re-rank so fresh overrides always win.
func (db *DB) ListManualDecisions(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]types.ManualDecision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT applicant_id, decision, set_at FROM manual_decisions WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list manual decisions: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]types.ManualDecision)
	for rows.Next() {
		var m types.ManualDecision
		if err := rows.Scan(&m.ApplicantID, &m.Decision, &m.SetAt); err != nil {
			return nil, fmt.Errorf("failed to scan manual decision: %w", err)
		}
		out[m.ApplicantID] = m
	}
	return out, nil
}
