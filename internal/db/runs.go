package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/admissions-engine/internal/types"
)

// CreateRun creates a new run record in the created state
func (db *DB) CreateRun(ctx context.Context, name string) (*types.Run, error) {
	var run types.Run
	var errMsg *string
	err := db.pool.QueryRow(ctx,
		`INSERT INTO runs (name, status)
		 VALUES ($1, $2)
		 RETURNING id, name, status, rule_set_id, error_message, created_at, updated_at`,
		name, types.RunCreated,
	).Scan(&run.ID, &run.Name, &run.Status, &run.RuleSetID, &errMsg, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if errMsg != nil {
		run.Error = *errMsg
	}
	return &run, nil
}

// GetRun retrieves a run by ID. Returns nil when the run does not exist.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error) {
	var run types.Run
	var errMsg *string
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, status, rule_set_id, error_message, created_at, updated_at
		 FROM runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.Name, &run.Status, &run.RuleSetID, &errMsg, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if errMsg != nil {
		run.Error = *errMsg
	}
	return &run, nil
}

// ListRuns retrieves recent runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]types.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, status, rule_set_id, error_message, created_at, updated_at
		 FROM runs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		var run types.Run
		var errMsg *string
		if err := rows.Scan(&run.ID, &run.Name, &run.Status, &run.RuleSetID, &errMsg, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if errMsg != nil {
			run.Error = *errMsg
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// UpdateRunStatus transitions a run to a new lifecycle state. The current
// state is read under a row lock so concurrent transitions serialize; an
// illegal transition rolls back and returns an error.
func (db *DB) UpdateRunStatus(ctx context.Context, runID uuid.UUID, to types.RunStatus) error {
	return db.transition(ctx, runID, to, nil)
}

// MarkRunFailed transitions a run to failed and records the failure message.
func (db *DB) MarkRunFailed(ctx context.Context, runID uuid.UUID, message string) error {
	return db.transition(ctx, runID, types.RunFailed, &message)
}

func (db *DB) transition(ctx context.Context, runID uuid.UUID, to types.RunStatus, errMsg *string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var from types.RunStatus
	err = tx.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1 FOR UPDATE`, runID).Scan(&from)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("run not found: %s", runID)
		}
		return fmt.Errorf("failed to read run status: %w", err)
	}

	if !types.CanTransition(from, to) {
		return fmt.Errorf("invalid run transition %s -> %s", from, to)
	}

	_, err = tx.Exec(ctx,
		`UPDATE runs SET status = $1, error_message = COALESCE($2, error_message), updated_at = NOW()
		 WHERE id = $3`,
		to, errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	return tx.Commit(ctx)
}

// BindRuleSet attaches a rule set to a run. Allowed only before applicants
// are uploaded; binding again replaces the previous rule set.
func (db *DB) BindRuleSet(ctx context.Context, runID, ruleSetID uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status types.RunStatus
	err = tx.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1 FOR UPDATE`, runID).Scan(&status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("run not found: %s", runID)
		}
		return fmt.Errorf("failed to read run status: %w", err)
	}

	if status != types.RunCreated && status != types.RunRuleBound {
		return fmt.Errorf("cannot bind rule set to run in state %s", status)
	}

	_, err = tx.Exec(ctx,
		`UPDATE runs SET rule_set_id = $1, status = $2, updated_at = NOW() WHERE id = $3`,
		ruleSetID, types.RunRuleBound, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to bind rule set: %w", err)
	}

	return tx.Commit(ctx)
}
