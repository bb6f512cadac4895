package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/types"
)

// UpsertAgentResult stores an agent outcome for one (applicant, agent) pair,
// replacing any earlier attempt.
func (db *DB) UpsertAgentResult(ctx context.Context, runID uuid.UUID, res types.AgentResult) error {
	var details []byte
	if len(res.Details) > 0 {
		details = res.Details
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_results (run_id, applicant_id, agent, score, details, status, error_message, attempts, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (run_id, applicant_id, agent) DO UPDATE
		 SET score = EXCLUDED.score, details = EXCLUDED.details, status = EXCLUDED.status,
		     error_message = EXCLUDED.error_message, attempts = EXCLUDED.attempts, updated_at = NOW()`,
		runID, res.ApplicantID, res.Kind, res.Score, details, res.Status, nullable(res.Error), res.Attempts,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert agent result %s: %w", res.Kind, err)
	}
	return nil
}

// ListAgentResults retrieves every agent result of a run, grouped by
// applicant and keyed by agent kind.
func (db *DB) ListAgentResults(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]map[types.AgentKind]*types.AgentResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT applicant_id, agent, score, details, status, COALESCE(error_message, ''), attempts, updated_at
		 FROM agent_results WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent results: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]map[types.AgentKind]*types.AgentResult)
	for rows.Next() {
		var res types.AgentResult
		var details []byte
		if err := rows.Scan(&res.ApplicantID, &res.Kind, &res.Score, &details, &res.Status, &res.Error, &res.Attempts, &res.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent result: %w", err)
		}
		res.Details = details
		if out[res.ApplicantID] == nil {
			out[res.ApplicantID] = make(map[types.AgentKind]*types.AgentResult)
		}
		r := res
		out[res.ApplicantID][res.Kind] = &r
	}
	return out, nil
}

// SaveGatingResult upserts the automatic screening decision for an applicant.
func (db *DB) SaveGatingResult(ctx context.Context, runID uuid.UUID, g types.GatingResult) error {
	reasons, err := json.Marshal(g.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal gating reasons: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO gating_results (run_id, applicant_id, decision, reasons, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (run_id, applicant_id) DO UPDATE
		 SET decision = EXCLUDED.decision, reasons = EXCLUDED.reasons, updated_at = NOW()`,
		runID, g.ApplicantID, g.Decision, reasons,
	)
	if err != nil {
		return fmt.Errorf("failed to save gating result: %w", err)
	}
	return nil
}

// ListGatingResults retrieves all gating decisions of a run.
func (db *DB) ListGatingResults(ctx context.Context, runID uuid.UUID) ([]types.GatingResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT applicant_id, decision, reasons FROM gating_results WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list gating results: %w", err)
	}
	defer rows.Close()

	var results []types.GatingResult
	for rows.Next() {
		var g types.GatingResult
		var reasons []byte
		if err := rows.Scan(&g.ApplicantID, &g.Decision, &reasons); err != nil {
			return nil, fmt.Errorf("failed to scan gating result: %w", err)
		}
		if len(reasons) > 0 {
			_ = json.Unmarshal(reasons, &g.Reasons)
		}
		results = append(results, g)
	}
	return results, nil
}

// SaveRankingResults upserts the rank rows of one ranking pass in a single
// transaction. Rows of applicants absent from the pass (overridden ones) are
// left untouched so their last computed rank stays queryable.
func (db *DB) SaveRankingResults(ctx context.Context, runID uuid.UUID, results []types.RankingResult) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range results {
		_, err = tx.Exec(ctx,
			`INSERT INTO ranking_results (run_id, applicant_id, weighted_score, final_rank, notes, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 ON CONFLICT (run_id, applicant_id) DO UPDATE
			 SET weighted_score = EXCLUDED.weighted_score, final_rank = EXCLUDED.final_rank,
			     notes = EXCLUDED.notes, updated_at = NOW()`,
			runID, r.ApplicantID, r.WeightedScore, r.FinalRank, nullable(r.Notes),
		)
		if err != nil {
			return fmt.Errorf("failed to save ranking result: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListRankingResults retrieves a run's rank order, best first.
func (db *DB) ListRankingResults(ctx context.Context, runID uuid.UUID) ([]types.RankingResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT applicant_id, weighted_score, final_rank, COALESCE(notes, '')
		 FROM ranking_results WHERE run_id = $1 ORDER BY final_rank`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranking results: %w", err)
	}
	defer rows.Close()

	var results []types.RankingResult
	for rows.Next() {
		var r types.RankingResult
		if err := rows.Scan(&r.ApplicantID, &r.WeightedScore, &r.FinalRank, &r.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan ranking result: %w", err)
		}
		results = append(results, r)
	}
	return results, nil
}
