package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/admissions-engine/internal/types"
)

// SaveRuleSet stores a resolved rule set and returns its assigned ID.
// The full rule set is kept as a JSON payload so a bound run always reads
// back exactly what was stored.
func (db *DB) SaveRuleSet(ctx context.Context, rs *types.RuleSet) (uuid.UUID, error) {
	payload, err := json.Marshal(rs)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal rule set: %w", err)
	}

	var id uuid.UUID
	err = db.pool.QueryRow(ctx,
		`INSERT INTO rule_sets (name, payload, source_url)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		rs.Name, payload, nullable(rs.SourceURL),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to save rule set: %w", err)
	}
	return id, nil
}

// GetRuleSet retrieves a rule set by ID. Returns nil when it does not exist.
func (db *DB) GetRuleSet(ctx context.Context, id uuid.UUID) (*types.RuleSet, error) {
	var payload []byte
	var name string
	var sourceURL *string

	err := db.pool.QueryRow(ctx,
		`SELECT name, payload, source_url FROM rule_sets WHERE id = $1`,
		id,
	).Scan(&name, &payload, &sourceURL)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rule set: %w", err)
	}

	var rs types.RuleSet
	if err := json.Unmarshal(payload, &rs); err != nil {
		return nil, fmt.Errorf("failed to decode rule set payload: %w", err)
	}
	rs.ID = id
	rs.Name = name
	if sourceURL != nil {
		rs.SourceURL = *sourceURL
	}
	return &rs, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
