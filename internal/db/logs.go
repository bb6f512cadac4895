package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/agents"
)

// AppendRunLog stores one conversation-log entry.
func (db *DB) AppendRunLog(ctx context.Context, entry agents.LogEntry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO run_logs (run_id, applicant_id, agent, phase, message)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.RunID, entry.ApplicantID, entry.Agent, entry.Phase, entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}
	return nil
}

// ListRunLogs retrieves a run's conversation log in append order.
func (db *DB) ListRunLogs(ctx context.Context, runID uuid.UUID) ([]agents.LogEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT run_id, applicant_id, agent, phase, COALESCE(message, ''), created_at
		 FROM run_logs WHERE run_id = $1 ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list run logs: %w", err)
	}
	defer rows.Close()

	var entries []agents.LogEntry
	for rows.Next() {
		var e agents.LogEntry
		if err := rows.Scan(&e.RunID, &e.ApplicantID, &e.Agent, &e.Phase, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ConversationLog adapts the store to the agent gateway's logger contract.
// Appends are best effort: a failed insert is logged and dropped rather than
// failing the evaluation that produced it.
type ConversationLog struct {
	db     *DB
	logger *slog.Logger
}

// NewConversationLog returns a store-backed conversation logger.
func NewConversationLog(db *DB, logger *slog.Logger) *ConversationLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationLog{db: db, logger: logger}
}

// Append implements agents.ConversationLogger.
func (c *ConversationLog) Append(ctx context.Context, entry agents.LogEntry) {
	if err := c.db.AppendRunLog(ctx, entry); err != nil {
		c.logger.Warn("dropping conversation log entry",
			"run_id", entry.RunID, "agent", entry.Agent, "error", err)
	}
}
