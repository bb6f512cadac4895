// Package agents implements the agent gateway: a uniform capability wrapping
// each external evaluator behind one contract, with retry, backoff, timeout,
// and conversation logging.
package agents

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LogPhase distinguishes the direction of a conversation-log entry.
type LogPhase string

// Conversation log phases.
const (
	PhaseRequest  LogPhase = "request"
	PhaseResponse LogPhase = "response"
	PhaseTool     LogPhase = "tool"
)

// LogEntry is one append-only conversation record for an agent exchange.
// Audit only; never a decision input.
type LogEntry struct {
	RunID       uuid.UUID
	ApplicantID *uuid.UUID
	Agent       string
	Phase       LogPhase
	Message     string
	CreatedAt   time.Time
}

// ConversationLogger receives conversation-log entries. Implementations must
// be safe for concurrent appenders; appends are independent, there is no
// read-modify-write.
type ConversationLogger interface {
	Append(ctx context.Context, entry LogEntry)
}

// NopLogger discards all entries.
type NopLogger struct{}

// Append implements ConversationLogger.
func (NopLogger) Append(context.Context, LogEntry) {}
