package types

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the gating outcome for an applicant.
type Decision string

// Gating decisions.
const (
	DecisionAccept Decision = "ACCEPT"
	DecisionMiddle Decision = "MIDDLE"
	DecisionReject Decision = "REJECT"
)

// ValidDecision reports whether d is a known decision value.
func ValidDecision(d Decision) bool {
	return d == DecisionAccept || d == DecisionMiddle || d == DecisionReject
}

// GatingResult is the automatic screening decision for one applicant,
// derived deterministically from agent results and hard requirements.
type GatingResult struct {
	ApplicantID uuid.UUID `json:"applicant_id"`
	Decision    Decision  `json:"decision"`
	Reasons     []string  `json:"reasons,omitempty"`
}

// RankingResult orders a MIDDLE applicant by weighted composite score.
// FinalRank is 1-based, 1 = best.
type RankingResult struct {
	ApplicantID   uuid.UUID `json:"applicant_id"`
	WeightedScore float64   `json:"weighted_score"`
	FinalRank     int       `json:"final_rank"`
	Notes         string    `json:"notes,omitempty"`
}

// PairwiseComparison is one head-to-head verdict from the compare agent.
// Rows are append-only tournament history, never rewritten.
type PairwiseComparison struct {
	RunID      uuid.UUID `json:"run_id"`
	PassNumber int       `json:"pass_number"`
	ApplicantA uuid.UUID `json:"applicant_a"`
	ApplicantB uuid.UUID `json:"applicant_b"`
	Winner     string    `json:"winner"` // "A", "B", or "tie"
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

// ManualDecision is a human override, tracked independently of the automatic
// gating result. A nil Decision means no override is in effect.
type ManualDecision struct {
	ApplicantID uuid.UUID  `json:"applicant_id"`
	Decision    *Decision  `json:"decision"`
	SetAt       *time.Time `json:"set_at,omitempty"`
}

// Overridden reports whether a non-null override is in effect.
func (m *ManualDecision) Overridden() bool {
	return m != nil && m.Decision != nil
}
