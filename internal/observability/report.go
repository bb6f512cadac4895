// Package observability assembles run reports and formats them for CLI output.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/types"
)

// ReportStore is the read surface needed to assemble a report. *db.DB
// satisfies it.
type ReportStore interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error)
	ListApplicants(ctx context.Context, runID uuid.UUID) ([]types.Applicant, error)
	ListAgentResults(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]map[types.AgentKind]*types.AgentResult, error)
	ListGatingResults(ctx context.Context, runID uuid.UUID) ([]types.GatingResult, error)
	ListRankingResults(ctx context.Context, runID uuid.UUID) ([]types.RankingResult, error)
	ListManualDecisions(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]types.ManualDecision, error)
	ListComparisons(ctx context.Context, runID uuid.UUID) ([]types.PairwiseComparison, error)
}

// Evaluation is one agent's contribution to a report item.
type Evaluation struct {
	Kind    types.AgentKind    `json:"agent"`
	Status  types.ResultStatus `json:"status"`
	Score   *float64           `json:"score,omitempty"`
	Details json.RawMessage    `json:"details,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// ReportItem is one applicant's full outcome. Decision is the effective
// decision: the manual override when one is in effect, the gating decision
// otherwise.
type ReportItem struct {
	ApplicantID    uuid.UUID      `json:"applicant_id"`
	FolderName     string         `json:"folder_name"`
	DisplayName    string         `json:"display_name,omitempty"`
	Decision       types.Decision `json:"decision,omitempty"`
	GatingDecision types.Decision `json:"gating_decision,omitempty"`
	GatingReasons  []string       `json:"gating_reasons,omitempty"`
	Overridden     bool           `json:"overridden"`
	WeightedScore  *float64       `json:"weighted_score,omitempty"`
	FinalRank      int            `json:"final_rank,omitempty"`
	RankNotes      string         `json:"rank_notes,omitempty"`
	Evaluations    []Evaluation   `json:"evaluations,omitempty"`
}

// Report is the complete outcome of a run: every applicant with its
// evaluations, gating, ranking and manual fields, plus the full pairwise
// tournament history.
type Report struct {
	RunID       uuid.UUID                  `json:"run_id"`
	RunName     string                     `json:"run_name,omitempty"`
	Status      types.RunStatus            `json:"status"`
	Error       string                     `json:"error,omitempty"`
	GeneratedAt time.Time                  `json:"generated_at"`
	Items       []ReportItem               `json:"items"`
	Comparisons []types.PairwiseComparison `json:"comparisons,omitempty"`
}

// BuildReport assembles the report for a run. Items are ordered ACCEPT first,
// then MIDDLE by final rank, then REJECT; applicants with no decision yet come
// last.
func BuildReport(ctx context.Context, store ReportStore, runID uuid.UUID) (*Report, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run not found: %s", runID)
	}

	applicants, err := store.ListApplicants(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list applicants: %w", err)
	}
	results, err := store.ListAgentResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent results: %w", err)
	}
	gatings, err := store.ListGatingResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gating results: %w", err)
	}
	rankings, err := store.ListRankingResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranking results: %w", err)
	}
	manual, err := store.ListManualDecisions(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list manual decisions: %w", err)
	}
	comparisons, err := store.ListComparisons(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comparisons: %w", err)
	}

	gatingByID := make(map[uuid.UUID]types.GatingResult, len(gatings))
	for _, g := range gatings {
		gatingByID[g.ApplicantID] = g
	}
	rankByID := make(map[uuid.UUID]types.RankingResult, len(rankings))
	for _, r := range rankings {
		rankByID[r.ApplicantID] = r
	}

	items := make([]ReportItem, 0, len(applicants))
	for _, a := range applicants {
		item := ReportItem{
			ApplicantID: a.ID,
			FolderName:  a.FolderName,
			DisplayName: a.DisplayName,
		}

		if g, ok := gatingByID[a.ID]; ok {
			item.GatingDecision = g.Decision
			item.GatingReasons = g.Reasons
			item.Decision = g.Decision
		}
		if m, ok := manual[a.ID]; ok && m.Overridden() {
			item.Overridden = true
			item.Decision = *m.Decision
		}
		if r, ok := rankByID[a.ID]; ok {
			score := r.WeightedScore
			item.WeightedScore = &score
			item.FinalRank = r.FinalRank
			item.RankNotes = r.Notes
		}
		item.Evaluations = collectEvaluations(results[a.ID])

		items = append(items, item)
	}

	sortItems(items)

	return &Report{
		RunID:       run.ID,
		RunName:     run.Name,
		Status:      run.Status,
		Error:       run.Error,
		GeneratedAt: time.Now().UTC(),
		Items:       items,
		Comparisons: comparisons,
	}, nil
}

func collectEvaluations(byKind map[types.AgentKind]*types.AgentResult) []Evaluation {
	if len(byKind) == 0 {
		return nil
	}
	evals := make([]Evaluation, 0, len(byKind))
	for _, kind := range types.EvaluationKinds {
		res, ok := byKind[kind]
		if !ok {
			continue
		}
		evals = append(evals, Evaluation{
			Kind:    kind,
			Status:  res.Status,
			Score:   res.Score,
			Details: res.Details,
			Error:   res.Error,
		})
	}
	return evals
}

// decisionGroup maps an effective decision to its position in the report.
func decisionGroup(d types.Decision) int {
	switch d {
	case types.DecisionAccept:
		return 0
	case types.DecisionMiddle:
		return 1
	case types.DecisionReject:
		return 2
	default:
		return 3
	}
}

func sortItems(items []ReportItem) {
	sort.SliceStable(items, func(i, j int) bool {
		gi, gj := decisionGroup(items[i].Decision), decisionGroup(items[j].Decision)
		if gi != gj {
			return gi < gj
		}
		if gi == 1 {
			// Within MIDDLE, ranked applicants first in rank order.
			ri, rj := items[i].FinalRank, items[j].FinalRank
			switch {
			case ri > 0 && rj > 0 && ri != rj:
				return ri < rj
			case ri > 0 && rj == 0:
				return true
			case ri == 0 && rj > 0:
				return false
			}
		}
		return items[i].FolderName < items[j].FolderName
	})
}
