// Package ranking computes the weighted composite score and initial rank
// order for applicants in the middle pool. Pure and idempotent: every pass
// recomputes from scratch with no hidden incremental state.
package ranking

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/types"
)

// DefaultTieEpsilon is the score distance within which two applicants are
// considered tied and ordered by applicant id instead.
const DefaultTieEpsilon = 1e-9

// noScoresNote marks an applicant ranked without any scored agents.
const noScoresNote = "no scored agent results; ranked last"

// Entry is one applicant's scoring input: the per-agent scores from its ok
// agent results. Nil scores mark failed or non-scoring agents.
type Entry struct {
	ApplicantID uuid.UUID
	Scores      map[types.AgentKind]*float64
}

// ScoresFromResults extracts the weighted-agent scores from a result set,
// keeping only ok results that actually carry a score.
func ScoresFromResults(results map[types.AgentKind]*types.AgentResult) map[types.AgentKind]*float64 {
	out := make(map[types.AgentKind]*float64, len(types.ScoringKinds))
	for _, kind := range types.ScoringKinds {
		r, ok := results[kind]
		if !ok || r == nil || r.Status != types.ResultOK || r.Score == nil {
			out[kind] = nil
			continue
		}
		s := types.ClampScore(*r.Score)
		out[kind] = &s
	}
	return out
}

// WeightedScore computes the composite score over the agents that produced a
// score: Σ(weight×score) / Σ(weight over scored agents). Missing scores are
// excluded from both numerator and denominator, so a failed agent never
// penalizes the applicant. Returns ok=false when no weighted agent scored.
func WeightedScore(scores map[types.AgentKind]*float64, weights map[types.AgentKind]float64) (float64, bool) {
	num, den := 0.0, 0.0
	for kind, weight := range weights {
		if weight <= 0 {
			continue
		}
		score, ok := scores[kind]
		if !ok || score == nil {
			continue
		}
		num += weight * types.ClampScore(*score)
		den += weight
	}
	if den == 0 {
		return 0, false
	}
	return math.Round(num/den*10000) / 10000, true
}

// Compute ranks the given entries by descending weighted score. Ties within
// epsilon break by applicant id ascending as a stable deterministic fallback
// pending pairwise refinement. Entries with no scored agents sort last with
// an explanatory note.
func Compute(entries []Entry, weights map[types.AgentKind]float64, epsilon float64) []types.RankingResult {
	if epsilon <= 0 {
		epsilon = DefaultTieEpsilon
	}

	results := make([]types.RankingResult, 0, len(entries))
	scoreless := make(map[uuid.UUID]bool)
	for _, e := range entries {
		score, ok := WeightedScore(e.Scores, weights)
		r := types.RankingResult{ApplicantID: e.ApplicantID, WeightedScore: score}
		if !ok {
			r.Notes = noScoresNote
			scoreless[e.ApplicantID] = true
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if scoreless[a.ApplicantID] != scoreless[b.ApplicantID] {
			return !scoreless[a.ApplicantID]
		}
		if math.Abs(a.WeightedScore-b.WeightedScore) > epsilon {
			return a.WeightedScore > b.WeightedScore
		}
		return a.ApplicantID.String() < b.ApplicantID.String()
	})

	for i := range results {
		results[i].FinalRank = i + 1
	}
	return results
}
