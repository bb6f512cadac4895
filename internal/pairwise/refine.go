// Package pairwise refines the middle-pool rank order through bounded
// head-to-head comparison passes over score-close adjacent pairs.
package pairwise

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/types"
)

// Comparer judges two applicants head-to-head. The first argument is
// applicant "A" (currently ranked above), the second is "B".
type Comparer func(ctx context.Context, a, b uuid.UUID) types.CompareDetails

// Options bounds the refinement iteration.
type Options struct {
	// MaxPasses caps the number of full passes, guaranteeing termination
	// regardless of comparison outcomes.
	MaxPasses int
	// Epsilon is the weighted-score distance under which a pair is
	// ambiguous enough to warrant a comparison.
	Epsilon float64
}

// DefaultOptions returns the refinement bounds used in production.
func DefaultOptions() Options {
	return Options{MaxPasses: 3, Epsilon: 0.3}
}

// Refine runs bounded comparison passes over the ranked middle pool.
// Each pass walks adjacent pairs; when a pair's scores sit within epsilon the
// comparer is consulted and a winning lower-ranked applicant is promoted one
// position. Iteration stops at the first pass that changes nothing, or at the
// pass cap. O(n) comparisons per pass.
//
// The input order (by FinalRank) is taken as the current standing. Returns
// the adjusted rankings and the append-only comparison history. Stops early
// with the work done so far when ctx is cancelled.
func Refine(ctx context.Context, runID uuid.UUID, rankings []types.RankingResult, compare Comparer, opts Options) ([]types.RankingResult, []types.PairwiseComparison) {
	if opts.MaxPasses <= 0 || len(rankings) < 2 {
		return rankings, nil
	}

	ranked := make([]types.RankingResult, len(rankings))
	copy(ranked, rankings)

	var history []types.PairwiseComparison

	for pass := 1; pass <= opts.MaxPasses; pass++ {
		changed := false

		for i := 0; i+1 < len(ranked); i++ {
			if ctx.Err() != nil {
				return finalize(ranked), history
			}

			upper, lower := &ranked[i], &ranked[i+1]
			if math.Abs(upper.WeightedScore-lower.WeightedScore) > opts.Epsilon {
				continue
			}

			verdict := compare(ctx, upper.ApplicantID, lower.ApplicantID)
			history = append(history, types.PairwiseComparison{
				RunID:      runID,
				PassNumber: pass,
				ApplicantA: upper.ApplicantID,
				ApplicantB: lower.ApplicantID,
				Winner:     verdict.Winner,
				Reason:     verdict.Reason,
				RecordedAt: time.Now().UTC(),
			})

			// Promote a winning lower-ranked applicant one position.
			if verdict.Winner == "B" {
				appendNote(lower, fmt.Sprintf("moved above %s per pass %d", shortID(upper.ApplicantID), pass))
				appendNote(upper, fmt.Sprintf("moved below %s per pass %d", shortID(lower.ApplicantID), pass))
				ranked[i], ranked[i+1] = ranked[i+1], ranked[i]
				changed = true
			}
		}

		if !changed {
			break
		}
	}

	return finalize(ranked), history
}

// finalize reassigns 1-based ranks to match the adjusted order.
func finalize(ranked []types.RankingResult) []types.RankingResult {
	for i := range ranked {
		ranked[i].FinalRank = i + 1
	}
	return ranked
}

func appendNote(r *types.RankingResult, note string) {
	if r.Notes == "" {
		r.Notes = note
		return
	}
	r.Notes += "; " + note
}

// shortID keeps provenance notes readable.
func shortID(id uuid.UUID) string {
	s := id.String()
	return s[:8]
}
