// Package pipeline provides the run orchestrator: the state machine that
// fans agent calls out over a run's applicants, then gates, ranks, and
// refines the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/admissions-engine/internal/gating"
	"github.com/jonathan/admissions-engine/internal/pairwise"
	"github.com/jonathan/admissions-engine/internal/ranking"
	"github.com/jonathan/admissions-engine/internal/types"
)

// Orchestrator-level failures.
var (
	ErrRunNotFound   = errors.New("run not found")
	ErrNotStartable  = errors.New("run is not in uploaded state")
	ErrRuleSetUnread = errors.New("rule set unresolvable")
)

// Store is the persistence surface the orchestrator needs. *db.DB satisfies it.
type Store interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error)
	GetRuleSet(ctx context.Context, id uuid.UUID) (*types.RuleSet, error)
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, to types.RunStatus) error
	MarkRunFailed(ctx context.Context, runID uuid.UUID, message string) error
	ListApplicants(ctx context.Context, runID uuid.UUID) ([]types.Applicant, error)
	UpsertAgentResult(ctx context.Context, runID uuid.UUID, res types.AgentResult) error
	ListAgentResults(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]map[types.AgentKind]*types.AgentResult, error)
	SaveGatingResult(ctx context.Context, runID uuid.UUID, g types.GatingResult) error
	ListGatingResults(ctx context.Context, runID uuid.UUID) ([]types.GatingResult, error)
	SaveRankingResults(ctx context.Context, runID uuid.UUID, results []types.RankingResult) error
	AppendComparison(ctx context.Context, c types.PairwiseComparison) error
	ListManualDecisions(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]types.ManualDecision, error)
}

// AgentCaller is the evaluation surface, satisfied by *agents.Gateway.
// Evaluate never returns an error; failures are absorbed into the result.
type AgentCaller interface {
	Evaluate(ctx context.Context, runID uuid.UUID, applicant *types.Applicant, kind types.AgentKind, rs *types.RuleSet) types.AgentResult
	Compare(ctx context.Context, runID uuid.UUID, summaryA, summaryB string, weights map[types.AgentKind]float64) types.CompareDetails
}

// Options configures orchestration limits.
type Options struct {
	// Concurrency bounds simultaneously in-flight gateway calls across the
	// whole run, not per applicant.
	Concurrency int
	// TieEpsilon is the score distance treated as a rank tie.
	TieEpsilon float64
	// Pairwise bounds the refinement stage.
	Pairwise pairwise.Options
}

// DefaultOptions returns the orchestration limits used in production.
func DefaultOptions() Options {
	return Options{
		Concurrency: 8,
		TieEpsilon:  ranking.DefaultTieEpsilon,
		Pairwise:    pairwise.DefaultOptions(),
	}
}

// Orchestrator drives runs through created → rule_bound → uploaded →
// running → {completed | failed}. It holds no per-run state beyond the
// cancellation flags of runs currently in flight.
type Orchestrator struct {
	store   Store
	gateway AgentCaller
	logger  *slog.Logger
	opts    Options

	mu        sync.Mutex
	cancelled map[uuid.UUID]bool
}

// NewOrchestrator creates an orchestrator over the given store and gateway.
func NewOrchestrator(store Store, gateway AgentCaller, logger *slog.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Orchestrator{
		store:     store,
		gateway:   gateway,
		logger:    logger,
		opts:      opts,
		cancelled: make(map[uuid.UUID]bool),
	}
}

// Cancel flags a run so no further work is scheduled for it. Calls already
// dispatched finish or time out naturally; their results are still persisted.
func (o *Orchestrator) Cancel(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, inFlight := o.cancelled[runID]; inFlight {
		o.cancelled[runID] = true
	}
}

func (o *Orchestrator) isCancelled(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[runID]
}

// register opens the cancellation window for a run. It reports false when the
// run is already registered, in which case an existing cancel flag is kept.
func (o *Orchestrator) register(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.cancelled[runID]; ok {
		return false
	}
	o.cancelled[runID] = false
	return true
}

func (o *Orchestrator) unregister(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cancelled, runID)
}

// StartRun begins orchestration for an uploaded run and blocks until the run
// reaches a terminal state or is cancelled. A single applicant's total agent
// failure never aborts the run; only orchestrator-level failures (unreadable
// rule set, storage errors) mark it failed, preserving partial results.
func (o *Orchestrator) StartRun(ctx context.Context, runID uuid.UUID) error {
	// Registration happens before any state change so a cancel issued the
	// moment a start is accepted lands instead of being dropped.
	if o.register(runID) {
		defer o.unregister(runID)
	}

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.Status != types.RunUploaded {
		return fmt.Errorf("%w: status is %s", ErrNotStartable, run.Status)
	}

	rs, err := o.resolveRuleSet(ctx, run)
	if err != nil {
		o.fail(ctx, runID, err.Error())
		return err
	}

	if err := o.store.UpdateRunStatus(ctx, runID, types.RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	if o.isCancelled(runID) {
		o.logger.Info("run cancelled before any work was dispatched", "run_id", runID)
		return nil
	}

	if err := o.execute(ctx, runID, rs); err != nil {
		o.fail(ctx, runID, err.Error())
		return err
	}

	if o.isCancelled(runID) {
		o.logger.Info("run cancelled; leaving partial results", "run_id", runID)
		return nil
	}

	if err := o.store.UpdateRunStatus(ctx, runID, types.RunCompleted); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	o.logger.Info("run completed", "run_id", runID)
	return nil
}

func (o *Orchestrator) resolveRuleSet(ctx context.Context, run *types.Run) (*types.RuleSet, error) {
	if run.RuleSetID == nil {
		return nil, fmt.Errorf("%w: run has no bound rule set", ErrRuleSetUnread)
	}
	rs, err := o.store.GetRuleSet(ctx, *run.RuleSetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleSetUnread, err)
	}
	if rs == nil {
		return nil, fmt.Errorf("%w: rule set %s not found", ErrRuleSetUnread, *run.RuleSetID)
	}
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleSetUnread, err)
	}
	return rs, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID uuid.UUID, rs *types.RuleSet) error {
	applicants, err := o.store.ListApplicants(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to list applicants: %w", err)
	}

	if err := o.fanOut(ctx, runID, applicants, rs); err != nil {
		return err
	}
	if o.isCancelled(runID) {
		return nil
	}

	results, err := o.store.ListAgentResults(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load agent results: %w", err)
	}

	if err := o.gateAll(ctx, runID, applicants, results, rs); err != nil {
		return err
	}

	if o.isCancelled(runID) {
		return nil
	}
	return o.rankAndRefine(ctx, runID, results, rs)
}

// fanOut dispatches one gateway call per (applicant, evaluation kind) through
// a worker pool shared across the run. Evaluation failures are absorbed into
// the persisted result; only storage errors propagate.
func (o *Orchestrator) fanOut(ctx context.Context, runID uuid.UUID, applicants []types.Applicant, rs *types.RuleSet) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Concurrency)

	for i := range applicants {
		applicant := &applicants[i]
		for _, kind := range types.EvaluationKinds {
			if o.isCancelled(runID) || gCtx.Err() != nil {
				break
			}
			kind := kind
			g.Go(func() error {
				res := o.gateway.Evaluate(gCtx, runID, applicant, kind, rs)
				if err := o.store.UpsertAgentResult(gCtx, runID, res); err != nil {
					return err
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("agent fan-out failed: %w", err)
	}
	return nil
}

// gateAll derives a screening decision for every applicant once all of its
// agent calls have settled. An applicant whose every evaluator failed falls
// back to MIDDLE for manual review.
func (o *Orchestrator) gateAll(ctx context.Context, runID uuid.UUID, applicants []types.Applicant, results map[uuid.UUID]map[types.AgentKind]*types.AgentResult, rs *types.RuleSet) error {
	for _, applicant := range applicants {
		applicantResults := results[applicant.ID]

		var g types.GatingResult
		if allFailed(applicantResults) {
			g = gating.AllUnknownFallback()
		} else {
			g = gating.Evaluate(applicantResults, rs.HardRequirements)
		}
		g.ApplicantID = applicant.ID

		if err := o.store.SaveGatingResult(ctx, runID, g); err != nil {
			return fmt.Errorf("failed to save gating result: %w", err)
		}
	}
	return nil
}

func allFailed(results map[types.AgentKind]*types.AgentResult) bool {
	for _, kind := range types.EvaluationKinds {
		if res, ok := results[kind]; ok && res.Status == types.ResultOK {
			return false
		}
	}
	return true
}

// rankAndRefine orders the MIDDLE pool by weighted score, then runs bounded
// pairwise passes. Manual overrides are re-read before the initial ranking
// and before every refinement pass so a fresh override always excludes its
// applicant from the pool.
func (o *Orchestrator) rankAndRefine(ctx context.Context, runID uuid.UUID, results map[uuid.UUID]map[types.AgentKind]*types.AgentResult, rs *types.RuleSet) error {
	gatingResults, err := o.store.ListGatingResults(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load gating results: %w", err)
	}

	middle := make(map[uuid.UUID]bool)
	for _, g := range gatingResults {
		if g.Decision == types.DecisionMiddle {
			middle[g.ApplicantID] = true
		}
	}

	pool, err := o.middlePool(ctx, runID, middle)
	if err != nil {
		return err
	}

	weights := rs.EffectiveWeights()
	entries := make([]ranking.Entry, 0, len(pool))
	for id := range pool {
		entries = append(entries, ranking.Entry{
			ApplicantID: id,
			Scores:      ranking.ScoresFromResults(results[id]),
		})
	}

	ranked := ranking.Compute(entries, weights, o.opts.TieEpsilon)
	if err := o.store.SaveRankingResults(ctx, runID, ranked); err != nil {
		return fmt.Errorf("failed to save ranking results: %w", err)
	}

	compare := func(cmpCtx context.Context, a, b uuid.UUID) types.CompareDetails {
		return o.gateway.Compare(cmpCtx, runID, summarize(results[a]), summarize(results[b]), weights)
	}

	for pass := 1; pass <= o.opts.Pairwise.MaxPasses; pass++ {
		if o.isCancelled(runID) || ctx.Err() != nil {
			return nil
		}

		// Fresh override read per pass; new overrides shrink the pool.
		pool, err = o.middlePool(ctx, runID, middle)
		if err != nil {
			return err
		}
		current := filterRanked(ranked, pool)

		adjusted, history := pairwise.Refine(ctx, runID, current, compare,
			pairwise.Options{MaxPasses: 1, Epsilon: o.opts.Pairwise.Epsilon})

		for _, c := range history {
			c.PassNumber = pass
			if err := o.store.AppendComparison(ctx, c); err != nil {
				return fmt.Errorf("failed to record comparison: %w", err)
			}
		}

		if sameOrder(current, adjusted) {
			break
		}

		ranked = adjusted
		if err := o.store.SaveRankingResults(ctx, runID, ranked); err != nil {
			return fmt.Errorf("failed to save refined ranking: %w", err)
		}
	}

	return nil
}

// Rerank recomputes the rank order of a completed run from stored results,
// excluding applicants whose manual decision was set since the last pass.
// Rank rows of excluded applicants are left in place.
func (o *Orchestrator) Rerank(ctx context.Context, runID uuid.UUID) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rs, err := o.resolveRuleSet(ctx, run)
	if err != nil {
		return err
	}

	results, err := o.store.ListAgentResults(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load agent results: %w", err)
	}
	gatingResults, err := o.store.ListGatingResults(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load gating results: %w", err)
	}

	middle := make(map[uuid.UUID]bool)
	for _, g := range gatingResults {
		if g.Decision == types.DecisionMiddle {
			middle[g.ApplicantID] = true
		}
	}
	pool, err := o.middlePool(ctx, runID, middle)
	if err != nil {
		return err
	}

	entries := make([]ranking.Entry, 0, len(pool))
	for id := range pool {
		entries = append(entries, ranking.Entry{
			ApplicantID: id,
			Scores:      ranking.ScoresFromResults(results[id]),
		})
	}

	ranked := ranking.Compute(entries, rs.EffectiveWeights(), o.opts.TieEpsilon)
	if err := o.store.SaveRankingResults(ctx, runID, ranked); err != nil {
		return fmt.Errorf("failed to save ranking results: %w", err)
	}
	return nil
}

// middlePool returns the MIDDLE applicants without an active manual override,
// read fresh from the store.
func (o *Orchestrator) middlePool(ctx context.Context, runID uuid.UUID, middle map[uuid.UUID]bool) (map[uuid.UUID]bool, error) {
	manual, err := o.store.ListManualDecisions(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load manual decisions: %w", err)
	}

	pool := make(map[uuid.UUID]bool, len(middle))
	for id := range middle {
		m, ok := manual[id]
		if ok && m.Overridden() {
			continue
		}
		pool[id] = true
	}
	return pool, nil
}

func filterRanked(ranked []types.RankingResult, pool map[uuid.UUID]bool) []types.RankingResult {
	out := make([]types.RankingResult, 0, len(ranked))
	for _, r := range ranked {
		if pool[r.ApplicantID] {
			out = append(out, r)
		}
	}
	for i := range out {
		out[i].FinalRank = i + 1
	}
	return out
}

func sameOrder(a, b []types.RankingResult) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ApplicantID != b[i].ApplicantID {
			return false
		}
	}
	return true
}

func (o *Orchestrator) fail(ctx context.Context, runID uuid.UUID, message string) {
	if err := o.store.MarkRunFailed(ctx, runID, message); err != nil {
		o.logger.Error("failed to mark run failed", "run_id", runID, "error", err)
	}
}

// summarize renders an applicant's evaluation results as a compact text block
// for the pairwise judge.
func summarize(results map[types.AgentKind]*types.AgentResult) string {
	if len(results) == 0 {
		return "no evaluation results available"
	}

	kinds := make([]string, 0, len(results))
	for k := range results {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var b strings.Builder
	for _, k := range kinds {
		res := results[types.AgentKind(k)]
		if res.Status != types.ResultOK {
			fmt.Fprintf(&b, "%s: unavailable\n", k)
			continue
		}
		if res.Score != nil {
			fmt.Fprintf(&b, "%s: score %.2f", k, *res.Score)
		} else {
			fmt.Fprintf(&b, "%s:", k)
		}
		if len(res.Details) > 0 {
			detail := string(res.Details)
			if runes := []rune(detail); len(runes) > 400 {
				detail = string(runes[:400]) + "…"
			}
			fmt.Fprintf(&b, " %s", detail)
		}
		b.WriteString("\n")
	}
	return b.String()
}
