package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/types"
)

// maxMaterialsLen bounds the applicant text handed to an evaluator prompt.
const maxMaterialsLen = 20000

// ErrMalformedResponse marks an evaluator response that decoded but failed
// validation (e.g. score outside [0,10]). Treated as transient and retried.
var ErrMalformedResponse = errors.New("malformed evaluator response")

// Options configures gateway retry and timeout behavior.
type Options struct {
	MaxAttempts int           // attempts per call, including the first
	BaseBackoff time.Duration // doubled after each failed attempt
	CallTimeout time.Duration // per-attempt deadline
}

// DefaultOptions returns the retry policy used in production.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		BaseBackoff: 2 * time.Second,
		CallTimeout: 2 * time.Minute,
	}
}

// Gateway wraps the external evaluator panel behind one contract: given an
// applicant's extracted materials, return a bounded score plus structured
// details, or a failed result. Never returns a fatal error for a single
// evaluator failure.
type Gateway struct {
	evaluator Evaluator
	log       ConversationLogger
	logger    *slog.Logger
	opts      Options
}

// NewGateway creates a gateway around the given evaluator.
func NewGateway(evaluator Evaluator, convLog ConversationLogger, logger *slog.Logger, opts Options) *Gateway {
	if convLog == nil {
		convLog = NopLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Gateway{evaluator: evaluator, log: convLog, logger: logger, opts: opts}
}

// Evaluate runs one evaluator kind against one applicant. Transport failures
// and malformed responses are retried with exponential backoff up to the
// attempt cap; exhausting retries yields status=failed with a nil score.
func (g *Gateway) Evaluate(ctx context.Context, runID uuid.UUID, applicant *types.Applicant, kind types.AgentKind, rs *types.RuleSet) types.AgentResult {
	result := types.AgentResult{
		ApplicantID: applicant.ID,
		Kind:        kind,
		Status:      types.ResultFailed,
		UpdatedAt:   time.Now().UTC(),
	}

	if !types.ValidKind(kind) {
		result.Error = fmt.Sprintf("unknown agent kind %q", kind)
		return result
	}

	payload := g.buildPayload(applicant, kind, rs)

	var lastErr error
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		result.Attempts = attempt

		verdict, err := g.attempt(ctx, runID, &applicant.ID, kind, payload)
		if err == nil {
			result.Status = types.ResultOK
			result.Score = verdict.Score
			result.Details = verdict.Details
			result.Error = ""
			return result
		}
		lastErr = err

		g.logger.Warn("agent attempt failed",
			"run_id", runID, "applicant_id", applicant.ID,
			"agent", kind, "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			break
		}
		if attempt < g.opts.MaxAttempts {
			if err := sleep(ctx, g.backoff(attempt)); err != nil {
				break
			}
		}
	}

	result.Error = lastErr.Error()
	return result
}

// Compare invokes the pairwise judge on two applicants' evaluation summaries.
// Failures degrade to a tie rather than an error so refinement always makes
// progress.
func (g *Gateway) Compare(ctx context.Context, runID uuid.UUID, summaryA, summaryB string, weights map[types.AgentKind]float64) types.CompareDetails {
	payload := map[string]string{
		"Weights":    formatWeights(weights),
		"ApplicantA": summaryA,
		"ApplicantB": summaryB,
	}

	var lastErr error
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		verdict, err := g.attempt(ctx, runID, nil, types.AgentCompare, payload)
		if err == nil {
			var details types.CompareDetails
			if err := json.Unmarshal(verdict.Details, &details); err == nil && validWinner(details.Winner) {
				return details
			}
			err = fmt.Errorf("%w: bad compare verdict", ErrMalformedResponse)
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		if attempt < g.opts.MaxAttempts {
			if err := sleep(ctx, g.backoff(attempt)); err != nil {
				break
			}
		}
	}

	g.logger.Warn("pairwise comparison failed, falling back to tie", "run_id", runID, "error", lastErr)
	return types.CompareDetails{Winner: "tie", Reason: "undecided"}
}

// attempt runs a single evaluator call with the per-call timeout, logging the
// request and response (or error) to the conversation log.
func (g *Gateway) attempt(ctx context.Context, runID uuid.UUID, applicantID *uuid.UUID, kind types.AgentKind, payload map[string]string) (*Verdict, error) {
	callCtx := ctx
	if g.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.opts.CallTimeout)
		defer cancel()
	}

	g.log.Append(ctx, LogEntry{
		RunID: runID, ApplicantID: applicantID, Agent: string(kind),
		Phase: PhaseRequest, Message: summarizePayload(payload), CreatedAt: time.Now().UTC(),
	})

	verdict, err := g.evaluator.Call(callCtx, kind, payload)
	if err != nil {
		g.log.Append(ctx, LogEntry{
			RunID: runID, ApplicantID: applicantID, Agent: string(kind),
			Phase: PhaseResponse, Message: "error: " + err.Error(), CreatedAt: time.Now().UTC(),
		})
		return nil, err
	}

	if verdict.Score != nil && (*verdict.Score < 0 || *verdict.Score > 10) {
		g.log.Append(ctx, LogEntry{
			RunID: runID, ApplicantID: applicantID, Agent: string(kind),
			Phase: PhaseResponse, Message: fmt.Sprintf("error: score %v outside [0,10]", *verdict.Score), CreatedAt: time.Now().UTC(),
		})
		return nil, fmt.Errorf("%w: score %v outside [0,10]", ErrMalformedResponse, *verdict.Score)
	}

	g.log.Append(ctx, LogEntry{
		RunID: runID, ApplicantID: applicantID, Agent: string(kind),
		Phase: PhaseResponse, Message: string(verdict.Details), CreatedAt: time.Now().UTC(),
	})
	return verdict, nil
}

// buildPayload assembles the prompt inputs for an agent kind from the
// applicant materials and the rule set's checklists.
func (g *Gateway) buildPayload(applicant *types.Applicant, kind types.AgentKind, rs *types.RuleSet) map[string]string {
	payload := map[string]string{
		"Materials":    applicant.MaterialsText(maxMaterialsLen),
		"Checklist":    "",
		"EnglishLevel": "",
		"TargetClass":  "",
	}
	if rs != nil {
		payload["Checklist"] = strings.Join(rs.Checklists[kind], "; ")
		payload["EnglishLevel"] = rs.EnglishLevel
		payload["TargetClass"] = rs.TargetDegreeClass
	}
	return payload
}

func (g *Gateway) backoff(attempt int) time.Duration {
	d := g.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func validWinner(w string) bool {
	return w == "A" || w == "B" || w == "tie"
}

func formatWeights(weights map[types.AgentKind]float64) string {
	kinds := make([]string, 0, len(weights))
	for k := range weights {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%.2f", k, weights[types.AgentKind(k)]))
	}
	return strings.Join(parts, ", ")
}

// summarizePayload renders a compact request record for the conversation log
// without duplicating full document text.
func summarizePayload(payload map[string]string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := payload[k]
		if runes := []rune(v); len(runes) > 200 {
			v = string(runes[:200]) + "…"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, " | ")
}
