package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathan/admissions-engine/internal/llm"
	"github.com/jonathan/admissions-engine/internal/prompts"
	"github.com/jonathan/admissions-engine/internal/types"
)

// Verdict is the parsed output of one evaluator call: an optional bounded
// score plus the full structured payload.
type Verdict struct {
	Score   *float64
	Details json.RawMessage
}

// Evaluator is the external evaluator capability behind the gateway.
// One shape covers the eight evaluator kinds plus the pairwise judge; the
// payload carries kind-specific prompt inputs.
type Evaluator interface {
	Call(ctx context.Context, kind types.AgentKind, payload map[string]string) (*Verdict, error)
}

// tierFor maps each agent kind to the model tier it runs on.
func tierFor(kind types.AgentKind) llm.ModelTier {
	switch kind {
	case types.AgentClassifier, types.AgentDetector:
		return llm.TierLite
	case types.AgentDegree, types.AgentCompare:
		return llm.TierAdvanced
	default:
		return llm.TierStandard
	}
}

// LLMEvaluator implements Evaluator on top of an llm.Client using the
// embedded prompt templates.
type LLMEvaluator struct {
	client llm.Client
}

// NewLLMEvaluator creates an evaluator backed by the given LLM client.
func NewLLMEvaluator(client llm.Client) *LLMEvaluator {
	return &LLMEvaluator{client: client}
}

// Call renders the prompt template for the agent kind, invokes the model,
// and parses the JSON verdict. A response that is not valid JSON is an error;
// a missing or null score is not (several kinds never score).
func (e *LLMEvaluator) Call(ctx context.Context, kind types.AgentKind, payload map[string]string) (*Verdict, error) {
	template, err := prompts.Get("evaluators.json", string(kind))
	if err != nil {
		return nil, fmt.Errorf("no prompt for agent kind %s: %w", kind, err)
	}

	prompt := prompts.Format(template, payload)
	raw, err := e.client.GenerateJSON(ctx, prompt, tierFor(kind))
	if err != nil {
		return nil, fmt.Errorf("%s agent generation failed: %w", kind, err)
	}

	return ParseVerdict(raw)
}

// ParseVerdict decodes an evaluator response into a Verdict. The whole JSON
// object becomes the details payload; a top-level numeric "score" field is
// lifted out when present.
func ParseVerdict(raw string) (*Verdict, error) {
	cleaned := llm.CleanJSONBlock(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, fmt.Errorf("undecodable evaluator payload: %w", err)
	}

	v := &Verdict{Details: json.RawMessage(cleaned)}
	if rawScore, ok := fields["score"]; ok {
		var score *float64
		if err := json.Unmarshal(rawScore, &score); err != nil {
			return nil, fmt.Errorf("non-numeric score in evaluator payload: %w", err)
		}
		v.Score = score
	}
	return v, nil
}
