// Package gating implements the ACCEPT/REJECT/MIDDLE screening decision from
// hard requirements and raw agent results. All functions are pure and
// deterministic: fixed inputs always produce the same decision.
package gating

import (
	"encoding/json"
	"fmt"

	"github.com/jonathan/admissions-engine/internal/types"
)

// reqStatus is the outcome of evaluating one hard requirement.
type reqStatus int

const (
	statusSatisfied reqStatus = iota
	statusViolated
	statusUnknown
)

// Evaluate derives the gating decision for one applicant from its agent
// results and the rule set's hard requirements.
//
// A requirement whose backing agent result is missing or failed evaluates to
// unknown, never to a violation: absence of evidence is not failure. Any
// violation rejects; a fully-satisfied set with no unknowns and no
// disqualifying classifier findings accepts; everything else lands in the
// middle pool.
func Evaluate(results map[types.AgentKind]*types.AgentResult, requirements []types.HardRequirement) types.GatingResult {
	var violated, unknown, satisfied []string

	for _, req := range requirements {
		switch status, detail := evaluateRequirement(results, req); status {
		case statusViolated:
			violated = append(violated, fmt.Sprintf("%s: %s", req.Name, detail))
		case statusUnknown:
			unknown = append(unknown, fmt.Sprintf("%s: %s", req.Name, detail))
		default:
			satisfied = append(satisfied, req.Name)
		}
	}

	out := types.GatingResult{}
	if len(violated) > 0 {
		out.Decision = types.DecisionReject
		out.Reasons = violated
		return out
	}

	// Automatic acceptance additionally needs a clean classifier verdict:
	// an unavailable classifier cannot confirm the absence of disqualifying
	// patterns.
	disqualifying := classifierFindings(results)
	if len(unknown) == 0 && len(disqualifying) == 0 {
		out.Decision = types.DecisionAccept
		if len(satisfied) > 0 {
			out.Reasons = append([]string{"all hard requirements satisfied"}, satisfied...)
		} else {
			out.Reasons = []string{"no hard requirements configured"}
		}
		return out
	}

	out.Decision = types.DecisionMiddle
	out.Reasons = append(out.Reasons, unknown...)
	out.Reasons = append(out.Reasons, disqualifying...)
	if len(out.Reasons) == 0 {
		out.Reasons = []string{"no decisive evidence"}
	}
	return out
}

// AllUnknownFallback is the gating result for an applicant whose every agent
// call failed: never an automatic reject.
func AllUnknownFallback() types.GatingResult {
	return types.GatingResult{
		Decision: types.DecisionMiddle,
		Reasons:  []string{"all agent evaluations failed; manual review required"},
	}
}

// evaluateRequirement applies one predicate against the relevant agent
// result's details.
func evaluateRequirement(results map[types.AgentKind]*types.AgentResult, req types.HardRequirement) (reqStatus, string) {
	r, ok := results[req.Agent]
	if !ok || r == nil || r.Status != types.ResultOK {
		return statusUnknown, fmt.Sprintf("%s agent result unavailable", req.Agent)
	}

	value, present := r.DetailsMap()[req.Field]
	if value == nil {
		present = false
	}

	if req.Op == types.OpExists {
		if present {
			return statusSatisfied, ""
		}
		return statusViolated, fmt.Sprintf("%s.%s not present", req.Agent, req.Field)
	}

	if !present {
		return statusUnknown, fmt.Sprintf("%s.%s not reported", req.Agent, req.Field)
	}

	holds, err := compare(value, req.Op, req.Value)
	if err != nil {
		return statusUnknown, fmt.Sprintf("%s.%s not comparable: %v", req.Agent, req.Field, err)
	}
	if holds {
		return statusSatisfied, ""
	}
	return statusViolated, fmt.Sprintf("%s.%s=%v fails %s %v", req.Agent, req.Field, value, req.Op, req.Value)
}

// compare applies a predicate operator to an observed detail value.
func compare(observed any, op types.RequirementOp, expected any) (bool, error) {
	switch op {
	case types.OpEquals, types.OpNotEquals:
		eq := looseEqual(observed, expected)
		if op == types.OpEquals {
			return eq, nil
		}
		return !eq, nil
	case types.OpGreaterEqual, types.OpLessEqual:
		o, ok1 := asFloat(observed)
		e, ok2 := asFloat(expected)
		if !ok1 || !ok2 {
			return false, fmt.Errorf("non-numeric operands %v, %v", observed, expected)
		}
		if op == types.OpGreaterEqual {
			return o >= e, nil
		}
		return o <= e, nil
	}
	return false, fmt.Errorf("unsupported op %q", op)
}

// looseEqual compares JSON-decoded values across the numeric/bool/string
// representations predicates use.
func looseEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// classifierFindings surfaces classifier output that blocks automatic
// acceptance: flagged disqualifying patterns, or an unavailable classifier.
func classifierFindings(results map[types.AgentKind]*types.AgentResult) []string {
	r, ok := results[types.AgentClassifier]
	if !ok || r == nil || r.Status != types.ResultOK {
		return []string{"classifier result unavailable"}
	}
	decoded, err := types.DecodeDetails(types.AgentClassifier, r.Details)
	if err != nil {
		// An unreadable payload confirmed nothing; treat it like an
		// unavailable classifier rather than a clean verdict.
		return []string{"classifier details unreadable"}
	}
	details := decoded.(*types.ClassifierDetails)
	out := make([]string, 0, len(details.Disqualifying))
	for _, d := range details.Disqualifying {
		out = append(out, "disqualifying pattern: "+d)
	}
	return out
}
