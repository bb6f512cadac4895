package gating

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/admissions-engine/internal/types"
)

func okResult(kind types.AgentKind, details string) *types.AgentResult {
	return &types.AgentResult{
		ApplicantID: uuid.Nil,
		Kind:        kind,
		Status:      types.ResultOK,
		Details:     json.RawMessage(details),
	}
}

func failedResult(kind types.AgentKind) *types.AgentResult {
	return &types.AgentResult{Kind: kind, Status: types.ResultFailed, Error: "retries exhausted"}
}

func cleanClassifier() *types.AgentResult {
	return okResult(types.AgentClassifier, `{"labels":{"cv.pdf":"cv_resume"},"disqualifying":[]}`)
}

var standardRequirements = []types.HardRequirement{
	{Name: "degree-meets-class", Agent: types.AgentDegree, Field: "meets_requirement", Op: types.OpEquals, Value: true},
	{Name: "qs-rank-cap", Agent: types.AgentDegree, Field: "qs_rank", Op: types.OpLessEqual, Value: 800},
	{Name: "english-evidence", Agent: types.AgentEnglish, Field: "test_overall", Op: types.OpExists},
}

func TestEvaluate_Accept(t *testing.T) {
	results := map[types.AgentKind]*types.AgentResult{
		types.AgentDegree:     okResult(types.AgentDegree, `{"meets_requirement":true,"qs_rank":50}`),
		types.AgentEnglish:    okResult(types.AgentEnglish, `{"test_overall":7.5,"exemption":false}`),
		types.AgentClassifier: cleanClassifier(),
	}

	got := Evaluate(results, standardRequirements)

	assert.Equal(t, types.DecisionAccept, got.Decision)
	assert.Contains(t, got.Reasons, "all hard requirements satisfied")
	assert.Contains(t, got.Reasons, "qs-rank-cap")
}

func TestEvaluate_RejectOnViolation(t *testing.T) {
	results := map[types.AgentKind]*types.AgentResult{
		types.AgentDegree:     okResult(types.AgentDegree, `{"meets_requirement":false,"qs_rank":850}`),
		types.AgentEnglish:    okResult(types.AgentEnglish, `{"test_overall":7.0}`),
		types.AgentClassifier: cleanClassifier(),
	}

	got := Evaluate(results, standardRequirements)

	assert.Equal(t, types.DecisionReject, got.Decision)
	require.Len(t, got.Reasons, 2)
	assert.Contains(t, got.Reasons[0], "degree-meets-class")
	assert.Contains(t, got.Reasons[1], "qs-rank-cap")
}

func TestEvaluate_FailedAgentIsUnknownNotReject(t *testing.T) {
	results := map[types.AgentKind]*types.AgentResult{
		types.AgentDegree:     failedResult(types.AgentDegree),
		types.AgentEnglish:    okResult(types.AgentEnglish, `{"test_overall":8.0}`),
		types.AgentClassifier: cleanClassifier(),
	}

	got := Evaluate(results, standardRequirements)

	assert.Equal(t, types.DecisionMiddle, got.Decision)
	assert.Contains(t, got.Reasons[0], "degree agent result unavailable")
}

func TestEvaluate_MissingFieldOnExistsIsViolation(t *testing.T) {
	// Agent ran fine but reported no test score: the evidence requirement is
	// genuinely violated, not unknown.
	results := map[types.AgentKind]*types.AgentResult{
		types.AgentDegree:     okResult(types.AgentDegree, `{"meets_requirement":true,"qs_rank":100}`),
		types.AgentEnglish:    okResult(types.AgentEnglish, `{"test_overall":null,"exemption":false}`),
		types.AgentClassifier: cleanClassifier(),
	}

	got := Evaluate(results, standardRequirements)

	assert.Equal(t, types.DecisionReject, got.Decision)
	assert.Contains(t, got.Reasons[0], "english-evidence")
}

func TestEvaluate_MissingFieldOnComparisonIsUnknown(t *testing.T) {
	results := map[types.AgentKind]*types.AgentResult{
		types.AgentDegree:     okResult(types.AgentDegree, `{"meets_requirement":true}`), // no qs_rank
		types.AgentEnglish:    okResult(types.AgentEnglish, `{"test_overall":7.0}`),
		types.AgentClassifier: cleanClassifier(),
	}

	got := Evaluate(results, standardRequirements)

	assert.Equal(t, types.DecisionMiddle, got.Decision)
	assert.Contains(t, got.Reasons[0], "degree.qs_rank not reported")
}

func TestEvaluate_DisqualifyingPatternBlocksAccept(t *testing.T) {
	results := map[types.AgentKind]*types.AgentResult{
		types.AgentDegree:     okResult(types.AgentDegree, `{"meets_requirement":true,"qs_rank":100}`),
		types.AgentEnglish:    okResult(types.AgentEnglish, `{"test_overall":7.5}`),
		types.AgentClassifier: okResult(types.AgentClassifier, `{"labels":{},"disqualifying":["plagiarised statement"]}`),
	}

	got := Evaluate(results, standardRequirements)

	assert.Equal(t, types.DecisionMiddle, got.Decision)
	assert.Contains(t, got.Reasons[0], "disqualifying pattern: plagiarised statement")
}

func TestEvaluate_UnavailableClassifierBlocksAccept(t *testing.T) {
	results := map[types.AgentKind]*types.AgentResult{
		types.AgentDegree:  okResult(types.AgentDegree, `{"meets_requirement":true,"qs_rank":100}`),
		types.AgentEnglish: okResult(types.AgentEnglish, `{"test_overall":7.5}`),
	}

	got := Evaluate(results, standardRequirements)

	assert.Equal(t, types.DecisionMiddle, got.Decision)
	assert.Contains(t, got.Reasons, "classifier result unavailable")
}

func TestEvaluate_UnreadableClassifierDetailsBlockAccept(t *testing.T) {
	// Valid JSON, wrong field types: decodes nowhere, so nothing was
	// confirmed clean.
	results := map[types.AgentKind]*types.AgentResult{
		types.AgentDegree:     okResult(types.AgentDegree, `{"meets_requirement":true,"qs_rank":100}`),
		types.AgentEnglish:    okResult(types.AgentEnglish, `{"test_overall":7.5}`),
		types.AgentClassifier: okResult(types.AgentClassifier, `{"disqualifying":123}`),
	}

	got := Evaluate(results, standardRequirements)

	assert.Equal(t, types.DecisionMiddle, got.Decision)
	assert.Contains(t, got.Reasons, "classifier details unreadable")
}

func TestEvaluate_AbsentRuleNeverEvaluated(t *testing.T) {
	// Only one requirement configured: other detail fields never matter.
	results := map[types.AgentKind]*types.AgentResult{
		types.AgentDegree:     okResult(types.AgentDegree, `{"meets_requirement":true,"qs_rank":99999}`),
		types.AgentClassifier: cleanClassifier(),
	}
	reqs := []types.HardRequirement{
		{Name: "degree-meets-class", Agent: types.AgentDegree, Field: "meets_requirement", Op: types.OpEquals, Value: true},
	}

	got := Evaluate(results, reqs)

	assert.Equal(t, types.DecisionAccept, got.Decision)
}

func TestEvaluate_Deterministic(t *testing.T) {
	results := map[types.AgentKind]*types.AgentResult{
		types.AgentDegree:     okResult(types.AgentDegree, `{"meets_requirement":true}`),
		types.AgentEnglish:    failedResult(types.AgentEnglish),
		types.AgentClassifier: cleanClassifier(),
	}

	first := Evaluate(results, standardRequirements)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Evaluate(results, standardRequirements))
	}
}

func TestAllUnknownFallback(t *testing.T) {
	got := AllUnknownFallback()
	assert.Equal(t, types.DecisionMiddle, got.Decision)
	assert.NotEmpty(t, got.Reasons)
}
