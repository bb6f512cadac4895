package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/admissions-engine/internal/types"
)

// scriptedEvaluator returns canned responses or errors in sequence.
type scriptedEvaluator struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	verdict *Verdict
	err     error
}

func (s *scriptedEvaluator) Call(_ context.Context, _ types.AgentKind, _ map[string]string) (*Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	r := s.responses[idx]
	return r.verdict, r.err
}

// recordingLogger captures conversation-log entries.
type recordingLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (r *recordingLogger) Append(_ context.Context, e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingLogger) phases() []LogPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogPhase, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Phase
	}
	return out
}

func testOptions() Options {
	return Options{MaxAttempts: 3, BaseBackoff: time.Millisecond, CallTimeout: time.Second}
}

func scoreVerdict(score float64, details string) *Verdict {
	return &Verdict{Score: &score, Details: json.RawMessage(details)}
}

func testApplicant() *types.Applicant {
	return &types.Applicant{
		ID:         uuid.New(),
		FolderName: "li_ming",
		Documents:  []types.Document{{Filename: "cv.pdf", DocType: "cv_resume", Text: "worked at a lab"}},
	}
}

func TestGatewayEvaluate_Success(t *testing.T) {
	eval := &scriptedEvaluator{responses: []scriptedResponse{
		{verdict: scoreVerdict(7.5, `{"score":7.5,"highlights":["lab work"]}`)},
	}}
	log := &recordingLogger{}
	gw := NewGateway(eval, log, nil, testOptions())

	result := gw.Evaluate(context.Background(), uuid.New(), testApplicant(), types.AgentExperience, nil)

	assert.Equal(t, types.ResultOK, result.Status)
	require.NotNil(t, result.Score)
	assert.Equal(t, 7.5, *result.Score)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, []LogPhase{PhaseRequest, PhaseResponse}, log.phases())
}

func TestGatewayEvaluate_RetriesThenSucceeds(t *testing.T) {
	eval := &scriptedEvaluator{responses: []scriptedResponse{
		{err: errors.New("transport reset")},
		{verdict: scoreVerdict(12, `{"score":12}`)}, // out of range, malformed
		{verdict: scoreVerdict(6, `{"score":6}`)},
	}}
	gw := NewGateway(eval, nil, nil, testOptions())

	result := gw.Evaluate(context.Background(), uuid.New(), testApplicant(), types.AgentDegree, nil)

	assert.Equal(t, types.ResultOK, result.Status)
	assert.Equal(t, 3, result.Attempts)
	require.NotNil(t, result.Score)
	assert.Equal(t, 6.0, *result.Score)
}

func TestGatewayEvaluate_ExhaustsRetries(t *testing.T) {
	eval := &scriptedEvaluator{responses: []scriptedResponse{
		{err: errors.New("service unavailable")},
	}}
	log := &recordingLogger{}
	gw := NewGateway(eval, log, nil, testOptions())

	result := gw.Evaluate(context.Background(), uuid.New(), testApplicant(), types.AgentAcademic, nil)

	assert.Equal(t, types.ResultFailed, result.Status)
	assert.Nil(t, result.Score)
	assert.Equal(t, 3, result.Attempts)
	assert.Contains(t, result.Error, "service unavailable")
	// Each attempt is logged: request + error response, three times.
	assert.Len(t, log.phases(), 6)
}

func TestGatewayEvaluate_UnknownKind(t *testing.T) {
	eval := &scriptedEvaluator{responses: []scriptedResponse{{verdict: scoreVerdict(5, `{"score":5}`)}}}
	gw := NewGateway(eval, nil, nil, testOptions())

	result := gw.Evaluate(context.Background(), uuid.New(), testApplicant(), "background", nil)

	assert.Equal(t, types.ResultFailed, result.Status)
	assert.Contains(t, result.Error, "unknown agent kind")
	assert.Equal(t, 0, eval.calls)
}

func TestGatewayEvaluate_NullScoreIsValid(t *testing.T) {
	eval := &scriptedEvaluator{responses: []scriptedResponse{
		{verdict: &Verdict{Details: json.RawMessage(`{"country_name":"India","country_code_iso3":"IND"}`)}},
	}}
	gw := NewGateway(eval, nil, nil, testOptions())

	result := gw.Evaluate(context.Background(), uuid.New(), testApplicant(), types.AgentDetector, nil)

	assert.Equal(t, types.ResultOK, result.Status)
	assert.Nil(t, result.Score)
	assert.Equal(t, 1, result.Attempts)
}

func TestGatewayEvaluate_ContextCancelled(t *testing.T) {
	eval := &scriptedEvaluator{responses: []scriptedResponse{
		{err: errors.New("timeout")},
	}}
	gw := NewGateway(eval, nil, nil, Options{MaxAttempts: 5, BaseBackoff: time.Hour, CallTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := gw.Evaluate(ctx, uuid.New(), testApplicant(), types.AgentEnglish, nil)

	assert.Equal(t, types.ResultFailed, result.Status)
	// Cancellation stops retries without waiting out the backoff.
	assert.Equal(t, 1, result.Attempts)
}

func TestGatewayCompare_Winner(t *testing.T) {
	eval := &scriptedEvaluator{responses: []scriptedResponse{
		{verdict: &Verdict{Details: json.RawMessage(`{"winner":"B","reason":"stronger research record"}`)}},
	}}
	gw := NewGateway(eval, nil, nil, testOptions())

	details := gw.Compare(context.Background(), uuid.New(), `{"degree":8}`, `{"degree":9}`, types.DefaultWeights)

	assert.Equal(t, "B", details.Winner)
	assert.Equal(t, "stronger research record", details.Reason)
}

func TestGatewayCompare_FallsBackToTie(t *testing.T) {
	eval := &scriptedEvaluator{responses: []scriptedResponse{
		{verdict: &Verdict{Details: json.RawMessage(`{"winner":"C"}`)}}, // invalid winner
	}}
	gw := NewGateway(eval, nil, nil, testOptions())

	details := gw.Compare(context.Background(), uuid.New(), "{}", "{}", nil)

	assert.Equal(t, "tie", details.Winner)
}

func TestParseVerdict(t *testing.T) {
	v, err := ParseVerdict("```json\n{\"score\": 8, \"evidence\": [\"x\"]}\n```")
	require.NoError(t, err)
	require.NotNil(t, v.Score)
	assert.Equal(t, 8.0, *v.Score)

	v, err = ParseVerdict(`{"winner":"A"}`)
	require.NoError(t, err)
	assert.Nil(t, v.Score)

	_, err = ParseVerdict("not json at all")
	require.Error(t, err)

	_, err = ParseVerdict(`{"score":"high"}`)
	require.Error(t, err)
}

func TestBuildPayload_UsesRuleSetChecklists(t *testing.T) {
	gw := NewGateway(&scriptedEvaluator{responses: []scriptedResponse{{verdict: scoreVerdict(5, `{"score":5}`)}}}, nil, nil, testOptions())
	rs := &types.RuleSet{
		Checklists:        map[types.AgentKind][]string{types.AgentDegree: {"relevant major", "strong maths"}},
		TargetDegreeClass: "UPPER_SECOND",
		EnglishLevel:      "level2",
	}

	payload := gw.buildPayload(testApplicant(), types.AgentDegree, rs)

	assert.Equal(t, "relevant major; strong maths", payload["Checklist"])
	assert.Equal(t, "UPPER_SECOND", payload["TargetClass"])
	assert.Equal(t, "level2", payload["EnglishLevel"])
	assert.Contains(t, payload["Materials"], "cv.pdf")
}

func TestSummarizePayloadTruncatesOnRunes(t *testing.T) {
	payload := map[string]string{"Materials": strings.Repeat("é", 250)}

	got := summarizePayload(payload)

	assert.True(t, utf8.ValidString(got))
	assert.Contains(t, got, strings.Repeat("é", 200)+"…")
	assert.NotContains(t, got, strings.Repeat("é", 201))
}
