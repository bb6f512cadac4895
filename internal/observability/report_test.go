package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/admissions-engine/internal/types"
)

// fakeStore is an in-memory ReportStore for assembling reports in tests.
type fakeStore struct {
	run         *types.Run
	applicants  []types.Applicant
	results     map[uuid.UUID]map[types.AgentKind]*types.AgentResult
	gatings     []types.GatingResult
	rankings    []types.RankingResult
	manual      map[uuid.UUID]types.ManualDecision
	comparisons []types.PairwiseComparison
}

func (f *fakeStore) GetRun(_ context.Context, _ uuid.UUID) (*types.Run, error) {
	return f.run, nil
}

func (f *fakeStore) ListApplicants(_ context.Context, _ uuid.UUID) ([]types.Applicant, error) {
	return f.applicants, nil
}

func (f *fakeStore) ListAgentResults(_ context.Context, _ uuid.UUID) (map[uuid.UUID]map[types.AgentKind]*types.AgentResult, error) {
	return f.results, nil
}

func (f *fakeStore) ListGatingResults(_ context.Context, _ uuid.UUID) ([]types.GatingResult, error) {
	return f.gatings, nil
}

func (f *fakeStore) ListRankingResults(_ context.Context, _ uuid.UUID) ([]types.RankingResult, error) {
	return f.rankings, nil
}

func (f *fakeStore) ListManualDecisions(_ context.Context, _ uuid.UUID) (map[uuid.UUID]types.ManualDecision, error) {
	return f.manual, nil
}

func (f *fakeStore) ListComparisons(_ context.Context, _ uuid.UUID) ([]types.PairwiseComparison, error) {
	return f.comparisons, nil
}

func seedStore(t *testing.T) (*fakeStore, map[string]uuid.UUID) {
	t.Helper()
	runID := uuid.New()
	ids := map[string]uuid.UUID{}
	store := &fakeStore{
		run:    &types.Run{ID: runID, Name: "fall-2026", Status: types.RunCompleted},
		manual: map[uuid.UUID]types.ManualDecision{},
	}
	for _, folder := range []string{"alice", "bob", "carol", "dave"} {
		id := uuid.New()
		ids[folder] = id
		store.applicants = append(store.applicants, types.Applicant{
			ID: id, RunID: runID, FolderName: folder,
		})
	}
	return store, ids
}

func TestBuildReportOrdering(t *testing.T) {
	store, ids := seedStore(t)
	store.gatings = []types.GatingResult{
		{ApplicantID: ids["alice"], Decision: types.DecisionMiddle},
		{ApplicantID: ids["bob"], Decision: types.DecisionReject, Reasons: []string{"degree class below 2:1"}},
		{ApplicantID: ids["carol"], Decision: types.DecisionAccept},
		{ApplicantID: ids["dave"], Decision: types.DecisionMiddle},
	}
	store.rankings = []types.RankingResult{
		{ApplicantID: ids["dave"], WeightedScore: 0.71, FinalRank: 1},
		{ApplicantID: ids["alice"], WeightedScore: 0.64, FinalRank: 2},
	}

	report, err := BuildReport(context.Background(), store, store.run.ID)
	require.NoError(t, err)
	require.Len(t, report.Items, 4)

	var order []string
	for _, item := range report.Items {
		order = append(order, item.FolderName)
	}
	// ACCEPT first, MIDDLE by final rank, REJECT last.
	assert.Equal(t, []string{"carol", "dave", "alice", "bob"}, order)

	assert.Equal(t, types.DecisionReject, report.Items[3].Decision)
	assert.Equal(t, []string{"degree class below 2:1"}, report.Items[3].GatingReasons)
	require.NotNil(t, report.Items[1].WeightedScore)
	assert.InDelta(t, 0.71, *report.Items[1].WeightedScore, 1e-9)
}

func TestBuildReportManualOverrideMovesGroup(t *testing.T) {
	store, ids := seedStore(t)
	store.gatings = []types.GatingResult{
		{ApplicantID: ids["alice"], Decision: types.DecisionReject, Reasons: []string{"no english evidence"}},
		{ApplicantID: ids["bob"], Decision: types.DecisionAccept},
		{ApplicantID: ids["carol"], Decision: types.DecisionMiddle},
		{ApplicantID: ids["dave"], Decision: types.DecisionMiddle},
	}
	accept := types.DecisionAccept
	now := time.Now()
	store.manual[ids["alice"]] = types.ManualDecision{
		ApplicantID: ids["alice"], Decision: &accept, SetAt: &now,
	}

	report, err := BuildReport(context.Background(), store, store.run.ID)
	require.NoError(t, err)

	first := report.Items[0]
	assert.Equal(t, "alice", first.FolderName)
	assert.True(t, first.Overridden)
	assert.Equal(t, types.DecisionAccept, first.Decision)
	assert.Equal(t, types.DecisionReject, first.GatingDecision)
	assert.Equal(t, []string{"no english evidence"}, first.GatingReasons, "gating reasons stay visible under an override")
}

func TestBuildReportScorelessMiddleAfterRanked(t *testing.T) {
	store, ids := seedStore(t)
	store.gatings = []types.GatingResult{
		{ApplicantID: ids["alice"], Decision: types.DecisionMiddle},
		{ApplicantID: ids["bob"], Decision: types.DecisionMiddle},
		{ApplicantID: ids["carol"], Decision: types.DecisionMiddle},
		{ApplicantID: ids["dave"], Decision: types.DecisionMiddle},
	}
	store.rankings = []types.RankingResult{
		{ApplicantID: ids["carol"], WeightedScore: 0.8, FinalRank: 1},
		{ApplicantID: ids["alice"], WeightedScore: 0.5, FinalRank: 2},
	}

	report, err := BuildReport(context.Background(), store, store.run.ID)
	require.NoError(t, err)

	var order []string
	for _, item := range report.Items {
		order = append(order, item.FolderName)
	}
	assert.Equal(t, []string{"carol", "alice", "bob", "dave"}, order)
}

func TestBuildReportEvaluationsInKindOrder(t *testing.T) {
	store, ids := seedStore(t)
	score := 7.5
	store.results = map[uuid.UUID]map[types.AgentKind]*types.AgentResult{
		ids["alice"]: {
			types.AgentDegree: {
				ApplicantID: ids["alice"], Kind: types.AgentDegree,
				Score: &score, Status: types.ResultOK,
			},
			types.AgentEnglish: {
				ApplicantID: ids["alice"], Kind: types.AgentEnglish,
				Status: types.ResultFailed, Error: "model timeout",
			},
		},
	}

	report, err := BuildReport(context.Background(), store, store.run.ID)
	require.NoError(t, err)

	var alice *ReportItem
	for i := range report.Items {
		if report.Items[i].FolderName == "alice" {
			alice = &report.Items[i]
		}
	}
	require.NotNil(t, alice)
	require.Len(t, alice.Evaluations, 2)
	assert.Equal(t, types.AgentEnglish, alice.Evaluations[0].Kind)
	assert.Equal(t, "model timeout", alice.Evaluations[0].Error)
	assert.Equal(t, types.AgentDegree, alice.Evaluations[1].Kind)
	require.NotNil(t, alice.Evaluations[1].Score)
}

func TestBuildReportPendingRun(t *testing.T) {
	store, _ := seedStore(t)
	store.run.Status = types.RunUploaded

	report, err := BuildReport(context.Background(), store, store.run.ID)
	require.NoError(t, err)
	require.Len(t, report.Items, 4)
	for _, item := range report.Items {
		assert.Empty(t, item.Decision)
		assert.False(t, item.Overridden)
	}
}

func TestPrintReport(t *testing.T) {
	store, ids := seedStore(t)
	store.gatings = []types.GatingResult{
		{ApplicantID: ids["alice"], Decision: types.DecisionAccept},
		{ApplicantID: ids["bob"], Decision: types.DecisionMiddle},
		{ApplicantID: ids["carol"], Decision: types.DecisionMiddle},
		{ApplicantID: ids["dave"], Decision: types.DecisionReject, Reasons: []string{"disqualifying document"}},
	}
	store.rankings = []types.RankingResult{
		{ApplicantID: ids["bob"], WeightedScore: 0.62, FinalRank: 1},
		{ApplicantID: ids["carol"], WeightedScore: 0.44, FinalRank: 2, Notes: "moved above " + ids["bob"].String()[:8] + " per pass 1"},
	}
	store.comparisons = []types.PairwiseComparison{
		{RunID: store.run.ID, PassNumber: 1, ApplicantA: ids["bob"], ApplicantB: ids["carol"], Winner: "B"},
	}

	report, err := BuildReport(context.Background(), store, store.run.ID)
	require.NoError(t, err)

	var buf strings.Builder
	NewPrinter(&buf).PrintReport(report)
	out := buf.String()

	assert.Contains(t, out, "ADMISSIONS REPORT")
	assert.Contains(t, out, "fall-2026")
	assert.Contains(t, out, "ACCEPT (1)")
	assert.Contains(t, out, "MIDDLE (2)")
	assert.Contains(t, out, "REJECT (1)")
	assert.Contains(t, out, "rank 1")
	assert.Contains(t, out, "disqualifying document")
	assert.Contains(t, out, "PAIRWISE HISTORY (1)")
	assert.NotContains(t, out, "PENDING")
}

func TestPrintReportPendingSection(t *testing.T) {
	store, _ := seedStore(t)
	store.run.Status = types.RunRunning

	report, err := BuildReport(context.Background(), store, store.run.ID)
	require.NoError(t, err)

	var buf strings.Builder
	NewPrinter(&buf).PrintReport(report)
	assert.Contains(t, buf.String(), "PENDING (4)")
}
