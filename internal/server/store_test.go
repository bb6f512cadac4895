package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/agents"
	"github.com/jonathan/admissions-engine/internal/types"
)

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu          sync.Mutex
	runs        map[uuid.UUID]*types.Run
	ruleSets    map[uuid.UUID]*types.RuleSet
	applicants  map[uuid.UUID]*types.Applicant
	agentRes    map[uuid.UUID]map[uuid.UUID]map[types.AgentKind]*types.AgentResult
	gating      map[uuid.UUID]map[uuid.UUID]types.GatingResult
	rankings    map[uuid.UUID]map[uuid.UUID]types.RankingResult
	manual      map[uuid.UUID]map[uuid.UUID]types.ManualDecision
	comparisons map[uuid.UUID][]types.PairwiseComparison
	logs        map[uuid.UUID][]agents.LogEntry
}

func newMemStore() *memStore {
	return &memStore{
		runs:        make(map[uuid.UUID]*types.Run),
		ruleSets:    make(map[uuid.UUID]*types.RuleSet),
		applicants:  make(map[uuid.UUID]*types.Applicant),
		agentRes:    make(map[uuid.UUID]map[uuid.UUID]map[types.AgentKind]*types.AgentResult),
		gating:      make(map[uuid.UUID]map[uuid.UUID]types.GatingResult),
		rankings:    make(map[uuid.UUID]map[uuid.UUID]types.RankingResult),
		manual:      make(map[uuid.UUID]map[uuid.UUID]types.ManualDecision),
		comparisons: make(map[uuid.UUID][]types.PairwiseComparison),
		logs:        make(map[uuid.UUID][]agents.LogEntry),
	}
}

func (m *memStore) CreateRun(_ context.Context, name string) (*types.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &types.Run{ID: uuid.New(), Name: name, Status: types.RunCreated, CreatedAt: time.Now()}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memStore) GetRun(_ context.Context, runID uuid.UUID) (*types.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) ListRuns(_ context.Context, _ int) ([]types.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (m *memStore) UpdateRunStatus(_ context.Context, runID uuid.UUID, to types.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}
	if !types.CanTransition(run.Status, to) {
		return fmt.Errorf("invalid transition from %s to %s", run.Status, to)
	}
	run.Status = to
	return nil
}

func (m *memStore) SaveRuleSet(_ context.Context, rs *types.RuleSet) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	cp := *rs
	cp.ID = id
	m.ruleSets[id] = &cp
	return id, nil
}

func (m *memStore) BindRuleSet(_ context.Context, runID, ruleSetID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}
	if run.Status != types.RunCreated && run.Status != types.RunRuleBound {
		return fmt.Errorf("run %s is %s, rule set can no longer change", runID, run.Status)
	}
	run.RuleSetID = &ruleSetID
	run.Status = types.RunRuleBound
	return nil
}

func (m *memStore) CreateApplicant(_ context.Context, runID uuid.UUID, folderName, displayName string, docs []types.Document) (*types.Applicant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &types.Applicant{
		ID: uuid.New(), RunID: runID,
		FolderName: folderName, DisplayName: displayName, Documents: docs,
	}
	m.applicants[a.ID] = a
	return a, nil
}

func (m *memStore) GetApplicant(_ context.Context, applicantID uuid.UUID) (*types.Applicant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applicants[applicantID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListApplicants(_ context.Context, runID uuid.UUID) ([]types.Applicant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Applicant
	for _, a := range m.applicants {
		if a.RunID == runID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) ListAgentResults(_ context.Context, runID uuid.UUID) (map[uuid.UUID]map[types.AgentKind]*types.AgentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]map[types.AgentKind]*types.AgentResult)
	for applicantID, byKind := range m.agentRes[runID] {
		out[applicantID] = byKind
	}
	return out, nil
}

func (m *memStore) ListGatingResults(_ context.Context, runID uuid.UUID) ([]types.GatingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.GatingResult
	for _, g := range m.gating[runID] {
		out = append(out, g)
	}
	return out, nil
}

func (m *memStore) ListRankingResults(_ context.Context, runID uuid.UUID) ([]types.RankingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.RankingResult
	for _, r := range m.rankings[runID] {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) ListManualDecisions(_ context.Context, runID uuid.UUID) (map[uuid.UUID]types.ManualDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]types.ManualDecision)
	for id, d := range m.manual[runID] {
		out[id] = d
	}
	return out, nil
}

func (m *memStore) ListComparisons(_ context.Context, runID uuid.UUID) ([]types.PairwiseComparison, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.PairwiseComparison(nil), m.comparisons[runID]...), nil
}

func (m *memStore) SetManualDecision(_ context.Context, runID, applicantID uuid.UUID, decision *types.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.manual[runID] == nil {
		m.manual[runID] = make(map[uuid.UUID]types.ManualDecision)
	}
	now := time.Now()
	m.manual[runID][applicantID] = types.ManualDecision{
		ApplicantID: applicantID, Decision: decision, SetAt: &now,
	}
	return nil
}

func (m *memStore) ListRunLogs(_ context.Context, runID uuid.UUID) ([]agents.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]agents.LogEntry(nil), m.logs[runID]...), nil
}

// test seeding helpers

func (m *memStore) setStatus(runID uuid.UUID, status types.RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID].Status = status
}

func (m *memStore) setGating(runID uuid.UUID, g types.GatingResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gating[runID] == nil {
		m.gating[runID] = make(map[uuid.UUID]types.GatingResult)
	}
	m.gating[runID][g.ApplicantID] = g
}

func (m *memStore) setRanking(runID uuid.UUID, r types.RankingResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rankings[runID] == nil {
		m.rankings[runID] = make(map[uuid.UUID]types.RankingResult)
	}
	m.rankings[runID][r.ApplicantID] = r
}

// fakeRunner records orchestration calls.
type fakeRunner struct {
	mu        sync.Mutex
	started   []uuid.UUID
	reranked  []uuid.UUID
	cancelled []uuid.UUID
	startedCh chan uuid.UUID
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{startedCh: make(chan uuid.UUID, 8)}
}

func (f *fakeRunner) StartRun(_ context.Context, runID uuid.UUID) error {
	f.mu.Lock()
	f.started = append(f.started, runID)
	f.mu.Unlock()
	f.startedCh <- runID
	return nil
}

func (f *fakeRunner) Rerank(_ context.Context, runID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reranked = append(f.reranked, runID)
	return nil
}

func (f *fakeRunner) Cancel(runID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
}

func (f *fakeRunner) rerankCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reranked)
}

func (f *fakeRunner) cancelledRuns() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.cancelled...)
}
