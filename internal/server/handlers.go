package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/agents"
	"github.com/jonathan/admissions-engine/internal/observability"
	"github.com/jonathan/admissions-engine/internal/rules"
	"github.com/jonathan/admissions-engine/internal/types"
)

// CreateRunRequest is the request body for POST /runs
type CreateRunRequest struct {
	Name string `json:"name" validate:"max=200"`
}

// RuleSetRequest binds a rule set to a run, either inline or imported from a
// programme page URL.
type RuleSetRequest struct {
	RuleSet            json.RawMessage `json:"rule_set,omitempty"`
	URL                string          `json:"url,omitempty" validate:"omitempty,url"`
	CustomRequirements []string        `json:"custom_requirements,omitempty" validate:"dive,max=500"`
}

// RuleSetResponse is the response for POST /runs/{id}/ruleset
type RuleSetResponse struct {
	RunID     uuid.UUID       `json:"run_id"`
	RuleSetID uuid.UUID       `json:"rule_set_id"`
	Status    types.RunStatus `json:"status"`
	RuleSet   *types.RuleSet  `json:"rule_set,omitempty"`
}

// DocumentRequest is one extracted document in an applicant upload.
type DocumentRequest struct {
	Filename string `json:"filename" validate:"required,max=300"`
	DocType  string `json:"doc_type,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ApplicantRequest is the request body for POST /runs/{id}/applicants
type ApplicantRequest struct {
	FolderName  string            `json:"folder_name" validate:"required,max=300"`
	DisplayName string            `json:"display_name,omitempty" validate:"max=300"`
	Documents   []DocumentRequest `json:"documents" validate:"dive"`
}

// DecisionRequest is the request body for PUT /applicants/{id}/decision.
// A null decision clears the override.
type DecisionRequest struct {
	Decision *string `json:"decision" validate:"omitempty,oneof=ACCEPT MIDDLE REJECT"`
}

// DecisionResponse is the response for PUT /applicants/{id}/decision
type DecisionResponse struct {
	RunID       uuid.UUID       `json:"run_id"`
	ApplicantID uuid.UUID       `json:"applicant_id"`
	Decision    *types.Decision `json:"decision"`
	Overridden  bool            `json:"overridden"`
}

// RunResponse is the response for run lifecycle endpoints
type RunResponse struct {
	RunID  uuid.UUID       `json:"run_id"`
	Name   string          `json:"name,omitempty"`
	Status types.RunStatus `json:"status"`
}

// ApplicantStatus summarizes one applicant within a status response.
type ApplicantStatus struct {
	ApplicantID    uuid.UUID      `json:"applicant_id"`
	FolderName     string         `json:"folder_name"`
	Decision       types.Decision `json:"decision,omitempty"`
	GatingDecision types.Decision `json:"gating_decision,omitempty"`
	Overridden     bool           `json:"overridden"`
	FinalRank      int            `json:"final_rank,omitempty"`
}

// StatusResponse is the response for GET /runs/{id}/status
type StatusResponse struct {
	RunID      uuid.UUID         `json:"run_id"`
	Name       string            `json:"name,omitempty"`
	Status     types.RunStatus   `json:"status"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Applicants []ApplicantStatus `json:"applicants"`
}

// LogEntryResponse is one conversation-log entry in GET /runs/{id}/logs
type LogEntryResponse struct {
	ApplicantID *uuid.UUID `json:"applicant_id,omitempty"`
	Agent       string     `json:"agent"`
	Phase       string     `json:"phase"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"created_at"`
}

// runFromPath resolves the {id} path segment to an existing run, writing the
// error response itself when that fails.
func (s *Server) runFromPath(w http.ResponseWriter, r *http.Request) (*types.Run, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, &ErrValidation{Field: "id", Message: "invalid run ID format"})
		return nil, false
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load run: "+err.Error())
		return nil, false
	}
	if run == nil {
		s.writeError(w, &ErrRunNotFound{RunID: id})
		return nil, false
	}
	return run, true
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.validationError(w, err)
		return false
	}
	return true
}

// handleCreateRun creates a new evaluation run in the created state.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	run, err := s.store.CreateRun(r.Context(), req.Name)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to create run: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusCreated, RunResponse{RunID: run.ID, Name: run.Name, Status: run.Status})
}

// handleListRuns lists recent runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, &ErrValidation{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list runs: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns a single run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleBindRuleSet validates and binds a rule set to a run. The rule set
// comes either inline or extracted from a programme page URL.
func (s *Server) handleBindRuleSet(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	if run.Status != types.RunCreated && run.Status != types.RunRuleBound {
		s.writeError(w, &ErrRunState{RunID: run.ID, Status: string(run.Status), Wanted: string(types.RunCreated)})
		return
	}

	var req RuleSetRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	var (
		rs  *types.RuleSet
		err error
	)
	switch {
	case len(req.RuleSet) > 0:
		rs, err = rules.Parse(req.RuleSet)
		if err != nil {
			var ve *rules.ValidationError
			if errors.As(err, &ve) {
				s.errorResponse(w, http.StatusBadRequest, ve.Error())
				return
			}
			s.errorResponse(w, http.StatusBadRequest, "invalid rule set: "+err.Error())
			return
		}
	case req.URL != "":
		if s.llm == nil {
			s.errorResponse(w, http.StatusServiceUnavailable, "rule set import is not available without an LLM client")
			return
		}
		// The page fetch and extraction is auxiliary work done on the
		// run's behalf, so it goes on the conversation log too.
		s.convLog.Append(r.Context(), agents.LogEntry{
			RunID: run.ID, Agent: "rule_importer", Phase: agents.PhaseTool,
			Message: "fetch programme page " + req.URL, CreatedAt: time.Now().UTC(),
		})
		rs, err = rules.ImportFromURL(r.Context(), s.llm, req.URL, req.CustomRequirements)
		if err != nil {
			s.errorResponse(w, http.StatusBadGateway, "rule set import failed: "+err.Error())
			return
		}
	default:
		s.writeError(w, &ErrValidation{Field: "rule_set", Message: "either rule_set or url is required"})
		return
	}

	ruleSetID, err := s.store.SaveRuleSet(r.Context(), rs)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to save rule set: "+err.Error())
		return
	}
	if err := s.store.BindRuleSet(r.Context(), run.ID, ruleSetID); err != nil {
		s.errorResponse(w, http.StatusConflict, err.Error())
		return
	}

	rs.ID = ruleSetID
	s.jsonResponse(w, http.StatusOK, RuleSetResponse{
		RunID:     run.ID,
		RuleSetID: ruleSetID,
		Status:    types.RunRuleBound,
		RuleSet:   rs,
	})
}

// handleAddApplicant registers one applicant folder with its extracted
// documents. Uploads are only accepted while the run is rule_bound.
func (s *Server) handleAddApplicant(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	if run.Status != types.RunRuleBound {
		s.writeError(w, &ErrRunState{RunID: run.ID, Status: string(run.Status), Wanted: string(types.RunRuleBound)})
		return
	}

	var req ApplicantRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	docs := make([]types.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, types.Document{Filename: d.Filename, DocType: d.DocType, Text: d.Text})
	}

	applicant, err := s.store.CreateApplicant(r.Context(), run.ID, req.FolderName, req.DisplayName, docs)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to create applicant: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusCreated, applicant)
}

// handleMarkUploaded seals the applicant set and moves the run to uploaded.
func (s *Server) handleMarkUploaded(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	if run.Status != types.RunRuleBound {
		s.writeError(w, &ErrRunState{RunID: run.ID, Status: string(run.Status), Wanted: string(types.RunRuleBound)})
		return
	}

	applicants, err := s.store.ListApplicants(r.Context(), run.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list applicants: "+err.Error())
		return
	}
	if len(applicants) == 0 {
		s.writeError(w, &ErrValidation{Field: "applicants", Message: "run has no applicants"})
		return
	}

	if err := s.store.UpdateRunStatus(r.Context(), run.ID, types.RunUploaded); err != nil {
		s.errorResponse(w, http.StatusConflict, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, RunResponse{RunID: run.ID, Name: run.Name, Status: types.RunUploaded})
}

// handleStartRun launches evaluation of an uploaded run in the background.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	if run.Status != types.RunUploaded {
		s.writeError(w, &ErrRunState{RunID: run.ID, Status: string(run.Status), Wanted: string(types.RunUploaded)})
		return
	}

	runID := run.ID
	go func() {
		// Detached from the request context so the run outlives the caller.
		if err := s.runner.StartRun(context.Background(), runID); err != nil {
			s.logger.Error("run failed", "run_id", runID, "error", err)
		}
	}()

	s.jsonResponse(w, http.StatusAccepted, RunResponse{RunID: run.ID, Name: run.Name, Status: types.RunRunning})
}

// handleCancelRun flags a running run for cancellation. In-flight agent calls
// finish and persist; no new work is scheduled.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}

	s.runner.Cancel(run.ID)
	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID.String(),
		"status": "cancelling",
	})
}

// handleRunStatus returns the run state plus a per-applicant decision summary.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	applicants, err := s.store.ListApplicants(ctx, run.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list applicants: "+err.Error())
		return
	}
	gatings, err := s.store.ListGatingResults(ctx, run.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list gating results: "+err.Error())
		return
	}
	rankings, err := s.store.ListRankingResults(ctx, run.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list ranking results: "+err.Error())
		return
	}
	manual, err := s.store.ListManualDecisions(ctx, run.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list manual decisions: "+err.Error())
		return
	}

	gatingByID := make(map[uuid.UUID]types.GatingResult, len(gatings))
	for _, g := range gatings {
		gatingByID[g.ApplicantID] = g
	}
	rankByID := make(map[uuid.UUID]int, len(rankings))
	for _, rk := range rankings {
		rankByID[rk.ApplicantID] = rk.FinalRank
	}

	statuses := make([]ApplicantStatus, 0, len(applicants))
	for _, a := range applicants {
		st := ApplicantStatus{
			ApplicantID: a.ID,
			FolderName:  a.FolderName,
			FinalRank:   rankByID[a.ID],
		}
		if g, found := gatingByID[a.ID]; found {
			st.GatingDecision = g.Decision
			st.Decision = g.Decision
		}
		if m, found := manual[a.ID]; found && m.Overridden() {
			st.Overridden = true
			st.Decision = *m.Decision
		}
		statuses = append(statuses, st)
	}

	s.jsonResponse(w, http.StatusOK, StatusResponse{
		RunID:      run.ID,
		Name:       run.Name,
		Status:     run.Status,
		Error:      run.Error,
		CreatedAt:  run.CreatedAt,
		Applicants: statuses,
	})
}

// handleReport returns the full run report: every applicant with evaluations,
// gating, ranking and manual fields, plus the pairwise history.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}

	report, err := observability.BuildReport(r.Context(), s.store, run.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to build report: "+err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

// handleRunLogs returns the conversation log for a run, optionally filtered
// to one applicant.
func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runFromPath(w, r)
	if !ok {
		return
	}

	var applicantFilter *uuid.UUID
	if v := r.URL.Query().Get("applicant_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.writeError(w, &ErrValidation{Field: "applicant_id", Message: "invalid applicant ID format"})
			return
		}
		applicantFilter = &id
	}

	entries, err := s.store.ListRunLogs(r.Context(), run.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to list logs: "+err.Error())
		return
	}

	out := make([]LogEntryResponse, 0, len(entries))
	for _, e := range entries {
		if applicantFilter != nil && (e.ApplicantID == nil || *e.ApplicantID != *applicantFilter) {
			continue
		}
		out = append(out, LogEntryResponse{
			ApplicantID: e.ApplicantID,
			Agent:       e.Agent,
			Phase:       string(e.Phase),
			Message:     e.Message,
			CreatedAt:   e.CreatedAt,
		})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"run_id": run.ID, "entries": out})
}

// handleSetDecision sets or clears a manual override for an applicant and
// recomputes the ranking with the new pool. Overrides are accepted regardless
// of the current gating decision.
func (s *Server) handleSetDecision(w http.ResponseWriter, r *http.Request) {
	applicantID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, &ErrValidation{Field: "id", Message: "invalid applicant ID format"})
		return
	}
	applicant, err := s.store.GetApplicant(r.Context(), applicantID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load applicant: "+err.Error())
		return
	}
	if applicant == nil {
		s.writeError(w, &ErrApplicantNotFound{ApplicantID: applicantID})
		return
	}

	var req DecisionRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	var decision *types.Decision
	if req.Decision != nil {
		d := types.Decision(*req.Decision)
		decision = &d
	}

	if err := s.store.SetManualDecision(r.Context(), applicant.RunID, applicant.ID, decision); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to set decision: "+err.Error())
		return
	}
	if err := s.runner.Rerank(r.Context(), applicant.RunID); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to recompute ranking: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, DecisionResponse{
		RunID:       applicant.RunID,
		ApplicantID: applicant.ID,
		Decision:    decision,
		Overridden:  decision != nil,
	})
}
