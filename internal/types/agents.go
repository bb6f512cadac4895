// Package types defines the shared data model for the admissions engine:
// runs, applicants, rule sets, agent results, and decisions.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentKind identifies one evaluator capability.
type AgentKind string

// The eight evaluator kinds. The first five produce weighted scores; compare
// judges head-to-head pairs, classifier labels documents, detector infers the
// degree-awarding country.
const (
	AgentEnglish    AgentKind = "english"
	AgentDegree     AgentKind = "degree"
	AgentExperience AgentKind = "experience"
	AgentPsRl       AgentKind = "ps_rl"
	AgentAcademic   AgentKind = "academic"
	AgentCompare    AgentKind = "compare"
	AgentClassifier AgentKind = "classifier"
	AgentDetector   AgentKind = "detector"
)

// ScoringKinds are the agents whose scores feed the weighted ranking.
var ScoringKinds = []AgentKind{AgentEnglish, AgentDegree, AgentExperience, AgentPsRl, AgentAcademic}

// EvaluationKinds are the agents invoked once per applicant during a run.
var EvaluationKinds = []AgentKind{AgentEnglish, AgentDegree, AgentExperience, AgentPsRl, AgentAcademic, AgentClassifier, AgentDetector}

// ValidKind reports whether k is one of the defined agent kinds.
func ValidKind(k AgentKind) bool {
	switch k {
	case AgentEnglish, AgentDegree, AgentExperience, AgentPsRl, AgentAcademic,
		AgentCompare, AgentClassifier, AgentDetector:
		return true
	}
	return false
}

// ResultStatus indicates whether an agent call ultimately succeeded.
type ResultStatus string

// Result statuses for an agent call.
const (
	ResultOK     ResultStatus = "ok"
	ResultFailed ResultStatus = "failed"
)

// AgentResult is the outcome of one evaluator call for one applicant.
// Score is nil when the agent failed or declined to score. Details holds the
// kind-specific payload as raw JSON; use DecodeDetails for typed access.
type AgentResult struct {
	ApplicantID uuid.UUID       `json:"applicant_id"`
	Kind        AgentKind       `json:"agent_kind"`
	Score       *float64        `json:"score,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	Status      ResultStatus    `json:"status"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at,omitempty"`
}

// DetailsMap decodes the raw details payload into a generic map for
// predicate evaluation. Returns an empty map when no details are present.
func (r *AgentResult) DetailsMap() map[string]any {
	if len(r.Details) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(r.Details, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// EnglishDetails is the english agent's payload.
type EnglishDetails struct {
	Exemption   bool     `json:"exemption"`
	TestType    *string  `json:"test_type"`
	TestOverall *float64 `json:"test_overall"`
	Level       string   `json:"level,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
}

// DegreeDetails is the degree agent's payload.
type DegreeDetails struct {
	Country              string   `json:"country,omitempty"`
	Institution          string   `json:"institution,omitempty"`
	MeetsRequirement     *bool    `json:"meets_requirement"`
	QSRank               *int     `json:"qs_rank"`
	SubjectFit           *bool    `json:"subject_fit"`
	MissingPrerequisites []string `json:"missing_prerequisites,omitempty"`
	Evidence             []string `json:"evidence,omitempty"`
	PolicySource         string   `json:"policy_source,omitempty"`
}

// ExperienceDetails is the experience agent's payload.
type ExperienceDetails struct {
	Highlights []string `json:"highlights,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
}

// PsRlDetails is the personal-statement/reference-letter agent's payload.
type PsRlDetails struct {
	Strengths  []string `json:"strengths,omitempty"`
	Weaknesses []string `json:"weaknesses,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Paper is one publication found by the academic agent.
type Paper struct {
	Title string `json:"title"`
	Venue string `json:"venue,omitempty"`
	Tier  string `json:"tier,omitempty"`
}

// AcademicDetails is the academic agent's payload.
type AcademicDetails struct {
	Papers   []Paper  `json:"papers,omitempty"`
	Evidence []string `json:"evidence,omitempty"`
}

// ClassifierDetails maps document filenames to canonical labels and records
// any disqualifying patterns the classifier surfaced.
type ClassifierDetails struct {
	Labels        map[string]string `json:"labels,omitempty"`
	Disqualifying []string          `json:"disqualifying,omitempty"`
}

// DetectorDetails is the degree-country detector's payload.
type DetectorDetails struct {
	CountryName     *string `json:"country_name"`
	CountryCodeISO3 *string `json:"country_code_iso3"`
}

// CompareDetails is the pairwise judge's payload.
type CompareDetails struct {
	Winner string `json:"winner"`
	Reason string `json:"reason,omitempty"`
}

// DecodeDetails unmarshals a raw details payload into the typed variant for
// the given agent kind.
func DecodeDetails(kind AgentKind, raw json.RawMessage) (any, error) {
	var target any
	switch kind {
	case AgentEnglish:
		target = &EnglishDetails{}
	case AgentDegree:
		target = &DegreeDetails{}
	case AgentExperience:
		target = &ExperienceDetails{}
	case AgentPsRl:
		target = &PsRlDetails{}
	case AgentAcademic:
		target = &AcademicDetails{}
	case AgentClassifier:
		target = &ClassifierDetails{}
	case AgentDetector:
		target = &DetectorDetails{}
	case AgentCompare:
		target = &CompareDetails{}
	default:
		return nil, fmt.Errorf("unknown agent kind %q", kind)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("failed to decode %s details: %w", kind, err)
		}
	}
	return target, nil
}

// ClampScore bounds a score to the valid [0,10] range.
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}
