package types

import (
	"fmt"

	"github.com/google/uuid"
)

// RequirementOp is a comparison operator for hard-requirement predicates.
type RequirementOp string

// Supported predicate operators.
const (
	OpEquals       RequirementOp = "eq"
	OpNotEquals    RequirementOp = "ne"
	OpGreaterEqual RequirementOp = "gte"
	OpLessEqual    RequirementOp = "lte"
	OpExists       RequirementOp = "exists"
)

// HardRequirement is one gating predicate against a single agent's details.
// Field addresses a key in the agent's detail payload; Value is the operand
// for comparison operators and ignored for OpExists.
type HardRequirement struct {
	Name        string        `json:"name"`
	Agent       AgentKind     `json:"agent"`
	Field       string        `json:"field"`
	Op          RequirementOp `json:"op"`
	Value       any           `json:"value,omitempty"`
	Description string        `json:"description,omitempty"`
}

// RuleSet is the resolved admissions rule set a run is bound to.
// Immutable once bound to a run.
type RuleSet struct {
	ID                 uuid.UUID              `json:"id"`
	Name               string                 `json:"name"`
	HardRequirements   []HardRequirement      `json:"hard_requirements"`
	Weights            map[AgentKind]float64  `json:"weights,omitempty"`
	CustomRequirements []string               `json:"custom_requirements,omitempty"`
	Checklists         map[AgentKind][]string `json:"checklists,omitempty"`
	TargetDegreeClass  string                 `json:"degree_requirement_class,omitempty"`
	EnglishLevel       string                 `json:"english_level,omitempty"`
	SourceURL          string                 `json:"source_url,omitempty"`
}

// DefaultWeights is the scoring blend used when a rule set carries none.
var DefaultWeights = map[AgentKind]float64{
	AgentEnglish:    0.10,
	AgentDegree:     0.50,
	AgentAcademic:   0.15,
	AgentExperience: 0.15,
	AgentPsRl:       0.10,
}

// EffectiveWeights returns the rule set's weights, falling back to
// DefaultWeights when none are configured. Negative weights are rejected
// at validation time, never here.
func (rs *RuleSet) EffectiveWeights() map[AgentKind]float64 {
	if len(rs.Weights) == 0 {
		return DefaultWeights
	}
	return rs.Weights
}

// Validate checks structural invariants of a resolved rule set.
func (rs *RuleSet) Validate() error {
	for i, hr := range rs.HardRequirements {
		if hr.Name == "" {
			return fmt.Errorf("hard requirement %d: name is required", i)
		}
		if !ValidKind(hr.Agent) {
			return fmt.Errorf("hard requirement %q: unknown agent kind %q", hr.Name, hr.Agent)
		}
		if hr.Field == "" {
			return fmt.Errorf("hard requirement %q: field is required", hr.Name)
		}
		switch hr.Op {
		case OpEquals, OpNotEquals, OpGreaterEqual, OpLessEqual, OpExists:
		default:
			return fmt.Errorf("hard requirement %q: unknown op %q", hr.Name, hr.Op)
		}
	}
	for kind, w := range rs.Weights {
		if !ValidKind(kind) {
			return fmt.Errorf("weight for unknown agent kind %q", kind)
		}
		if w < 0 {
			return fmt.Errorf("weight for %s must be non-negative, got %v", kind, w)
		}
	}
	return nil
}
