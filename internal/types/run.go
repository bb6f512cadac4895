package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of an assessment run.
type RunStatus string

// Run lifecycle states. Transitions move forward only, except that any
// non-terminal state may transition to failed.
const (
	RunCreated   RunStatus = "created"
	RunRuleBound RunStatus = "rule_bound"
	RunUploaded  RunStatus = "uploaded"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// order maps each status to its position in the forward progression.
var statusOrder = map[RunStatus]int{
	RunCreated:   0,
	RunRuleBound: 1,
	RunUploaded:  2,
	RunRunning:   3,
	RunCompleted: 4,
	RunFailed:    4,
}

// CanTransition reports whether a run may move from one status to another.
// Forward moves only; failed is terminal and reachable from any live state.
func CanTransition(from, to RunStatus) bool {
	fo, ok := statusOrder[from]
	if !ok {
		return false
	}
	if from == RunCompleted || from == RunFailed {
		return false
	}
	if to == RunFailed {
		return true
	}
	too, ok := statusOrder[to]
	if !ok {
		return false
	}
	return too == fo+1
}

// Run is one batch admissions-evaluation session over a set of applicants.
type Run struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name,omitempty"`
	Status    RunStatus  `json:"status"`
	RuleSetID *uuid.UUID `json:"rule_set_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Document is one extracted applicant document. Extraction itself happens
// upstream; the engine only reads the text it was handed.
type Document struct {
	Filename string `json:"filename"`
	DocType  string `json:"doc_type,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Applicant is one application folder within a run.
type Applicant struct {
	ID          uuid.UUID  `json:"id"`
	RunID       uuid.UUID  `json:"run_id"`
	FolderName  string     `json:"folder_name"`
	DisplayName string     `json:"display_name,omitempty"`
	Documents   []Document `json:"documents,omitempty"`
}

// MaterialsText flattens an applicant's documents into one prompt-ready blob,
// truncated to maxLen runes to keep token usage bounded.
func (a *Applicant) MaterialsText(maxLen int) string {
	var out string
	for _, d := range a.Documents {
		if d.Text == "" {
			continue
		}
		out += fmt.Sprintf("### %s (%s)\n%s\n\n", d.Filename, d.DocType, d.Text)
	}
	if maxLen > 0 {
		runes := []rune(out)
		if len(runes) > maxLen {
			return string(runes[:maxLen])
		}
	}
	return out
}
