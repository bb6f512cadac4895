package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/admissions-engine/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 72
	// maxReasonsToShow caps gating reasons per applicant in list output
	maxReasonsToShow = 3
)

// Printer handles formatted report output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len([]rune(line)) > boxWidth-4 {
			line = string([]rune(line)[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintReport outputs a human-readable rendering of a run report.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintReport(r *Report) {
	var header strings.Builder
	fmt.Fprintf(&header, "Run:    %s\n", r.RunID)
	if r.RunName != "" {
		fmt.Fprintf(&header, "Name:   %s\n", r.RunName)
	}
	fmt.Fprintf(&header, "Status: %s", r.Status)
	if r.Error != "" {
		fmt.Fprintf(&header, "\nError:  %s", r.Error)
	}
	p.printBox("ADMISSIONS REPORT", header.String())

	for _, decision := range []types.Decision{types.DecisionAccept, types.DecisionMiddle, types.DecisionReject} {
		p.printSection(r, decision)
	}
	p.printUndecided(r)

	if len(r.Comparisons) > 0 {
		p.printComparisons(r.Comparisons)
	}
}

//nolint:errcheck
func (p *Printer) printSection(r *Report, decision types.Decision) {
	items := itemsWithDecision(r.Items, decision)
	fmt.Fprintf(p.out, "\n%s (%d)\n", decision, len(items))
	for _, item := range items {
		p.printItem(item)
	}
}

//nolint:errcheck
func (p *Printer) printUndecided(r *Report) {
	var pending []ReportItem
	for _, item := range r.Items {
		if !types.ValidDecision(item.Decision) {
			pending = append(pending, item)
		}
	}
	if len(pending) == 0 {
		return
	}
	fmt.Fprintf(p.out, "\nPENDING (%d)\n", len(pending))
	for _, item := range pending {
		p.printItem(item)
	}
}

//nolint:errcheck
func (p *Printer) printItem(item ReportItem) {
	name := item.FolderName
	if item.DisplayName != "" {
		name = fmt.Sprintf("%s (%s)", item.DisplayName, item.FolderName)
	}

	var tags []string
	if item.FinalRank > 0 {
		tags = append(tags, fmt.Sprintf("rank %d", item.FinalRank))
	}
	if item.WeightedScore != nil {
		tags = append(tags, fmt.Sprintf("score %.4f", *item.WeightedScore))
	}
	if item.Overridden {
		tags = append(tags, fmt.Sprintf("manual override, gated %s", item.GatingDecision))
	}

	if len(tags) > 0 {
		fmt.Fprintf(p.out, "  %s  [%s]\n", name, strings.Join(tags, ", "))
	} else {
		fmt.Fprintf(p.out, "  %s\n", name)
	}

	for i, reason := range item.GatingReasons {
		if i >= maxReasonsToShow {
			fmt.Fprintf(p.out, "      ... and %d more\n", len(item.GatingReasons)-maxReasonsToShow)
			break
		}
		fmt.Fprintf(p.out, "      - %s\n", reason)
	}
	if item.RankNotes != "" {
		fmt.Fprintf(p.out, "      notes: %s\n", item.RankNotes)
	}
}

//nolint:errcheck
func (p *Printer) printComparisons(comparisons []types.PairwiseComparison) {
	fmt.Fprintf(p.out, "\nPAIRWISE HISTORY (%d)\n", len(comparisons))
	for _, c := range comparisons {
		verdict := c.Winner
		if verdict == "" {
			verdict = "tie"
		}
		fmt.Fprintf(p.out, "  pass %d: %s vs %s -> %s\n", c.PassNumber, shortID(c.ApplicantA), shortID(c.ApplicantB), verdict)
	}
}

func itemsWithDecision(items []ReportItem, decision types.Decision) []ReportItem {
	var out []ReportItem
	for _, item := range items {
		if item.Decision == decision {
			out = append(out, item)
		}
	}
	return out
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
