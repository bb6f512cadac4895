package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/admissions-engine/internal/fetch"
	"github.com/jonathan/admissions-engine/internal/llm"
	"github.com/jonathan/admissions-engine/internal/prompts"
	"github.com/jonathan/admissions-engine/internal/types"
)

// maxPageTextLen bounds the programme-page text handed to the extractor.
const maxPageTextLen = 30000

// extraction is the shape the extractor prompt asks the model for.
type extraction struct {
	ProgrammeTitle         *string             `json:"programme_title"`
	Checklists             map[string][]string `json:"checklists"`
	DegreeRequirementClass *string             `json:"degree_requirement_class"`
	EnglishLevel           *string             `json:"english_level"`
}

// ImportFromURL builds a rule set from a university programme page: fetch the
// page, reduce it to text, and have the model extract per-evaluator
// checklists, the required degree classification, and the English level.
// Custom requirements are folded into the extraction prompt and kept on the
// resulting rule set.
func ImportFromURL(ctx context.Context, client llm.Client, pageURL string, custom []string) (*types.RuleSet, error) {
	res, err := fetch.URL(ctx, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch programme page: %w", err)
	}

	text, err := fetch.ExtractMainText(res.HTML, fetch.ProgrammePageSelectors())
	if err != nil {
		return nil, fmt.Errorf("failed to extract page text: %w", err)
	}
	if text == "" {
		return nil, fmt.Errorf("programme page %s contains no extractable text", pageURL)
	}
	if runes := []rune(text); len(runes) > maxPageTextLen {
		text = string(runes[:maxPageTextLen])
	}

	tmpl, err := prompts.Get("rules.json", "extract-rule-set")
	if err != nil {
		return nil, fmt.Errorf("failed to load extractor prompt: %w", err)
	}
	prompt := prompts.Format(tmpl, map[string]string{
		"CustomRequirements": strings.Join(custom, "; "),
		"PageText":           text,
	})

	raw, err := client.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, fmt.Errorf("rule extraction failed: %w", err)
	}

	var ext extraction
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(raw)), &ext); err != nil {
		return nil, fmt.Errorf("failed to decode extraction: %w", err)
	}

	rs := &types.RuleSet{
		Name:               pageURL,
		CustomRequirements: custom,
		Checklists:         make(map[types.AgentKind][]string, len(ext.Checklists)),
		SourceURL:          pageURL,
	}
	if ext.ProgrammeTitle != nil && *ext.ProgrammeTitle != "" {
		rs.Name = *ext.ProgrammeTitle
	}
	for kind, items := range ext.Checklists {
		k := types.AgentKind(kind)
		if !types.ValidKind(k) || len(items) == 0 {
			continue
		}
		rs.Checklists[k] = items
	}
	if ext.DegreeRequirementClass != nil {
		rs.TargetDegreeClass = *ext.DegreeRequirementClass
	}
	if ext.EnglishLevel != nil {
		rs.EnglishLevel = *ext.EnglishLevel
	}

	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("extracted rule set invalid: %w", err)
	}
	return rs, nil
}
