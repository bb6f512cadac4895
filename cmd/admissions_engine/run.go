package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/admissions-engine/internal/observability"
	"github.com/jonathan/admissions-engine/internal/rules"
	"github.com/jonathan/admissions-engine/internal/types"
)

var (
	runFlags      commonFlags
	runRulesPath  string
	runRulesURL   string
	runCustomReqs []string
	runFolder     string
	runName       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate a folder of applicants end-to-end",
	Long: `Creates a run, binds the rule set, uploads every applicant folder and evaluates the batch: per-agent LLM calls, gating, ranking and pairwise refinement. Prints the report when done.

Each applicant is a subdirectory of --applicants containing pre-extracted text files (.txt or .md), one per document.`,
	RunE: runEvaluate,
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().StringVar(&runRulesPath, "rules", "", "Path to a rule set JSON file (mutually exclusive with --rules-url)")
	runCmd.Flags().StringVar(&runRulesURL, "rules-url", "", "Programme page URL to extract the rule set from (mutually exclusive with --rules)")
	runCmd.Flags().StringArrayVar(&runCustomReqs, "custom", nil, "Additional requirement for URL extraction (repeatable)")
	runCmd.Flags().StringVarP(&runFolder, "applicants", "a", "", "Directory of applicant folders (required)")
	runCmd.Flags().StringVarP(&runName, "name", "n", "", "Run name")
	_ = runCmd.MarkFlagRequired("applicants")
	rootCmd.AddCommand(runCmd)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := runFlags.resolve(cmd)
	if err != nil {
		return err
	}
	if (runRulesPath == "") == (runRulesURL == "") {
		return fmt.Errorf("exactly one of --rules or --rules-url is required")
	}

	e, err := buildEngine(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer e.Close()

	rs, err := loadRuleSet(ctx, e)
	if err != nil {
		return err
	}

	run, err := e.db.CreateRun(ctx, runName)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	e.logger.Info("run created", "run_id", run.ID, "name", runName)

	ruleSetID, err := e.db.SaveRuleSet(ctx, rs)
	if err != nil {
		return fmt.Errorf("failed to save rule set: %w", err)
	}
	if err := e.db.BindRuleSet(ctx, run.ID, ruleSetID); err != nil {
		return fmt.Errorf("failed to bind rule set: %w", err)
	}

	uploaded, err := uploadApplicants(ctx, e, run.ID, runFolder)
	if err != nil {
		return err
	}
	if uploaded == 0 {
		return fmt.Errorf("no applicant folders found under %s", runFolder)
	}
	if err := e.db.UpdateRunStatus(ctx, run.ID, types.RunUploaded); err != nil {
		return fmt.Errorf("failed to seal upload: %w", err)
	}
	e.logger.Info("applicants uploaded", "run_id", run.ID, "count", uploaded)

	if err := e.orchestrator.StartRun(ctx, run.ID); err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	report, err := observability.BuildReport(ctx, e.db, run.ID)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	observability.NewPrinter(os.Stdout).PrintReport(report)
	return nil
}

func loadRuleSet(ctx context.Context, e *engine) (*types.RuleSet, error) {
	if runRulesPath != "" {
		data, err := os.ReadFile(runRulesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read rules file: %w", err)
		}
		rs, err := rules.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("invalid rule set %s: %w", runRulesPath, err)
		}
		return rs, nil
	}

	e.logger.Info("extracting rule set", "url", runRulesURL)
	rs, err := rules.ImportFromURL(ctx, e.llm, runRulesURL, runCustomReqs)
	if err != nil {
		return nil, fmt.Errorf("rule set extraction failed: %w", err)
	}
	return rs, nil
}

// uploadApplicants registers every subdirectory of root as one applicant,
// reading its text files as documents. Returns the number registered.
func uploadApplicants(ctx context.Context, e *engine, runID uuid.UUID, root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("failed to read applicants directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		docs, err := readDocuments(filepath.Join(root, entry.Name()))
		if err != nil {
			return count, fmt.Errorf("failed to read folder %s: %w", entry.Name(), err)
		}
		if len(docs) == 0 {
			e.logger.Warn("skipping folder with no text documents", "folder", entry.Name())
			continue
		}
		if _, err := e.db.CreateApplicant(ctx, runID, entry.Name(), "", docs); err != nil {
			return count, fmt.Errorf("failed to register applicant %s: %w", entry.Name(), err)
		}
		count++
	}
	return count, nil
}

func readDocuments(dir string) ([]types.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var docs []types.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, types.Document{
			Filename: entry.Name(),
			DocType:  docTypeFor(entry.Name()),
			Text:     string(data),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Filename < docs[j].Filename })
	return docs, nil
}

// docTypeFor guesses a document label from its filename. The classifier agent
// assigns the authoritative label during evaluation; this is only a hint.
func docTypeFor(filename string) string {
	name := strings.ToLower(filename)
	switch {
	case strings.Contains(name, "cv") || strings.Contains(name, "resume"):
		return "cv"
	case strings.Contains(name, "transcript"):
		return "transcript"
	case strings.Contains(name, "statement") || strings.Contains(name, "ps"):
		return "personal_statement"
	case strings.Contains(name, "reference") || strings.Contains(name, "recommendation") || strings.Contains(name, "rl"):
		return "reference"
	case strings.Contains(name, "degree") || strings.Contains(name, "certificate") || strings.Contains(name, "diploma"):
		return "degree_certificate"
	default:
		return "other"
	}
}
