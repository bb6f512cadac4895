package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/admissions-engine/internal/observability"
)

var (
	reportFlags commonFlags
	reportJSON  bool
)

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Print the report for a finished or in-progress run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	reportFlags.register(reportCmd)
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Emit the report as JSON instead of formatted text")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	runID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run ID %q: %w", args[0], err)
	}

	cfg, err := reportFlags.resolve(cmd)
	if err != nil {
		return err
	}
	e, err := buildEngine(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := observability.BuildReport(ctx, e.db, runID)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	observability.NewPrinter(os.Stdout).PrintReport(report)
	return nil
}
