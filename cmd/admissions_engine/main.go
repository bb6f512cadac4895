// Package main provides the entry point for the admissions engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "admissions_engine",
	Short: "LLM-assisted admissions evaluation engine",
	Long:  "Evaluates batches of applicant folders against a programme rule set: per-agent LLM evaluation, deterministic gating, weighted ranking, and pairwise refinement of close calls.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
