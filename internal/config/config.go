// Package config provides configuration loading and validation for the CLI
// and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Defaults for orchestration limits. Epsilons and the pass limit are explicit
// configuration rather than inferred values.
const (
	DefaultConcurrency       = 8
	DefaultPairwiseEpsilon   = 0.3
	DefaultPairwisePassLimit = 3
	DefaultTieEpsilon        = 1e-9
	DefaultMaxAttempts       = 3
)

// Config represents the engine configuration that can be loaded from a JSON
// file. All fields are optional; missing values use defaults or must be
// provided via CLI flags.
type Config struct {
	// Connections
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	APIKey      string `json:"api_key,omitempty"`      // Gemini API key
	ListenAddr  string `json:"listen_addr,omitempty"`  // HTTP listen address for serve

	// Orchestration limits
	Concurrency       int     `json:"concurrency,omitempty"`         // Max in-flight agent calls per run
	MaxAttempts       int     `json:"max_attempts,omitempty"`        // Attempts per agent call
	PairwiseEpsilon   float64 `json:"pairwise_epsilon,omitempty"`    // Score distance treated as ambiguous
	PairwisePassLimit int     `json:"pairwise_pass_limit,omitempty"` // Hard cap on refinement passes
	TieEpsilon        float64 `json:"tie_epsilon,omitempty"`         // Score distance treated as a rank tie

	// Behavior
	LogFile string `json:"log_file,omitempty"` // JSON log destination, stderr-only when empty
	Verbose bool   `json:"verbose,omitempty"`  // Print detailed debug information
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("config error: 'concurrency' must be non-negative")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("config error: 'max_attempts' must be non-negative")
	}
	if c.PairwiseEpsilon < 0 {
		return fmt.Errorf("config error: 'pairwise_epsilon' must be non-negative")
	}
	if c.PairwisePassLimit < 0 {
		return fmt.Errorf("config error: 'pairwise_pass_limit' must be non-negative")
	}
	if c.TieEpsilon < 0 {
		return fmt.Errorf("config error: 'tie_epsilon' must be non-negative")
	}
	return nil
}

// ApplyDefaults returns a copy with zero-valued limits replaced by defaults.
func (c *Config) ApplyDefaults() Config {
	result := *c

	if result.ListenAddr == "" {
		result.ListenAddr = ":8080"
	}
	if result.Concurrency == 0 {
		result.Concurrency = DefaultConcurrency
	}
	if result.MaxAttempts == 0 {
		result.MaxAttempts = DefaultMaxAttempts
	}
	if result.PairwiseEpsilon == 0 {
		result.PairwiseEpsilon = DefaultPairwiseEpsilon
	}
	if result.PairwisePassLimit == 0 {
		result.PairwisePassLimit = DefaultPairwisePassLimit
	}
	if result.TieEpsilon == 0 {
		result.TieEpsilon = DefaultTieEpsilon
	}

	return result
}
