package config

import (
	"errors"
	"fmt"
)

// Validation range constants.
const (
	minPort          = 1
	maxPort          = 65535
	minConcurrent    = 1
	maxConcurrent    = 100
	minRetentionDays = 1
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so operators
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Port < minPort || cfg.Port > maxPort {
		errs = append(errs, fmt.Errorf("port: must be %d-%d, got %d", minPort, maxPort, cfg.Port))
	}

	if cfg.MaxConcurrentRuns < minConcurrent || cfg.MaxConcurrentRuns > maxConcurrent {
		errs = append(errs, fmt.Errorf("maxConcurrentRuns: must be %d-%d, got %d",
			minConcurrent, maxConcurrent, cfg.MaxConcurrentRuns))
	}

	if cfg.RetentionDays < minRetentionDays {
		errs = append(errs, fmt.Errorf("retentionDays: must be >= %d, got %d",
			minRetentionDays, cfg.RetentionDays))
	}

	if cfg.TestRoot == "" {
		errs = append(errs, errors.New("testRoot: must not be empty"))
	}

	if cfg.ArtifactRoot == "" {
		errs = append(errs, errors.New("artifactRoot: must not be empty"))
	}

	if cfg.DatabasePath == "" {
		errs = append(errs, errors.New("databasePath: must not be empty"))
	}

	return errors.Join(errs...)
}
