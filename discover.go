package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akeyanjam/mbss-test/internal/discovery"
	"github.com/akeyanjam/mbss-test/internal/store"
)

func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Reconcile the test catalog against the deployed test tree",
		Long: `Walk the test root once, upsert every valid test folder into the
catalog, and deactivate tests whose folders are gone.

The serve daemon does this at startup and on filesystem changes; discover is
the one-shot variant for deploy scripts and debugging.`,
		RunE: runDiscover,
	}
}

// discoverResult is the command's output shape for one reconciliation pass.
type discoverResult struct {
	Found       int `json:"found"`
	Skipped     int `json:"skipped"`
	Deactivated int `json:"deactivated"`
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	cfg, err := loadAppConfig(cmd)
	if err != nil {
		return err
	}

	st, err := store.Open(cmd.Context(), cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := discovery.NewSyncer(cfg.TestRoot, st, logger).Sync(cmd.Context())
	if err != nil {
		return fmt.Errorf("catalog sync: %w", err)
	}

	out := discoverResult{
		Found:       res.Found,
		Skipped:     res.Skipped,
		Deactivated: res.Deactivated,
	}

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Found:       %d\n", out.Found)
	fmt.Fprintf(cmd.OutOrStdout(), "Skipped:     %d\n", out.Skipped)
	fmt.Fprintf(cmd.OutOrStdout(), "Deactivated: %d\n", out.Deactivated)

	return nil
}
