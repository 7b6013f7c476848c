package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the orchestrator version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flagJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				if err := enc.Encode(map[string]string{"version": version}); err != nil {
					return fmt.Errorf("encoding JSON output: %w", err)
				}

				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "mbss-test %s\n", version)

			return nil
		},
	}
}
