// ABOUTME: migrate command: opens the database so the schema is created or upgraded
// ABOUTME: Reports any table whose legacy upgrade failed and will be retried

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type migrateResult struct {
	Path         string   `json:"path"`
	LegacyTables []string `json:"legacy_tables"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Create missing tables and indexes and upgrade tables written before
namespaces existed. Upgraded rows are placed in the configured legacy
namespace. Exits non-zero if any table could not be upgraded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			legacy, err := s.LegacyTables(cmd.Context())
			if err != nil {
				return err
			}
			res := migrateResult{Path: s.Path(), LegacyTables: legacy}
			if res.LegacyTables == nil {
				res.LegacyTables = []string{}
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else if len(legacy) == 0 {
				good.Fprintf(out, "schema up to date: %s\n", s.Path())
			} else {
				warn.Fprintf(out, "tables still in legacy layout: %v\n", legacy)
			}

			if len(legacy) > 0 {
				return fmt.Errorf("%d table(s) could not be upgraded", len(legacy))
			}
			return nil
		},
	}
}
