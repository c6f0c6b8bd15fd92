// ABOUTME: audit command: lists merges and imports recorded in the audit log
// ABOUTME: Filters by namespace, action and age

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/vouch-ledger/internal/store"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var namespace, action string
	var since time.Duration
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recorded merges and imports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.AuditFilter{Limit: limit}
			if namespace != "" {
				filter.Namespace = &namespace
			}
			if action != "" {
				a := store.AuditAction(action)
				if !a.Valid() {
					return fmt.Errorf("unknown action %q: must be one of %v", action, store.ValidAuditActions)
				}
				filter.Action = &a
			}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}

			s, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.ListAuditLog(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				dim.Fprintln(out, "no audit entries")
				return nil
			}
			for _, e := range entries {
				heading.Fprintf(out, "%s  %s\n", e.Timestamp.Format(time.RFC3339), e.Action)
				row(out, "id", e.ID)
				row(out, "source", e.SourceNamespace)
				if e.TargetNamespace != nil {
					row(out, "target", *e.TargetNamespace)
				}
				if e.Subject != nil {
					row(out, "party", *e.Subject)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "only entries touching this namespace")
	cmd.Flags().StringVar(&action, "action", "", "only this action (merge_namespace, merge_party, import_vouches)")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this (e.g. 24h)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries")
	return cmd
}
