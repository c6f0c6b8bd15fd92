// ABOUTME: merge commands: move a whole namespace or one seller's vouches into another namespace
// ABOUTME: Both run as a single transaction in the store and print per-table counts

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/2389/vouch-ledger/internal/store"
)

// NewMergeCommand creates the merge command group.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Move vouch data between namespaces",
	}
	cmd.AddCommand(newMergeNamespaceCommand(rootOpts))
	cmd.AddCommand(newMergePartyCommand(rootOpts))
	return cmd
}

func newMergeNamespaceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "namespace <from> <to>",
		Short: "Merge every row of one namespace into another",
		Long: `Copy every vouch, reply, ban, allow-list entry, profile and setting
from one namespace into another, then remove them from the source.
Vouches the destination already has are skipped along with their replies.
Nothing changes if any step fails.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.MergeNamespace(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printMerge(cmd.OutOrStdout(), rootOpts.Format, fmt.Sprintf("%s -> %s", args[0], args[1]), res)
		},
	}
}

func newMergePartyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "party <seller> <from> <to>",
		Short: "Move one seller's vouches and their replies to another namespace",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.MergeParty(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printMerge(cmd.OutOrStdout(), rootOpts.Format, fmt.Sprintf("%s: %s -> %s", args[0], args[1], args[2]), res)
		},
	}
}

func printMerge(w io.Writer, format, title string, res *store.MergeResult) error {
	if format == "json" {
		return writeJSON(w, res)
	}

	heading.Fprintf(w, "merged %s\n", title)
	if res.AuditID == "" {
		dim.Fprintln(w, "  source and destination are the same, nothing to do")
		return nil
	}
	counts := []struct {
		name            string
		copied, removed int64
	}{
		{"vouches", res.Copied.Vouches, res.Removed.Vouches},
		{"replies", res.Copied.Replies, res.Removed.Replies},
		{"profiles", res.Copied.Profiles, res.Removed.Profiles},
		{"bans", res.Copied.Bans, res.Removed.Bans},
		{"allow list", res.Copied.AllowList, res.Removed.AllowList},
		{"allowed roles", res.Copied.AllowedRoles, res.Removed.AllowedRoles},
		{"notify prefs", res.Copied.NotifyPrefs, res.Removed.NotifyPrefs},
		{"mutes", res.Copied.Mutes, res.Removed.Mutes},
		{"namespace settings", res.Copied.NamespaceSettings, res.Removed.NamespaceSettings},
		{"allow list settings", res.Copied.AllowListSettings, res.Removed.AllowListSettings},
	}
	for _, c := range counts {
		if c.copied == 0 && c.removed == 0 {
			continue
		}
		row(w, c.name, fmt.Sprintf("%d copied, %d removed", c.copied, c.removed))
	}
	if res.Copied.IsZero() && res.Removed.IsZero() {
		dim.Fprintln(w, "  no rows moved")
	}
	good.Fprintf(w, "audit %s\n", res.AuditID)
	return nil
}
