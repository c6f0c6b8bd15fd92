// ABOUTME: export and import commands for moving a namespace's vouches through a JSON file
// ABOUTME: Import skips vouches the target already has and runs as one transaction

package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/vouch-ledger/internal/transfer"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var namespace, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a namespace's vouches as a JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			vouches, err := s.ExportVouches(cmd.Context(), namespace)
			if err != nil {
				return err
			}
			doc := transfer.NewDocument(namespace, time.Now(), vouches)

			if output == "" || output == "-" {
				return transfer.Encode(cmd.OutOrStdout(), doc)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			if err := transfer.Encode(f, doc); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", output, err)
			}
			good.Fprintf(cmd.ErrOrStderr(), "exported %d vouches from %s to %s\n", len(doc.Vouches), namespace, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace (guild) ID")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("namespace")
	return cmd
}

type importResult struct {
	Namespace string `json:"namespace"`
	Submitted int    `json:"submitted"`
	Inserted  int    `json:"inserted"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load vouches from an export document",
		Long: `Load vouches from a document written by export. They go into the
namespace recorded in the document unless --namespace names another.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			doc, err := transfer.Decode(f)
			if err != nil {
				return err
			}
			if namespace == "" {
				namespace = doc.Namespace
			}
			if namespace == "" {
				return fmt.Errorf("document has no namespace; pass --namespace")
			}

			s, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.ImportVouches(cmd.Context(), namespace, doc.StoreVouches())
			if err != nil {
				return err
			}

			res := importResult{Namespace: namespace, Submitted: len(doc.Vouches), Inserted: n}
			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, res)
			}
			good.Fprintf(out, "imported %d of %d vouches into %s\n", res.Inserted, res.Submitted, namespace)
			if skipped := res.Submitted - res.Inserted; skipped > 0 {
				warn.Fprintf(out, "  %d skipped as duplicates\n", skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "target namespace (default: the document's)")
	return cmd
}
