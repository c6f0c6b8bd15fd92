// ABOUTME: hash command: computes the fingerprints a vouch would be stored with
// ABOUTME: With a namespace and seller it also reports whether the vouch would be a duplicate

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/vouch-ledger/internal/contenthash"
)

type hashResult struct {
	ImageHash       string `json:"image_hash"`
	DescriptionHash string `json:"description_hash"`
	Normalized      string `json:"normalized_description"`
	Namespace       string `json:"namespace,omitempty"`
	Seller          string `json:"seller,omitempty"`
	Duplicate       *bool  `json:"duplicate,omitempty"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	var description, image, namespace, seller string

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Compute a vouch's image and description hashes",
		Long: `Compute the image and description hashes used by the duplicate rule.
Pass --namespace and --seller to also check whether a vouch with this
content already exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (namespace == "") != (seller == "") {
				return fmt.Errorf("--namespace and --seller must be given together")
			}

			res := hashResult{
				ImageHash:       contenthash.ImageHash(nil),
				DescriptionHash: contenthash.DescriptionHash(description),
				Normalized:      contenthash.NormalizeDescription(description),
				Namespace:       namespace,
				Seller:          seller,
			}
			if image != "" {
				f, err := os.Open(image)
				if err != nil {
					return fmt.Errorf("opening image: %w", err)
				}
				res.ImageHash, err = contenthash.ImageHashReader(f)
				f.Close()
				if err != nil {
					return err
				}
			}

			if seller != "" {
				s, err := rootOpts.openStore()
				if err != nil {
					return err
				}
				defer s.Close()

				dup, err := s.IsDuplicateVouch(cmd.Context(), seller, namespace, res.ImageHash, res.DescriptionHash)
				if err != nil {
					return err
				}
				res.Duplicate = &dup
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, res)
			}
			row(out, "image hash", res.ImageHash)
			row(out, "description hash", res.DescriptionHash)
			row(out, "normalized", fmt.Sprintf("%q", res.Normalized))
			if res.Duplicate != nil {
				if *res.Duplicate {
					warn.Fprintf(out, "duplicate: %s already has this vouch in %s\n", seller, namespace)
				} else {
					good.Fprintln(out, "not a duplicate")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "vouch description text")
	cmd.Flags().StringVar(&image, "image", "", "image file (default: no image)")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace to check for duplicates")
	cmd.Flags().StringVar(&seller, "seller", "", "seller to check for duplicates")
	return cmd
}
