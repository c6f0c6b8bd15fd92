// ABOUTME: stats and leaderboard commands for inspecting a namespace
// ABOUTME: Read-only views over vouch counts, seller aggregates and rankings

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389/vouch-ledger/internal/store"
)

type statsResult struct {
	Namespace string   `json:"namespace"`
	Vouches   int      `json:"vouches"`
	Seller    string   `json:"seller,omitempty"`
	Count     *int     `json:"seller_vouches,omitempty"`
	AvgRating *float64 `json:"seller_avg_rating,omitempty"`
	Banned    *bool    `json:"seller_banned,omitempty"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var namespace, seller string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show vouch counts for a namespace or seller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			res := statsResult{Namespace: namespace, Seller: seller}
			if res.Vouches, err = s.CountVouches(ctx, namespace); err != nil {
				return err
			}
			if seller != "" {
				count, avg, err := s.SellerAggregates(ctx, seller, namespace)
				if err != nil {
					return err
				}
				banned, err := s.IsBanned(ctx, seller, namespace)
				if err != nil {
					return err
				}
				res.Count, res.AvgRating, res.Banned = &count, &avg, &banned
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, res)
			}
			heading.Fprintf(out, "namespace %s\n", namespace)
			row(out, "vouches", res.Vouches)
			if seller != "" {
				row(out, "seller", seller)
				row(out, "seller vouches", *res.Count)
				row(out, "average rating", fmt.Sprintf("%.2f", *res.AvgRating))
				row(out, "banned", *res.Banned)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace (guild) ID")
	cmd.Flags().StringVar(&seller, "seller", "", "also show aggregates for this seller")
	_ = cmd.MarkFlagRequired("namespace")
	return cmd
}

// NewLeaderboardCommand creates the leaderboard command.
func NewLeaderboardCommand(rootOpts *RootOptions) *cobra.Command {
	var namespace string
	var limit, minVouches int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank sellers in a namespace by average rating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.Leaderboard(cmd.Context(), namespace, limit, minVouches)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []store.LeaderboardEntry{}
			}

			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, entries)
			}
			heading.Fprintf(out, "leaderboard for %s\n", namespace)
			if len(entries) == 0 {
				dim.Fprintln(out, "  no sellers qualify")
				return nil
			}
			for i, e := range entries {
				fmt.Fprintf(out, "  %2d. %-24s %.2f  (%d vouches)\n", i+1, e.Seller, e.AvgRating, e.Count)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace (guild) ID")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum sellers to show")
	cmd.Flags().IntVar(&minVouches, "min-vouches", 1, "omit sellers with fewer vouches")
	_ = cmd.MarkFlagRequired("namespace")
	return cmd
}
