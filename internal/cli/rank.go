package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/feed-goat/internal/feed"
)

func newRankCmd(opts *rootOptions) *cobra.Command {
	var (
		itemsPath       string
		userID          int64
		experienceLevel int
		limit           int
	)

	cmd := &cobra.Command{
		Use:   "rank <variant>",
		Short: "Rank a candidate pool with a variant",
		Long: `Rank a JSON array of feed items with the named variant and print the
result, highest relevancy first.

Examples:
  feed-goat rank original --items pool.json
  cat pool.json | feed-goat rank 20220422-variant --items - --user-id 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := readItems(cmd.InOrStdin(), itemsPath)
			if err != nil {
				return err
			}

			var user *feed.User
			if userID != 0 {
				user = &feed.User{ID: userID}
				if cmd.Flags().Changed("experience-level") {
					level := experienceLevel
					user.ExperienceLevel = &level
				}
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				f, err := a.engine.Rank(cmd.Context(), args[0], user, pool)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "VARIANT: %s\n", f.Variant)
				if f.Degraded {
					fmt.Fprintln(out, "DEGRADED: ranking failed, items are in the default order")
				}
				fmt.Fprintln(out)

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "RANK\tID\tRELEVANCY\tPUBLISHED")
				for i, s := range f.Items {
					if limit > 0 && i >= limit {
						break
					}
					fmt.Fprintf(w, "%d\t%d\t%.4f\t%s\n", i+1, s.Item.ID, s.RelevancyScore, s.Item.PublishedAt.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&itemsPath, "items", "i", "-", "JSON file of candidate items, or - for stdin")
	cmd.Flags().Int64Var(&userID, "user-id", 0, "rank for this signed-in user")
	cmd.Flags().IntVar(&experienceLevel, "experience-level", 0, "the user's experience level")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "print at most this many items")
	return cmd
}

func readItems(stdin io.Reader, path string) ([]feed.Item, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open items: %w", err)
		}
		defer f.Close()
		r = f
	}

	var items []feed.Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}
	return items, nil
}
