package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/headline-goat/feed-goat/internal/levers"
)

func newLeversCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "levers",
		Short: "List the relevancy and order-by levers",
		Long: `List every lever a variant can configure.

Relevancy levers multiply an item's score by the weight of the first case
its value matches. Order-by levers decide how scored items are sorted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := levers.Default()
			out := cmd.OutOrStdout()

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RELEVANCY LEVER\tRANGE\tUSER\tPARAMETERS")
			for _, l := range catalog.RelevancyLevers() {
				user := ""
				if l.UserRequired() {
					user = "required"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					l.Key(),
					l.Range(),
					user,
					strings.Join(l.QueryParameterNames(), ","),
				)
			}
			w.Flush()
			fmt.Fprintln(out)

			w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ORDER BY\tLABEL")
			for _, o := range catalog.OrderByLevers() {
				key := o.Key()
				if key == catalog.DefaultOrderByKey() {
					key += " (default)"
				}
				fmt.Fprintf(w, "%s\t%s\n", key, o.Label())
			}
			return w.Flush()
		},
	}
}
