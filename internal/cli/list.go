package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all experiments",
		Long:  `List the configured experiments with their status and participation.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				out := cmd.OutOrStdout()
				list := a.engine.Experiments()
				if len(list) == 0 {
					fmt.Fprintln(out, "No experiments configured.")
					fmt.Fprintln(out)
					fmt.Fprintf(out, "Define experiments in %s, for example:\n", a.cfg.ExperimentsFile)
					fmt.Fprintln(out, "  experiments:")
					fmt.Fprintln(out, "    feed_strategy:")
					fmt.Fprintln(out, "      variants: [original, 20220422-variant]")
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATE\tVARIANTS\tGOALS\tPARTICIPANTS\tCONVERSIONS\tWINNER")

				for _, e := range list {
					res, err := e.Results(cmd.Context(), "")
					if err != nil {
						return fmt.Errorf("failed to get results for %s: %w", e.ID, err)
					}

					participants, conversions := 0, 0
					for _, v := range res.Variants {
						participants += v.Participated
						conversions += v.Converted
					}

					state := "RUNNING"
					switch {
					case e.Winner != "":
						state = "DECIDED"
					case e.Closed:
						state = "CLOSED"
					}

					winner := e.Winner
					if winner == "" {
						winner = "-"
					}

					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
						e.ID,
						state,
						len(e.Variants),
						strings.Join(e.Goals, ","),
						formatNumber(participants),
						formatNumber(conversions),
						winner,
					)
				}
				return w.Flush()
			})
		},
	}
}
