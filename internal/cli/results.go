package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/headline-goat/feed-goat/internal/experiments"
)

func newResultsCmd(opts *rootOptions) *cobra.Command {
	var goal string

	cmd := &cobra.Command{
		Use:   "results <experiment>",
		Short: "Show detailed results for an experiment",
		Long: `Show conversion rates, confidence intervals and each variant's probability
of being the best for one goal of an experiment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				exp, err := a.engine.Experiment(args[0])
				if err != nil {
					return err
				}
				res, err := exp.Results(cmd.Context(), goal)
				if err != nil {
					return err
				}
				printResults(cmd, exp, res)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&goal, "goal", "g", "", "goal to report (defaults to the first goal)")
	return cmd
}

func printResults(cmd *cobra.Command, exp *experiments.Experiment, res *experiments.Results) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "EXPERIMENT: %s\n", exp.Name)
	fmt.Fprintf(out, "GOAL: %s\n", res.Goal)
	if res.Winner != "" {
		fmt.Fprintf(out, "WINNER: %s\n", res.Winner)
	}
	if !exp.StartedAt.IsZero() {
		fmt.Fprintf(out, "STARTED: %s\n", exp.StartedAt.Format("2006-01-02"))
	}
	if !exp.EndedAt.IsZero() {
		fmt.Fprintf(out, "ENDED: %s\n", exp.EndedAt.Format("2006-01-02"))
	}
	fmt.Fprintln(out)

	bayes := len(res.Variants) > 0 && res.Variants[0].ProbWinning != nil
	last := "VS CONTROL"
	if bayes {
		last = "P(BEST)"
	}
	fmt.Fprintf(out, "%-18s  %-12s  %-11s  %-7s  %-16s  %s\n", "VARIANT", "PARTICIPANTS", "CONVERSIONS", "RATE", "95% CI", last)
	fmt.Fprintln(out, strings.Repeat("─", 80))

	leading := -1
	for i, v := range res.Variants {
		score := v.ProbWinning
		if !bayes {
			score = v.ConversionRate
		}
		if score == nil {
			continue
		}
		if leading < 0 || *score > scoreOf(res.Variants[leading], bayes) {
			leading = i
		}
	}

	for i, v := range res.Variants {
		ci := "N/A"
		if v.Participated > 0 {
			ci = fmt.Sprintf("[%.1f%%, %.1f%%]", v.Interval.Lower*100, v.Interval.Upper*100)
		}

		name := v.Variant
		if len(name) > 18 {
			name = name[:15] + "..."
		}

		score := formatPercent(v.ProbWinning)
		if !bayes {
			score = formatPercent(v.ConfidenceVsControl)
			if i == 0 {
				score = "control"
			}
		}

		indicator := ""
		if i == leading && len(res.Variants) > 1 {
			indicator = " ← LEADING"
		}

		fmt.Fprintf(out, "%-18s  %-12s  %-11s  %-7s  %-16s  %s%s\n",
			name,
			formatNumber(v.Participated),
			formatNumber(v.Converted),
			formatPercent(v.ConversionRate),
			ci,
			score,
			indicator,
		)
	}
}

func scoreOf(v experiments.VariantResult, bayes bool) float64 {
	if bayes {
		return *v.ProbWinning
	}
	return *v.ConversionRate
}
