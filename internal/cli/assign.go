package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/headline-goat/feed-goat/internal/experiments"
)

func newAssignCmd(opts *rootOptions) *cobra.Command {
	var (
		participants []string
		variant      string
		exclude      bool
	)

	cmd := &cobra.Command{
		Use:   "assign <experiment>",
		Short: "Bucket participants into an experiment",
		Long: `Bucket participants into an experiment and print their variant.

Participants are given as type:id, most preferred identity first. The
membership is stored under the first one.

Examples:
  feed-goat assign feed_strategy --participant user:42 --participant visitor:abc
  feed-goat assign banner --participant user:42 --variant bold`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := parseParticipants(participants)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				v, err := a.engine.AssignVariant(cmd.Context(), args[0], ps, experiments.VariantOptions{
					Exclude: exclude,
					Variant: variant,
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&participants, "participant", "p", nil, "participant as type:id (repeatable)")
	cmd.Flags().StringVar(&variant, "variant", "", "force this variant")
	cmd.Flags().BoolVar(&exclude, "exclude", false, "return the control without recording a membership")
	return cmd
}
