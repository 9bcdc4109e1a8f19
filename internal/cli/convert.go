package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConvertCmd(opts *rootOptions) *cobra.Command {
	var (
		participants []string
		goal         string
	)

	cmd := &cobra.Command{
		Use:   "convert <experiment>",
		Short: "Record a conversion",
		Long: `Record a goal conversion for participants already bucketed into an
experiment. The experiment's first goal is used when --goal is omitted.

Example:
  feed-goat convert feed_strategy --participant user:42 --goal user_creates_reaction`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := parseParticipants(participants)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				found, err := a.engine.RecordConversion(cmd.Context(), args[0], ps, goal)
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintln(cmd.OutOrStdout(), "No membership found, nothing recorded.")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Conversion recorded.")
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&participants, "participant", "p", nil, "participant as type:id (repeatable)")
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "goal to record")
	return cmd
}
