package cli

import (
	"fmt"
	"io"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

func newWinnerCmd(opts *rootOptions) *cobra.Command {
	var (
		variant     string
		clearWinner bool
	)

	cmd := &cobra.Command{
		Use:   "winner <experiment>",
		Short: "Declare or clear the winner of an experiment",
		Long: `Declare a winning variant for an experiment. Every participant is served
the winner from then on, unless the experiment keeps existing variants, and
further conversions are not recorded.

Without --variant the variant is picked interactively.

Examples:
  feed-goat winner feed_strategy --variant 20220422-variant
  feed-goat winner feed_strategy --clear`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			return withApp(cmd.Context(), opts, func(a *app) error {
				out := cmd.OutOrStdout()
				if clearWinner {
					if err := a.registry.ClearWinner(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(out, "Cleared the winner of experiment '%s'.\n", id)
					return nil
				}

				exp, err := a.registry.Get(id)
				if err != nil {
					return err
				}

				chosen := variant
				if chosen == "" {
					prompt := promptui.Select{
						Label:  fmt.Sprintf("Winner of %s", exp.Name),
						Items:  exp.Variants,
						Stdin:  io.NopCloser(cmd.InOrStdin()),
						Stdout: nopWriteCloser{cmd.OutOrStdout()},
					}
					if _, chosen, err = prompt.Run(); err != nil {
						return fmt.Errorf("no variant selected: %w", err)
					}
				}

				if err := a.registry.DeclareWinner(cmd.Context(), id, chosen); err != nil {
					return err
				}
				fmt.Fprintf(out, "Declared winner for experiment '%s': %s\n", id, chosen)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variant, "variant", "v", "", "winning variant")
	cmd.Flags().BoolVar(&clearWinner, "clear", false, "clear a declared winner")
	cmd.MarkFlagsMutuallyExclusive("variant", "clear")
	return cmd
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
