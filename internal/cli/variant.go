package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newVariantCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "variant [name]",
		Short: "Show an assembled variant",
		Long: `Show the assembled form of a variant, or list the known variant names
when no name is given.

Historical names resolve to the variant that replaced them.

Examples:
  feed-goat variant
  feed-goat variant 20220422-variant`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					names, err := a.engine.VariantNames(cmd.Context())
					if err != nil {
						return fmt.Errorf("failed to list variants: %w", err)
					}
					for _, name := range names {
						fmt.Fprintln(out, name)
					}
					return nil
				}

				cfg, err := a.engine.Variant(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(cfg.View())
			})
		},
	}
}
