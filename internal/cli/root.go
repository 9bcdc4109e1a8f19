package cli

import (
	"github.com/spf13/cobra"
)

// rootOptions are the flags every command shares.
type rootOptions struct {
	configFile string
	dbPath     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "feed-goat",
		Short: "Feed Goat - feed relevancy levers and experiment bucketing",
		Long: `Feed Goat ranks candidate feed items with configurable relevancy levers
and buckets readers into experiments, reporting each variant's outcome.

Configuration comes from FG_* environment variables and an optional YAML
file given with --config.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", getEnvOrDefault("FG_CONFIG", ""), "config file path")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "database path (overrides config)")

	cmd.AddCommand(
		newServeCmd(opts),
		newLeversCmd(opts),
		newVariantCmd(opts),
		newRankCmd(opts),
		newListCmd(opts),
		newAssignCmd(opts),
		newConvertCmd(opts),
		newResultsCmd(opts),
		newWinnerCmd(opts),
		newExportCmd(opts),
	)
	return cmd
}

func Execute() error {
	return newRootCmd().Execute()
}
