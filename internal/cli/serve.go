package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/headline-goat/feed-goat/internal/experiments"
	"github.com/headline-goat/feed-goat/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the feed-goat HTTP server.

The server provides:
  - Feed ranking endpoint, bucketing readers through the feed experiment
  - Experiment assignment, conversion and results endpoints
  - Lever and variant catalog endpoints
  - Health check and Prometheus metrics

Example:
  feed-goat serve --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, opts, func(a *app) error {
				if cmd.Flags().Changed("port") {
					a.cfg.Port = port
				}
				logSummary(a)

				if err := a.engine.Preload(ctx); err != nil {
					return fmt.Errorf("failed to load variants: %w", err)
				}

				refresher := experiments.NewRefresher(a.registry, a.cfg.ResultsRefreshInterval)
				go refresher.Run(ctx)

				srv := server.New(a.engine, a.cfg.Port,
					server.WithLogger(a.logger),
					server.WithMetrics(a.metrics, a.gatherer),
					server.WithStore(a.store),
				)
				return srv.Start(ctx)
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func logSummary(a *app) {
	summary := a.cfg.LogSummary()
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.String(k, summary[k]))
	}
	a.logger.Info("Starting feed-goat", fields...)
}

