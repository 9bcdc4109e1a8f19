package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/headline-goat/feed-goat/internal/config"
	"github.com/headline-goat/feed-goat/internal/engine"
	"github.com/headline-goat/feed-goat/internal/experiments"
	"github.com/headline-goat/feed-goat/internal/levers"
	"github.com/headline-goat/feed-goat/internal/logging"
	"github.com/headline-goat/feed-goat/internal/metrics"
	"github.com/headline-goat/feed-goat/internal/ranking"
	"github.com/headline-goat/feed-goat/internal/store"
	"github.com/headline-goat/feed-goat/internal/variants"
)

// app is everything a command needs, built from configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	store    *store.SQLiteStore
	redis    *redis.Client
	registry *experiments.Registry
	engine   *engine.Engine
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, errs := config.Load(opts.configFile)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	return cfg, nil
}

// withApp builds the app, executes the function, and handles cleanup.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	reg := prometheus.NewRegistry()
	if err := a.metrics.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	a.gatherer = reg

	a.store, err = store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer a.store.Close()

	var defs variants.DefinitionStore = variants.Builtin()
	if cfg.VariantsDir != "" {
		defs = variants.NewDirStore(cfg.VariantsDir)
	}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		a.redis = redis.NewClient(redisOpts)
		defer a.redis.Close()
		defs = variants.NewRedisStore(a.redis, defs, cfg.DeployVersion, variants.DefaultRedisTTL, logger)
	}

	assembler := variants.NewAssembler(levers.Default(), defs,
		variants.WithVersion(cfg.DeployVersion),
		variants.WithLogger(logger),
		variants.WithMetrics(a.metrics),
	)
	evaluator := ranking.NewEvaluator(
		ranking.WithConcurrency(cfg.EvaluatorConcurrency),
		ranking.WithLogger(logger),
	)

	a.registry, err = loadRegistry(ctx, cfg, a.store, logger, a.metrics)
	if err != nil {
		return err
	}

	a.engine = engine.New(assembler, evaluator, a.registry,
		engine.WithFeedExperiment(cfg.FeedExperiment),
		engine.WithDefaultVariant(cfg.DefaultVariant),
		engine.WithLogger(logger),
		engine.WithMetrics(a.metrics),
	)
	return fn(a)
}

// loadRegistry reads the experiments file. A missing file yields an empty
// registry.
func loadRegistry(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, logger *zap.Logger, m *metrics.Metrics) (*experiments.Registry, error) {
	defs, err := experiments.LoadFile(cfg.ExperimentsFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Experiments file not found, running without experiments",
			zap.String("path", cfg.ExperimentsFile))
		defs, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	registry, err := experiments.NewRegistry(st, defs,
		experiments.WithLogger(logger),
		experiments.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}
	if err := registry.ApplyWinners(ctx); err != nil {
		return nil, err
	}
	return registry, nil
}

// parseParticipants reads "type:id" flags, keeping their order.
func parseParticipants(values []string) ([]experiments.Participant, error) {
	out := make([]experiments.Participant, 0, len(values))
	for _, v := range values {
		typ, id, ok := strings.Cut(v, ":")
		if !ok || typ == "" || id == "" {
			return nil, fmt.Errorf("invalid participant %q: want type:id", v)
		}
		out = append(out, experiments.Participant{Type: typ, ID: id})
	}
	return out, nil
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}

func formatPercent(rate *float64) string {
	if rate == nil {
		return "N/A"
	}
	if *rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", *rate*100)
}
