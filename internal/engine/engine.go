// Package engine wires variant assembly, ranking and experiments into the
// operations the transports expose.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/headline-goat/feed-goat/internal/experiments"
	"github.com/headline-goat/feed-goat/internal/feed"
	"github.com/headline-goat/feed-goat/internal/levers"
	"github.com/headline-goat/feed-goat/internal/logging"
	"github.com/headline-goat/feed-goat/internal/metrics"
	"github.com/headline-goat/feed-goat/internal/ranking"
	"github.com/headline-goat/feed-goat/internal/variants"
)

// Feed is a ranked candidate pool. Degraded is set when ranking failed and
// the items are in the default order.
type Feed struct {
	Variant  string        `json:"variant"`
	Items    []feed.Scored `json:"items"`
	Degraded bool          `json:"degraded"`
}

type Engine struct {
	assembler      *variants.Assembler
	evaluator      *ranking.Evaluator
	registry       *experiments.Registry
	feedExperiment string
	defaultVariant string
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

type Option func(*Engine)

// WithFeedExperiment names the experiment FeedFor buckets readers into.
func WithFeedExperiment(id string) Option { return func(e *Engine) { e.feedExperiment = id } }

// WithDefaultVariant sets the variant used when no feed experiment applies.
func WithDefaultVariant(name string) Option { return func(e *Engine) { e.defaultVariant = name } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = logging.OrNop(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func New(assembler *variants.Assembler, evaluator *ranking.Evaluator, registry *experiments.Registry, opts ...Option) *Engine {
	e := &Engine{
		assembler:      assembler,
		evaluator:      evaluator,
		registry:       registry,
		defaultVariant: "default",
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the lever catalog variants are assembled against.
func (e *Engine) Catalog() *levers.Catalog { return e.assembler.Catalog() }

// Variant resolves a variant by name.
func (e *Engine) Variant(ctx context.Context, name string) (*variants.Config, error) {
	return e.assembler.Resolve(ctx, name)
}

// VariantNames lists the variants the definition store holds.
func (e *Engine) VariantNames(ctx context.Context) ([]string, error) {
	return e.assembler.Names(ctx)
}

// Preload assembles every listed variant and the default variant, so
// definition errors surface at startup.
func (e *Engine) Preload(ctx context.Context) error {
	names, err := e.assembler.Names(ctx)
	if err != nil {
		return fmt.Errorf("failed to list variants: %w", err)
	}
	return e.assembler.Preload(ctx, append(names, e.defaultVariant)...)
}

// Experiments lists the configured experiments.
func (e *Engine) Experiments() []*experiments.Experiment { return e.registry.List() }

// Experiment returns one configured experiment.
func (e *Engine) Experiment(id string) (*experiments.Experiment, error) { return e.registry.Get(id) }

// Registry exposes the experiment registry for winner management.
func (e *Engine) Registry() *experiments.Registry { return e.registry }

// Rank orders pool with the named variant. A variant that cannot be resolved
// is an error; a failure while scoring degrades to the default order.
func (e *Engine) Rank(ctx context.Context, variant string, user *feed.User, pool []feed.Item) (*Feed, error) {
	start := time.Now()

	cfg, err := e.assembler.Resolve(ctx, variant)
	if err != nil {
		return nil, err
	}

	items, degraded := e.evaluator.RankOrDefault(ctx, cfg, feed.Env{User: user}, pool)
	e.metrics.ObserveRank(cfg.Name, time.Since(start).Seconds(), len(items), degraded)

	return &Feed{Variant: cfg.Name, Items: items, Degraded: degraded}, nil
}

// AssignVariant buckets participants into the experiment.
func (e *Engine) AssignVariant(ctx context.Context, id string, participants []experiments.Participant, opts experiments.VariantOptions) (string, error) {
	exp, err := e.registry.Get(id)
	if err != nil {
		return "", err
	}
	return exp.Variant(ctx, participants, opts)
}

// RecordConversion records goal for the participants and reports whether
// they had a membership.
func (e *Engine) RecordConversion(ctx context.Context, id string, participants []experiments.Participant, goal string) (bool, error) {
	exp, err := e.registry.Get(id)
	if err != nil {
		return false, err
	}
	return exp.Convert(ctx, participants, goal)
}

// ExperimentResults aggregates the experiment's outcome for goal.
func (e *Engine) ExperimentResults(ctx context.Context, id, goal string) (*experiments.Results, error) {
	exp, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return exp.Results(ctx, goal)
}

// FeedFor picks the reader's variant through the feed experiment and ranks
// pool with it. Without a feed experiment or any participant identity the
// default variant is used.
func (e *Engine) FeedFor(ctx context.Context, participants []experiments.Participant, user *feed.User, pool []feed.Item) (*Feed, error) {
	variant, err := e.feedVariant(ctx, participants)
	if err != nil {
		return nil, err
	}
	return e.Rank(ctx, variant, user, pool)
}

func (e *Engine) feedVariant(ctx context.Context, participants []experiments.Participant) (string, error) {
	if e.feedExperiment == "" {
		return e.defaultVariant, nil
	}

	variant, err := e.AssignVariant(ctx, e.feedExperiment, participants, experiments.VariantOptions{})
	switch {
	case errors.Is(err, experiments.ErrUnknownParticipant):
		return e.defaultVariant, nil
	case errors.Is(err, experiments.ErrExperimentNotFound):
		e.logger.Warn("Feed experiment is not configured",
			zap.String("experiment", e.feedExperiment))
		return e.defaultVariant, nil
	case err != nil:
		return "", fmt.Errorf("failed to assign feed variant: %w", err)
	}
	return variant, nil
}
