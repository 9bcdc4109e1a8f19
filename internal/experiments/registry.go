package experiments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/headline-goat/feed-goat/internal/logging"
	"github.com/headline-goat/feed-goat/internal/metrics"
	"github.com/headline-goat/feed-goat/internal/stats"
	"github.com/headline-goat/feed-goat/internal/store"
)

type fileFormat struct {
	Experiments map[string]experimentYAML `yaml:"experiments"`
}

type experimentYAML struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Variants    []string   `yaml:"variants"`
	Weights     []float64  `yaml:"weights"`
	Winner      string     `yaml:"winner"`
	KeepVariant bool       `yaml:"keep_variant"`
	Closed      bool       `yaml:"closed"`
	UseEvents   bool       `yaml:"use_events"`
	Goals       []string   `yaml:"goals"`
	StartedAt   *time.Time `yaml:"started_at"`
	EndedAt     *time.Time `yaml:"ended_at"`
}

// Parse reads experiment definitions from YAML:
//
//	experiments:
//	  banner:
//	    variants: [control, bold]
//	    weights: [1, 1]
//
// Unknown keys are rejected so a misspelled field fails loudly.
func Parse(data []byte) ([]*Experiment, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse experiments: %w", err)
	}

	out := make([]*Experiment, 0, len(f.Experiments))
	for id, raw := range f.Experiments {
		e := &Experiment{
			ID:          id,
			Name:        raw.Name,
			Description: raw.Description,
			Variants:    raw.Variants,
			Weights:     raw.Weights,
			Winner:      raw.Winner,
			KeepVariant: raw.KeepVariant,
			Closed:      raw.Closed,
			UseEvents:   raw.UseEvents,
			Goals:       raw.Goals,
		}
		if e.Name == "" {
			e.Name = id
		}
		if raw.StartedAt != nil {
			e.StartedAt = *raw.StartedAt
		}
		if raw.EndedAt != nil {
			e.EndedAt = *raw.EndedAt
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadFile parses the experiments file at path.
func LoadFile(path string) ([]*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read experiments file: %w", err)
	}
	return Parse(data)
}

// Option configures a Registry.
type Option func(*deps)

// WithRandom sets the source used for weighted assignment.
func WithRandom(r RandomSource) Option { return func(d *deps) { d.random = r } }

func WithLogger(l *zap.Logger) Option { return func(d *deps) { d.logger = logging.OrNop(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *deps) { d.metrics = m } }

// WithWinProbabilityCache shares a win probability cache between registries.
func WithWinProbabilityCache(c *stats.WinProbabilityCache) Option {
	return func(d *deps) { d.probs = c }
}

// DefaultMaxInlineWinCost is the largest win probability computation, in
// summed terms, Results runs in the caller's request.
const DefaultMaxInlineWinCost = 250_000

// WithMaxInlineWinCost bounds the win probability work Results does itself.
// Costlier experiments serve their last computed probabilities until the
// Refresher catches up.
func WithMaxInlineWinCost(n int) Option { return func(d *deps) { d.maxInlineCost = n } }

// Registry holds the configured experiments. Winner overrides replace an
// experiment with an updated copy, so a *Experiment never changes once
// handed out.
type Registry struct {
	mu          sync.RWMutex
	defined     map[string]*Experiment
	experiments map[string]*Experiment
	deps        *deps
}

// NewRegistry validates the experiments and binds them to st.
func NewRegistry(st store.Store, experiments []*Experiment, opts ...Option) (*Registry, error) {
	d := &deps{
		store:         st,
		random:        globalSource{},
		logger:        zap.NewNop(),
		maxInlineCost: DefaultMaxInlineWinCost,
		last:          make(map[string][]float64),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.probs == nil {
		d.probs = stats.NewWinProbabilityCache(d.metrics)
	}

	r := &Registry{
		defined:     make(map[string]*Experiment, len(experiments)),
		experiments: make(map[string]*Experiment, len(experiments)),
		deps:        d,
	}
	for _, e := range experiments {
		if _, dup := r.defined[e.ID]; dup {
			return nil, fmt.Errorf("%w %q: defined twice", ErrInvalidExperiment, e.ID)
		}
		bound := *e
		if err := bound.validate(); err != nil {
			return nil, err
		}
		bound.deps = d
		r.defined[e.ID] = &bound
		r.experiments[e.ID] = &bound
	}
	return r, nil
}

// Get returns the experiment with the given id.
func (r *Registry) Get(id string) (*Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.experiments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, id)
	}
	return e, nil
}

// List returns every experiment ordered by id.
func (r *Registry) List() []*Experiment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Experiment, 0, len(r.experiments))
	for _, e := range r.experiments {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WinProbabilities returns the cache used by Results.
func (r *Registry) WinProbabilities() *stats.WinProbabilityCache { return r.deps.probs }

// ApplyWinners loads persisted winner overrides. Overrides for unknown
// experiments or variants are logged and skipped.
func (r *Registry) ApplyWinners(ctx context.Context) error {
	winners, err := r.deps.store.Winners(ctx)
	if err != nil {
		return fmt.Errorf("failed to load winners: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, variant := range winners {
		e, ok := r.defined[id]
		if !ok || !e.HasVariant(variant) {
			r.deps.logger.Warn("Ignoring stale winner override",
				zap.String("experiment", id),
				zap.String("variant", variant))
			continue
		}
		r.experiments[id] = withWinner(e, variant)
	}
	return nil
}

// DeclareWinner persists variant as the experiment's winner.
func (r *Registry) DeclareWinner(ctx context.Context, id, variant string) error {
	e, err := r.Get(id)
	if err != nil {
		return err
	}
	if !e.HasVariant(variant) {
		return fmt.Errorf("%w %q for experiment %q", ErrUnknownVariant, variant, id)
	}
	if err := r.deps.store.SetWinner(ctx, id, variant); err != nil {
		return err
	}

	r.mu.Lock()
	r.experiments[id] = withWinner(r.defined[id], variant)
	r.mu.Unlock()

	r.deps.logger.Info("Declared winner", zap.String("experiment", id), zap.String("variant", variant))
	return nil
}

// ClearWinner removes a persisted override, restoring the configured winner.
func (r *Registry) ClearWinner(ctx context.Context, id string) error {
	if _, err := r.Get(id); err != nil {
		return err
	}
	if err := r.deps.store.ClearWinner(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	r.experiments[id] = r.defined[id]
	r.mu.Unlock()
	return nil
}

func withWinner(e *Experiment, variant string) *Experiment {
	updated := *e
	updated.Winner = variant
	return &updated
}
