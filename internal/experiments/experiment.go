// Package experiments assigns participants to experiment variants, records
// their conversions and aggregates the outcome per variant.
package experiments

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/headline-goat/feed-goat/internal/metrics"
	"github.com/headline-goat/feed-goat/internal/stats"
	"github.com/headline-goat/feed-goat/internal/store"
)

var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrUnknownVariant     = errors.New("unknown variant")
	ErrUnknownGoal        = errors.New("unknown goal")
	ErrInvalidExperiment  = errors.New("invalid experiment")
)

// DefaultGoal is used when an experiment names no goals.
const DefaultGoal = "conversion"

// Participant is one identity of whoever is being bucketed.
type Participant = store.Participant

// RandomSource draws the uniform numbers used for weighted assignment.
// Implementations must be safe for concurrent use.
type RandomSource interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// VariantOptions adjust a single Variant call.
type VariantOptions struct {
	// Exclude returns the control without touching storage.
	Exclude bool
	// Variant requests a specific variant. Ignored unless it is one of the
	// experiment's variants.
	Variant string
}

// Experiment is one configured experiment. The first variant is the control.
// Experiments are immutable once registered.
type Experiment struct {
	ID          string
	Name        string
	Description string
	Variants    []string
	Weights     []float64
	Winner      string
	KeepVariant bool
	Closed      bool
	UseEvents   bool
	Goals       []string
	StartedAt   time.Time
	EndedAt     time.Time

	deps *deps
}

type deps struct {
	store   store.Store
	random  RandomSource
	probs   *stats.WinProbabilityCache
	logger  *zap.Logger
	metrics *metrics.Metrics

	// maxInlineCost bounds the win probability work Results does itself.
	maxInlineCost int
	lastMu        sync.Mutex
	last          map[string][]float64 // "experiment/goal" -> latest probabilities
}

// Control returns the first variant.
func (e *Experiment) Control() string { return e.Variants[0] }

// HasVariant reports whether name is one of the experiment's variants.
func (e *Experiment) HasVariant(name string) bool { return slices.Contains(e.Variants, name) }

// HasGoal reports whether goal is one of the experiment's goals.
func (e *Experiment) HasGoal(goal string) bool { return slices.Contains(e.Goals, goal) }

// Probabilities returns the normalized assignment weights.
func (e *Experiment) Probabilities() []float64 {
	var total float64
	for _, w := range e.Weights {
		total += w
	}
	out := make([]float64, len(e.Weights))
	for i, w := range e.Weights {
		out[i] = w / total
	}
	return out
}

func (e *Experiment) validate() error {
	if len(e.Variants) == 0 {
		return fmt.Errorf("%w %q: no variants", ErrInvalidExperiment, e.ID)
	}
	seen := make(map[string]bool, len(e.Variants))
	for _, v := range e.Variants {
		if v == "" || seen[v] {
			return fmt.Errorf("%w %q: variant %q is empty or repeated", ErrInvalidExperiment, e.ID, v)
		}
		seen[v] = true
	}

	if len(e.Weights) == 0 {
		e.Weights = make([]float64, len(e.Variants))
		for i := range e.Weights {
			e.Weights[i] = 1
		}
	}
	if len(e.Weights) != len(e.Variants) {
		return fmt.Errorf("%w %q: %d weights for %d variants", ErrInvalidExperiment, e.ID, len(e.Weights), len(e.Variants))
	}
	var total float64
	for _, w := range e.Weights {
		if w < 0 {
			return fmt.Errorf("%w %q: negative weight %v", ErrInvalidExperiment, e.ID, w)
		}
		total += w
	}
	if total == 0 {
		return fmt.Errorf("%w %q: weights sum to zero", ErrInvalidExperiment, e.ID)
	}

	if e.Winner != "" && !e.HasVariant(e.Winner) {
		return fmt.Errorf("%w %q: winner %q is not a variant", ErrInvalidExperiment, e.ID, e.Winner)
	}
	if len(e.Goals) == 0 {
		e.Goals = []string{DefaultGoal}
	}
	if !e.StartedAt.IsZero() && !e.EndedAt.IsZero() && e.EndedAt.Before(e.StartedAt) {
		return fmt.Errorf("%w %q: ended_at is before started_at", ErrInvalidExperiment, e.ID)
	}
	return nil
}

// pick walks the cumulative weight distribution and returns the first
// variant whose cumulative probability reaches r. Zero-weight variants are
// never picked; the last weighted variant absorbs rounding error.
func (e *Experiment) pick(r float64) string {
	probs := e.Probabilities()
	var cumulative float64
	last := e.Control()
	for i, p := range probs {
		if p == 0 {
			continue
		}
		last = e.Variants[i]
		cumulative += p
		if cumulative >= r {
			return e.Variants[i]
		}
	}
	return last
}

// standardize drops empty and repeated identities, keeping priority order.
func standardize(participants []Participant) []Participant {
	out := make([]Participant, 0, len(participants))
	for _, p := range participants {
		if p.Type == "" || p.ID == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Variant returns the variant participants are bucketed into, creating or
// upgrading their membership as needed. Repeated calls for the same
// participant return the same variant.
func (e *Experiment) Variant(ctx context.Context, participants []Participant, opts VariantOptions) (string, error) {
	if e.Winner != "" && !e.KeepVariant {
		return e.Winner, nil
	}
	if opts.Exclude {
		return e.Control(), nil
	}

	candidates := standardize(participants)
	if len(candidates) == 0 {
		return "", ErrUnknownParticipant
	}
	preferred := candidates[0]

	existing, err := e.deps.store.FindMembership(ctx, e.ID, candidates)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("failed to find membership: %w", err)
	}

	if e.Winner != "" {
		if existing != nil {
			return existing.Variant, nil
		}
		return e.Winner, nil
	}

	m := existing
	changed := false
	if m == nil {
		m = &store.Membership{Experiment: e.ID}
		changed = true
	}

	switch {
	case opts.Variant != "" && e.HasVariant(opts.Variant):
		if m.Variant != opts.Variant {
			m.Variant = opts.Variant
			changed = true
		}
	case m.Variant == "":
		if e.Closed {
			m.Variant = e.Control()
		} else {
			m.Variant = e.pick(e.deps.random.Float64())
		}
	}

	if m.Participant() != preferred {
		m.ParticipantType, m.ParticipantID = preferred.Type, preferred.ID
		changed = true
	}

	// closed experiments reuse memberships but never create them
	if !changed || (e.Closed && existing == nil) {
		return m.Variant, nil
	}

	if existing == nil {
		stored, created, err := e.deps.store.InsertMembership(ctx, *m)
		if err != nil {
			return "", err
		}
		if created {
			e.deps.metrics.IncAssignment(e.ID, stored.Variant)
			e.deps.logger.Debug("Assigned variant",
				zap.String("experiment", e.ID),
				zap.String("participant_type", stored.ParticipantType),
				zap.String("variant", stored.Variant))
		}
		return stored.Variant, nil
	}

	err = e.deps.store.UpdateMembership(ctx, m)
	if errors.Is(err, store.ErrConflict) {
		// another request gave the preferred identity its own membership
		winner, findErr := e.deps.store.FindMembership(ctx, e.ID, candidates)
		if findErr != nil {
			return "", fmt.Errorf("failed to re-read membership: %w", findErr)
		}
		e.deps.logger.Warn("Membership upgrade lost a race",
			zap.String("experiment", e.ID),
			zap.Int64("membership_id", m.ID))
		return winner.Variant, nil
	}
	if err != nil {
		return "", err
	}
	return m.Variant, nil
}

// Convert records goal for the participants' membership. It reports whether
// a membership was found, and is a no-op once a winner is declared.
func (e *Experiment) Convert(ctx context.Context, participants []Participant, goal string) (bool, error) {
	if e.Winner != "" {
		return false, nil
	}
	if goal == "" {
		goal = e.Goals[0]
	}
	if !e.HasGoal(goal) {
		return false, fmt.Errorf("%w %q for experiment %q", ErrUnknownGoal, goal, e.ID)
	}

	candidates := standardize(participants)
	if len(candidates) == 0 {
		return false, ErrUnknownParticipant
	}

	m, err := e.deps.store.FindMembership(ctx, e.ID, candidates)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find membership: %w", err)
	}

	if e.UseEvents {
		err = e.deps.store.AddEvent(ctx, m.ID, goal)
	} else if !m.Converted {
		err = e.deps.store.MarkConverted(ctx, m.ID)
	}
	if err != nil {
		return true, err
	}

	e.deps.metrics.IncConversion(e.ID, goal)
	return true, nil
}
