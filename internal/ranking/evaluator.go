// Package ranking scores candidate items against an assembled variant and
// orders them.
package ranking

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/headline-goat/feed-goat/internal/feed"
	"github.com/headline-goat/feed-goat/internal/levers"
	"github.com/headline-goat/feed-goat/internal/logging"
	"github.com/headline-goat/feed-goat/internal/variants"
)

// ErrNoConfig is returned when Evaluate is called without a usable variant.
var ErrNoConfig = errors.New("ranking: no variant config")

// DefaultConcurrency is the number of scoring workers per request.
const DefaultConcurrency = 8

// minChunk keeps small pools on a single worker.
const minChunk = 64

// RandomSource supplies seeds. *rand.Rand from math/rand/v2 satisfies it.
type RandomSource interface {
	Uint64() uint64
}

type globalSource struct{}

func (globalSource) Uint64() uint64 { return rand.Uint64() }

// Evaluator scores and orders candidate pools. It holds no per-request state
// and is safe for concurrent use.
type Evaluator struct {
	seed        uint64
	random      RandomSource
	concurrency int
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Evaluator)

// WithSeed fixes the process seed used when a variant does not reseed.
func WithSeed(seed uint64) Option { return func(e *Evaluator) { e.seed = seed } }

// WithRandom sets the source of per-request seeds.
func WithRandom(r RandomSource) Option { return func(e *Evaluator) { e.random = r } }

func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithClock sets the time used when an Env carries none.
func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

func WithLogger(l *zap.Logger) Option { return func(e *Evaluator) { e.logger = logging.OrNop(l) } }

func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		random:      globalSource{},
		concurrency: DefaultConcurrency,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	e.seed = e.random.Uint64()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate filters items older than the variant's age limit, scores the rest
// and returns them ordered by the variant's order-by lever, descending. Ties
// fall to relevancy score, then publication time (newest first), then id.
func (e *Evaluator) Evaluate(ctx context.Context, cfg *variants.Config, env feed.Env, items []feed.Item) ([]feed.Scored, error) {
	if cfg == nil || cfg.OrderBy == nil {
		return nil, ErrNoConfig
	}
	if env.Now.IsZero() {
		env.Now = e.now()
	}

	candidates := e.filterByAge(cfg.MaxDaysSincePublished, env.Now, items)
	active := activeLevers(cfg.Levers, env)

	seed := e.seed
	if cfg.ReseedRandomizerOnEachRequest {
		seed = e.random.Uint64()
	}

	scored := make([]feed.Scored, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	chunk := max(minChunk, (len(candidates)+e.concurrency-1)/e.concurrency)
	for start := 0; start < len(candidates); start += chunk {
		lo, hi := start, min(start+chunk, len(candidates))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				it := candidates[i]
				scored[i] = feed.Scored{
					Item:           it,
					RelevancyScore: e.score(active, it, env),
					Random:         unitFloat(seed, uint64(it.ID), 0),
					Coin:           unitFloat(seed, uint64(it.ID), 1),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("score %s: %w", cfg.Name, err)
	}

	order(scored, cfg.OrderBy)
	return scored, nil
}

// RankOrDefault evaluates items and falls back to Fallback when evaluation
// fails. The bool reports whether the fallback was used.
func (e *Evaluator) RankOrDefault(ctx context.Context, cfg *variants.Config, env feed.Env, items []feed.Item) ([]feed.Scored, bool) {
	ranked, err := e.Evaluate(ctx, cfg, env, items)
	if err == nil {
		return ranked, false
	}
	name := ""
	if cfg != nil {
		name = cfg.Name
	}
	e.logger.Error("ranking failed, serving default ordering",
		zap.String("variant", name),
		zap.Int("items", len(items)),
		zap.Error(err),
	)
	return e.Fallback(items), true
}

// Fallback orders items newest first with a zero relevancy score. No item is
// filtered out.
func (e *Evaluator) Fallback(items []feed.Item) []feed.Scored {
	scored := make([]feed.Scored, len(items))
	for i := range items {
		scored[i] = feed.Scored{Item: &items[i]}
	}
	sort.SliceStable(scored, func(i, j int) bool { return tiebreak(&scored[i], &scored[j]) })
	return scored
}

func (e *Evaluator) filterByAge(maxDays int, now time.Time, items []feed.Item) []*feed.Item {
	out := make([]*feed.Item, 0, len(items))
	if maxDays <= 0 {
		for i := range items {
			out = append(out, &items[i])
		}
		return out
	}
	cutoff := now.AddDate(0, 0, -maxDays)
	for i := range items {
		if items[i].PublishedAt.Before(cutoff) {
			continue
		}
		out = append(out, &items[i])
	}
	return out
}

// score sums the configured weights. A lever that panics on a malformed item
// contributes its fallback.
func (e *Evaluator) score(active []*levers.ConfiguredLever, it *feed.Item, env feed.Env) float64 {
	var total float64
	for _, l := range active {
		total += e.weigh(l, it, env)
	}
	return total
}

func (e *Evaluator) weigh(l *levers.ConfiguredLever, it *feed.Item, env feed.Env) (w float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("lever input failed",
				zap.String("lever", l.Key()),
				zap.Int64("item", it.ID),
				zap.Any("panic", r),
			)
			w = l.Fallback()
		}
	}()
	return l.Evaluate(it, env)
}

func activeLevers(all []*levers.ConfiguredLever, env feed.Env) []*levers.ConfiguredLever {
	out := make([]*levers.ConfiguredLever, 0, len(all))
	for _, l := range all {
		if l.UserRequired() && env.User == nil {
			continue
		}
		out = append(out, l)
	}
	return out
}

func order(scored []feed.Scored, ob *levers.OrderByLever) {
	keys := make([]float64, len(scored))
	for i := range scored {
		k := ob.SortKey(&scored[i])
		if math.IsNaN(k) {
			k = math.Inf(-1)
		}
		keys[i] = k
	}
	idx := make([]int, len(scored))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if keys[i] != keys[j] {
			return keys[i] > keys[j]
		}
		return tiebreak(&scored[i], &scored[j])
	})
	sorted := make([]feed.Scored, len(scored))
	for n, i := range idx {
		sorted[n] = scored[i]
	}
	copy(scored, sorted)
}

func tiebreak(a, b *feed.Scored) bool {
	if a.RelevancyScore != b.RelevancyScore {
		return a.RelevancyScore > b.RelevancyScore
	}
	if !a.Item.PublishedAt.Equal(b.Item.PublishedAt) {
		return a.Item.PublishedAt.After(b.Item.PublishedAt)
	}
	return a.Item.ID < b.Item.ID
}

// unitFloat maps (seed, id, stream) to [0, 1).
func unitFloat(seed, id, stream uint64) float64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], seed)
	binary.LittleEndian.PutUint64(buf[8:], id)
	binary.LittleEndian.PutUint64(buf[16:], stream)
	return float64(xxhash.Sum64(buf[:])>>11) / (1 << 53)
}
