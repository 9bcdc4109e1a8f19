package variants

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/feed-goat/internal/feed"
	"github.com/headline-goat/feed-goat/internal/levers"
)

const recencyDefinition = `{
  "description": "recency only",
  "levers": {"recency": {"cases": [[7, 10], [30, 5]], "fallback": 1}},
  "order_by": "default",
  "max_days_since_published": 60,
  "reseed_randomizer_on_each_request": false
}`

func recencyCatalog(t *testing.T) *levers.Catalog {
	t.Helper()
	c, err := levers.Build(func(b *levers.Builder) {
		b.WithDefaultOrderBy("default")
		b.AddOrderByLever("default", levers.OrderByOptions{
			Label:   "score desc",
			SortKey: func(s *feed.Scored) float64 { return s.RelevancyScore },
		})
		b.AddRelevancyLever("recency", levers.RelevancyOptions{
			Input: func(it *feed.Item, env feed.Env, _ map[string]int) (float64, bool) {
				return env.DaysSince(it.PublishedAt)
			},
		})
		b.AddRelevancyLever("reactions", levers.RelevancyOptions{
			Input: func(it *feed.Item, _ feed.Env, _ map[string]int) (float64, bool) {
				return float64(it.PublicReactionsCount), true
			},
		})
	})
	require.NoError(t, err)
	return c
}

// countingStore counts Load calls per name.
type countingStore struct {
	mu    sync.Mutex
	docs  map[string]string
	loads map[string]int
	total atomic.Int64
}

func newCountingStore(docs map[string]string) *countingStore {
	return &countingStore{docs: docs, loads: map[string]int{}}
}

func (s *countingStore) Load(_ context.Context, name string) ([]byte, error) {
	s.total.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads[name]++
	doc, ok := s.docs[name]
	if !ok {
		return nil, ErrUnknownVariant
	}
	return []byte(doc), nil
}

func (s *countingStore) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[name]
}

func TestAssembler_Resolve(t *testing.T) {
	store := newCountingStore(map[string]string{"recency": recencyDefinition})
	a := NewAssembler(recencyCatalog(t), store)

	cfg, err := a.Resolve(context.Background(), "recency")
	require.NoError(t, err)

	assert.Equal(t, "recency", cfg.Name)
	assert.Equal(t, "recency only", cfg.Description)
	assert.Equal(t, 60, cfg.MaxDaysSincePublished)
	assert.False(t, cfg.ReseedRandomizerOnEachRequest)
	assert.Equal(t, "default", cfg.OrderBy.Key())
	require.Len(t, cfg.Levers, 1)
	assert.Equal(t, []levers.Case{{Threshold: 7, Weight: 10}, {Threshold: 30, Weight: 5}}, cfg.Levers[0].Cases())
	assert.Equal(t, 1.0, cfg.Levers[0].Fallback())
}

func TestAssembler_CacheStability(t *testing.T) {
	store := newCountingStore(map[string]string{"recency": recencyDefinition})
	a := NewAssembler(recencyCatalog(t), store)
	ctx := context.Background()

	first, err := a.Resolve(ctx, "recency")
	require.NoError(t, err)
	second, err := a.Resolve(ctx, "recency")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, store.count("recency"))
}

func TestAssembler_ConcurrentResolveLoadsOnce(t *testing.T) {
	store := newCountingStore(map[string]string{"recency": recencyDefinition})
	a := NewAssembler(recencyCatalog(t), store)

	var wg sync.WaitGroup
	results := make([]*Config, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg, err := a.Resolve(context.Background(), "recency")
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			results[i] = cfg
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.count("recency"))
	for _, cfg := range results {
		assert.Same(t, results[0], cfg)
	}
}

// blockingStore holds every Load until release is closed, and gives up
// when the load's own context is cancelled.
type blockingStore struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	loads   atomic.Int64
}

func (s *blockingStore) Load(ctx context.Context, name string) ([]byte, error) {
	s.loads.Add(1)
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return []byte(recencyDefinition), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestAssembler_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	store := &blockingStore{started: make(chan struct{}), release: make(chan struct{})}
	a := NewAssembler(recencyCatalog(t), store)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := a.Resolve(ctx, "recency")
		firstErr <- err
	}()

	<-store.started
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	// the load is still in flight, so this caller joins it
	second := make(chan error, 1)
	var cfg *Config
	go func() {
		var err error
		cfg, err = a.Resolve(context.Background(), "recency")
		second <- err
	}()
	close(store.release)

	require.NoError(t, <-second)
	assert.Equal(t, "recency", cfg.Name)
	assert.Equal(t, int64(1), store.loads.Load())
}

func TestAssembler_VersionKeysCache(t *testing.T) {
	store := newCountingStore(map[string]string{"recency": recencyDefinition})
	catalog := recencyCatalog(t)
	ctx := context.Background()

	v1, err := NewAssembler(catalog, store, WithVersion("v1")).Resolve(ctx, "recency")
	require.NoError(t, err)
	v2, err := NewAssembler(catalog, store, WithVersion("v2")).Resolve(ctx, "recency")
	require.NoError(t, err)

	assert.NotSame(t, v1, v2)
	assert.Equal(t, 2, store.count("recency"))
}

func TestAssembler_HistoricalNames(t *testing.T) {
	store := newCountingStore(map[string]string{"recency": recencyDefinition})
	a := NewAssembler(recencyCatalog(t), store, WithRenames(map[string]string{"old-recency": "recency"}))
	ctx := context.Background()

	old, err := a.Resolve(ctx, "old-recency")
	require.NoError(t, err)
	current, err := a.Resolve(ctx, "recency")
	require.NoError(t, err)

	assert.Same(t, old, current)
	assert.Equal(t, "recency", old.Name)
	assert.Equal(t, 0, store.count("old-recency"))
}

func TestAssembler_FailuresAreNotCached(t *testing.T) {
	store := newCountingStore(map[string]string{})
	a := NewAssembler(recencyCatalog(t), store)
	ctx := context.Background()

	_, err := a.Resolve(ctx, "recency")
	assert.ErrorIs(t, err, ErrUnknownVariant)

	store.mu.Lock()
	store.docs["recency"] = recencyDefinition
	store.mu.Unlock()

	_, err = a.Resolve(ctx, "recency")
	assert.NoError(t, err)
	assert.Equal(t, 2, store.count("recency"))
}

func TestAssemble_MissingKeys(t *testing.T) {
	catalog := recencyCatalog(t)

	tests := []struct {
		name string
		doc  string
		key  string
	}{
		{"description", `{"levers": {}, "max_days_since_published": 1, "reseed_randomizer_on_each_request": true}`, "description"},
		{"levers", `{"description": "", "max_days_since_published": 1, "reseed_randomizer_on_each_request": true}`, "levers"},
		{"max days", `{"description": "", "levers": {}, "reseed_randomizer_on_each_request": true}`, "max_days_since_published"},
		{"reseed", `{"description": "", "levers": {}, "max_days_since_published": 1}`, "reseed_randomizer_on_each_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(catalog, "broken", []byte(tt.doc))

			var missing *MissingKeyError
			require.True(t, errors.As(err, &missing), "got %v", err)
			assert.Equal(t, tt.key, missing.Key)
			assert.Equal(t, "broken", missing.Variant)
			assert.ErrorIs(t, err, levers.ErrInvalidConfiguration)
		})
	}
}

func TestAssemble_OrderByDefaultsWhenAbsent(t *testing.T) {
	cfg, err := Assemble(recencyCatalog(t), "plain", []byte(
		`{"description": "", "levers": {}, "max_days_since_published": 0, "reseed_randomizer_on_each_request": false}`))

	require.NoError(t, err)
	assert.Equal(t, "default", cfg.OrderBy.Key())
	assert.Empty(t, cfg.Levers)
}

func TestAssemble_PreservesLeverOrder(t *testing.T) {
	cfg, err := Assemble(recencyCatalog(t), "ordered", []byte(`{
		"description": "",
		"levers": {
			"reactions": {"cases": [[0, 0]], "fallback": 1},
			"recency": {"cases": [[7, 10]], "fallback": 1}
		},
		"max_days_since_published": 0,
		"reseed_randomizer_on_each_request": false
	}`))
	require.NoError(t, err)

	require.Len(t, cfg.Levers, 2)
	assert.Equal(t, "reactions", cfg.Levers[0].Key())
	assert.Equal(t, "recency", cfg.Levers[1].Key())
}

func TestAssemble_LeverErrors(t *testing.T) {
	catalog := recencyCatalog(t)
	wrap := func(levers string) []byte {
		return []byte(`{"description": "", "levers": ` + levers +
			`, "max_days_since_published": 0, "reseed_randomizer_on_each_request": false}`)
	}

	_, err := Assemble(catalog, "v", wrap(`{"unknown": {"cases": [], "fallback": 0}}`))
	assert.ErrorIs(t, err, levers.ErrLeverNotFound)

	_, err = Assemble(catalog, "v", wrap(`{"recency": {"cases": [[1, 2]]}}`))
	var fbErr *levers.InvalidFallbackError
	assert.True(t, errors.As(err, &fbErr))

	_, err = Assemble(catalog, "v", wrap(`{"recency": {"cases": [[1]], "fallback": 0}}`))
	var casesErr *levers.InvalidCasesError
	assert.True(t, errors.As(err, &casesErr))

	_, err = Assemble(catalog, "v", []byte(`{"description": "", "levers": {}, "order_by": "nope",
		"max_days_since_published": 0, "reseed_randomizer_on_each_request": false}`))
	assert.ErrorIs(t, err, levers.ErrOrderByNotFound)

	_, err = Assemble(catalog, "v", []byte(`not json`))
	assert.Error(t, err)
}

func TestAssembler_PreloadReportsEveryFailure(t *testing.T) {
	store := newCountingStore(map[string]string{"recency": recencyDefinition})
	a := NewAssembler(recencyCatalog(t), store)

	err := a.Preload(context.Background(), "recency", "missing-a", "missing-b")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVariant)
	assert.Contains(t, err.Error(), "missing-a")
	assert.Contains(t, err.Error(), "missing-b")
}

func TestBuiltinDefinitionsAssemble(t *testing.T) {
	a := NewAssembler(levers.Default(), Builtin())
	ctx := context.Background()

	names, err := a.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"20220422-variant", "default", "original"}, names)

	require.NoError(t, a.Preload(ctx, names...))

	old, err := a.Resolve(ctx, "2022-04-22-variant")
	require.NoError(t, err)
	assert.Equal(t, "20220422-variant", old.Name)
	assert.True(t, old.ReseedRandomizerOnEachRequest)
	assert.Equal(t, "final_order_by_random_weighted_to_score", old.OrderBy.Key())

	view := old.View()
	assert.Equal(t, "20220422-variant", view.Name)
	assert.Equal(t, len(old.Levers), len(view.Levers))
	assert.Equal(t, "daily_decay", view.Levers[0].Key)
}

func TestFileStore(t *testing.T) {
	fsys := fstest.MapFS{
		"recency.json": {Data: []byte(recencyDefinition)},
		"notes.txt":    {Data: []byte("ignored")},
	}
	s := NewFileStore(fsys)
	ctx := context.Background()

	data, err := s.Load(ctx, "recency")
	require.NoError(t, err)
	assert.JSONEq(t, recencyDefinition, string(data))

	for _, name := range []string{"missing", "", "../recency", "a/b"} {
		_, err := s.Load(ctx, name)
		assert.ErrorIs(t, err, ErrUnknownVariant, "name %q", name)
	}

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"recency"}, names)
}
