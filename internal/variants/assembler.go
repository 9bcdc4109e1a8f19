// Package variants assembles named ranking recipes from JSON definitions and
// the lever catalog.
package variants

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/headline-goat/feed-goat/internal/levers"
	"github.com/headline-goat/feed-goat/internal/logging"
	"github.com/headline-goat/feed-goat/internal/metrics"
)

// HistoricalNames maps retired variant names to their current name.
var HistoricalNames = map[string]string{
	"2022-04-22-variant":      "20220422-variant",
	"20220422-jennie-variant": "20220422-variant",
	"20220415-variant":        "original",
}

// Assembler resolves variant names into Configs. Each variant is assembled
// at most once per deploy version; resolved configs are cached for the life
// of the Assembler.
type Assembler struct {
	catalog *levers.Catalog
	store   DefinitionStore
	version string
	renames map[string]string
	logger  *zap.Logger
	metrics *metrics.Metrics

	cache sync.Map // cacheKey -> *Config
	group singleflight.Group
}

type Option func(*Assembler)

// WithVersion sets the deploy version the cache is keyed by.
func WithVersion(v string) Option { return func(a *Assembler) { a.version = v } }

func WithLogger(l *zap.Logger) Option { return func(a *Assembler) { a.logger = logging.OrNop(l) } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *Assembler) { a.metrics = m } }

// WithRenames replaces HistoricalNames.
func WithRenames(renames map[string]string) Option {
	return func(a *Assembler) { a.renames = renames }
}

func NewAssembler(catalog *levers.Catalog, store DefinitionStore, opts ...Option) *Assembler {
	a := &Assembler{
		catalog: catalog,
		store:   store,
		renames: HistoricalNames,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Assembler) Catalog() *levers.Catalog { return a.catalog }

func (a *Assembler) Version() string { return a.version }

// Canonical translates a retired variant name to its current name.
func (a *Assembler) Canonical(name string) string {
	if current, ok := a.renames[name]; ok {
		return current
	}
	return name
}

func (a *Assembler) cacheKey(name string) string {
	return a.version + "/" + name
}

// Resolve returns the Config for name, assembling and caching it on first use.
// Failed assemblies are not cached.
func (a *Assembler) Resolve(ctx context.Context, name string) (*Config, error) {
	name = a.Canonical(name)
	key := a.cacheKey(name)

	if cfg, ok := a.cache.Load(key); ok {
		a.metrics.VariantCache(true)
		return cfg.(*Config), nil
	}

	// the load is shared by every waiter, so one caller's cancellation
	// must not fail the others
	loadCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (any, error) {
		if cfg, ok := a.cache.Load(key); ok {
			return cfg, nil
		}
		a.metrics.VariantCache(false)

		raw, err := a.store.Load(loadCtx, name)
		if err != nil {
			return nil, err
		}
		cfg, err := Assemble(a.catalog, name, raw)
		if err != nil {
			return nil, err
		}

		a.cache.Store(key, cfg)
		a.logger.Info("variant assembled",
			zap.String("variant", name),
			zap.String("version", a.version),
			zap.Int("levers", len(cfg.Levers)),
			zap.String("order_by", cfg.OrderBy.Key()),
		)
		return cfg, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Config), nil
	}
}

// Preload resolves each name, reporting every failure.
func (a *Assembler) Preload(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		if _, err := a.Resolve(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("preload %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Names lists the variants the definition store knows about, if it can list.
func (a *Assembler) Names(ctx context.Context) ([]string, error) {
	if l, ok := a.store.(Lister); ok {
		return l.Names(ctx)
	}
	return nil, nil
}

type definition struct {
	Description *string                                          `json:"description"`
	Levers      *orderedmap.OrderedMap[string, json.RawMessage] `json:"levers"`
	OrderBy     *string                                          `json:"order_by"`
	MaxDays     *int                                             `json:"max_days_since_published"`
	Reseed      *bool                                            `json:"reseed_randomizer_on_each_request"`
}

// Assemble builds the Config described by raw. Levers keep the order they
// appear in the document; a missing order_by selects the catalog default.
func Assemble(catalog *levers.Catalog, name string, raw []byte) (*Config, error) {
	var def definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("variant %q: decode definition: %w", name, err)
	}

	switch {
	case def.Description == nil:
		return nil, &MissingKeyError{Variant: name, Key: "description"}
	case def.Levers == nil:
		return nil, &MissingKeyError{Variant: name, Key: "levers"}
	case def.MaxDays == nil:
		return nil, &MissingKeyError{Variant: name, Key: "max_days_since_published"}
	case def.Reseed == nil:
		return nil, &MissingKeyError{Variant: name, Key: "reseed_randomizer_on_each_request"}
	}

	cfg := &Config{
		Name:                          name,
		Description:                   *def.Description,
		Levers:                        make([]*levers.ConfiguredLever, 0, def.Levers.Len()),
		MaxDaysSincePublished:         *def.MaxDays,
		ReseedRandomizerOnEachRequest: *def.Reseed,
	}

	for pair := def.Levers.Oldest(); pair != nil; pair = pair.Next() {
		cl, err := configureLever(catalog, pair.Key, pair.Value)
		if err != nil {
			return nil, fmt.Errorf("variant %q: %w", name, err)
		}
		cfg.Levers = append(cfg.Levers, cl)
	}

	orderBy := ""
	if def.OrderBy != nil {
		orderBy = *def.OrderBy
	}
	ob, err := catalog.FetchOrderBy(orderBy)
	if err != nil {
		return nil, fmt.Errorf("variant %q: %w", name, err)
	}
	cfg.OrderBy = ob

	return cfg, nil
}

// configureLever decodes one lever entry. Every key other than cases and
// fallback is offered to the lever as a query parameter.
func configureLever(catalog *levers.Catalog, key string, raw json.RawMessage) (*levers.ConfiguredLever, error) {
	tmpl, err := catalog.FetchLever(key)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var entry map[string]any
	if err := dec.Decode(&entry); err != nil {
		return nil, fmt.Errorf("lever %q: decode: %w", key, err)
	}

	params := make(map[string]any, len(entry))
	for k, v := range entry {
		if k != "cases" && k != "fallback" {
			params[k] = v
		}
	}
	return tmpl.ConfigureWith(entry["cases"], entry["fallback"], params)
}
