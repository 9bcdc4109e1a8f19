package levers

import (
	"errors"
	"fmt"
)

// DefaultOrderByKey is the order-by lever used when a variant names none.
const DefaultOrderByKey = "relevancy_score_and_publication_date"

// RelevancyOptions describes a relevancy lever being registered.
type RelevancyOptions struct {
	Label               string
	Range               string
	UserRequired        bool
	Input               InputFunc
	QueryParameterNames []string
}

// OrderByOptions describes an order-by lever being registered.
type OrderByOptions struct {
	Label   string
	SortKey SortKeyFunc
}

// Builder collects lever registrations. Problems are recorded as they happen
// and reported together by Build.
type Builder struct {
	relevancy      map[string]*RelevancyLever
	relevancyKeys  []string
	orderBy        map[string]*OrderByLever
	orderByKeys    []string
	defaultOrderBy string
	errs           []error
}

func NewBuilder() *Builder {
	return &Builder{
		relevancy:      make(map[string]*RelevancyLever),
		orderBy:        make(map[string]*OrderByLever),
		defaultOrderBy: DefaultOrderByKey,
	}
}

// AddRelevancyLever registers a scoring lever under key.
func (b *Builder) AddRelevancyLever(key string, opts RelevancyOptions) *Builder {
	if key == "" {
		b.errs = append(b.errs, &ConfigurationError{Reason: "relevancy lever key is empty"})
		return b
	}
	if _, exists := b.relevancy[key]; exists {
		b.errs = append(b.errs, fmt.Errorf("relevancy lever %q: %w", key, ErrDuplicateKey))
		return b
	}
	if opts.Input == nil {
		b.errs = append(b.errs, &ConfigurationError{Reason: fmt.Sprintf("relevancy lever %q has no input", key)})
		return b
	}
	b.relevancy[key] = &RelevancyLever{
		key:                 key,
		label:               opts.Label,
		rangeDesc:           opts.Range,
		userRequired:        opts.UserRequired,
		input:               opts.Input,
		queryParameterNames: append([]string(nil), opts.QueryParameterNames...),
	}
	b.relevancyKeys = append(b.relevancyKeys, key)
	return b
}

// AddOrderByLever registers an ordering lever under key.
func (b *Builder) AddOrderByLever(key string, opts OrderByOptions) *Builder {
	if key == "" {
		b.errs = append(b.errs, &ConfigurationError{Reason: "order by lever key is empty"})
		return b
	}
	if _, exists := b.orderBy[key]; exists {
		b.errs = append(b.errs, fmt.Errorf("order by lever %q: %w", key, ErrDuplicateKey))
		return b
	}
	if opts.SortKey == nil {
		b.errs = append(b.errs, &ConfigurationError{Reason: fmt.Sprintf("order by lever %q has no sort key", key)})
		return b
	}
	b.orderBy[key] = &OrderByLever{key: key, label: opts.Label, sortKey: opts.SortKey}
	b.orderByKeys = append(b.orderByKeys, key)
	return b
}

// WithDefaultOrderBy overrides DefaultOrderByKey for this catalog.
func (b *Builder) WithDefaultOrderBy(key string) *Builder {
	b.defaultOrderBy = key
	return b
}

// Build freezes the registrations into a Catalog.
func (b *Builder) Build() (*Catalog, error) {
	errs := append([]error(nil), b.errs...)
	if _, ok := b.orderBy[b.defaultOrderBy]; !ok {
		errs = append(errs, &ConfigurationError{
			Reason: fmt.Sprintf("expected to register default order by lever %q", b.defaultOrderBy),
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	c := &Catalog{
		relevancy:      make(map[string]*RelevancyLever, len(b.relevancy)),
		relevancyKeys:  append([]string(nil), b.relevancyKeys...),
		orderBy:        make(map[string]*OrderByLever, len(b.orderBy)),
		orderByKeys:    append([]string(nil), b.orderByKeys...),
		defaultOrderBy: b.defaultOrderBy,
	}
	for k, v := range b.relevancy {
		c.relevancy[k] = v
	}
	for k, v := range b.orderBy {
		c.orderBy[k] = v
	}
	return c, nil
}

// Build runs configure against a fresh builder and freezes the result.
func Build(configure func(b *Builder)) (*Catalog, error) {
	b := NewBuilder()
	configure(b)
	return b.Build()
}

// MustBuild is Build for package-level catalogs; it panics on error.
func MustBuild(configure func(b *Builder)) *Catalog {
	c, err := Build(configure)
	if err != nil {
		panic(err)
	}
	return c
}

// Catalog is the frozen set of levers available to variant configurations.
// It is safe for concurrent use.
type Catalog struct {
	relevancy      map[string]*RelevancyLever
	relevancyKeys  []string
	orderBy        map[string]*OrderByLever
	orderByKeys    []string
	defaultOrderBy string
}

// FetchLever returns the relevancy lever registered under key.
func (c *Catalog) FetchLever(key string) (*RelevancyLever, error) {
	l, ok := c.relevancy[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrLeverNotFound, key)
	}
	return l, nil
}

// FetchOrderBy returns the order-by lever registered under key; an empty key
// returns the default.
func (c *Catalog) FetchOrderBy(key string) (*OrderByLever, error) {
	if key == "" {
		key = c.defaultOrderBy
	}
	o, ok := c.orderBy[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrOrderByNotFound, key)
	}
	return o, nil
}

func (c *Catalog) DefaultOrderByKey() string { return c.defaultOrderBy }

// RelevancyLevers lists levers in registration order.
func (c *Catalog) RelevancyLevers() []*RelevancyLever {
	out := make([]*RelevancyLever, 0, len(c.relevancyKeys))
	for _, k := range c.relevancyKeys {
		out = append(out, c.relevancy[k])
	}
	return out
}

// OrderByLevers lists order-by levers in registration order.
func (c *Catalog) OrderByLevers() []*OrderByLever {
	out := make([]*OrderByLever, 0, len(c.orderByKeys))
	for _, k := range c.orderByKeys {
		out = append(out, c.orderBy[k])
	}
	return out
}
