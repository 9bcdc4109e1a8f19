package levers

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/headline-goat/feed-goat/internal/feed"
)

// InputFunc resolves a lever's raw value for one item. The bool is false when
// the value is unknown for this item; the configured fallback applies then.
type InputFunc func(it *feed.Item, env feed.Env, params map[string]int) (float64, bool)

// SortKeyFunc extracts the value an order-by lever sorts on, descending.
type SortKeyFunc func(s *feed.Scored) float64

// RelevancyLever is a registered scoring primitive. It is not usable for
// scoring until configured with cases and a fallback.
type RelevancyLever struct {
	key                 string
	label               string
	rangeDesc           string
	userRequired        bool
	input               InputFunc
	queryParameterNames []string
}

func (l *RelevancyLever) Key() string { return l.key }
func (l *RelevancyLever) Label() string { return l.label }
func (l *RelevancyLever) Range() string { return l.rangeDesc }
func (l *RelevancyLever) UserRequired() bool { return l.userRequired }
func (l *RelevancyLever) Input() InputFunc { return l.input }

// QueryParameterNames lists the parameters ConfigureWith requires.
func (l *RelevancyLever) QueryParameterNames() []string {
	return append([]string(nil), l.queryParameterNames...)
}

// Case is one step of a configured lever: inputs at or below Threshold weigh Weight.
type Case struct {
	Threshold float64 `json:"threshold"`
	Weight    float64 `json:"weight"`
}

// ConfiguredLever is a relevancy lever bound to concrete cases, fallback and
// query parameters.
type ConfiguredLever struct {
	*RelevancyLever
	cases           []Case
	fallback        float64
	queryParameters map[string]int
}

// ConfigureWith validates cases, fallback and params (decoded JSON values or
// native Go numbers) and returns the configured lever.
//
// Cases are kept sorted ascending by threshold; Weigh picks the first case
// whose threshold is greater than or equal to the raw value.
func (l *RelevancyLever) ConfigureWith(cases any, fallback any, params map[string]any) (*ConfiguredLever, error) {
	fb, ok := toFloat(fallback)
	if !ok {
		return nil, &InvalidFallbackError{Key: l.key, Fallback: fallback}
	}

	parsed, ok := parseCases(cases)
	if !ok {
		return nil, &InvalidCasesError{Key: l.key, Cases: cases}
	}
	sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].Threshold < parsed[j].Threshold })

	qp := make(map[string]int, len(l.queryParameterNames))
	for _, name := range l.queryParameterNames {
		raw, present := params[name]
		v, ok := toInt(raw)
		if !present || !ok {
			return nil, &InvalidQueryParametersError{
				Key:      l.key,
				Expected: l.QueryParameterNames(),
				Given:    givenNames(params),
			}
		}
		qp[name] = v
	}

	return &ConfiguredLever{
		RelevancyLever:  l,
		cases:           parsed,
		fallback:        fb,
		queryParameters: qp,
	}, nil
}

// Cases returns a copy of the step table.
func (c *ConfiguredLever) Cases() []Case { return append([]Case(nil), c.cases...) }

func (c *ConfiguredLever) Fallback() float64 { return c.fallback }

// QueryParameters returns a copy of the resolved parameters.
func (c *ConfiguredLever) QueryParameters() map[string]int {
	out := make(map[string]int, len(c.queryParameters))
	for k, v := range c.queryParameters {
		out[k] = v
	}
	return out
}

// Weigh applies the step function to a raw value.
func (c *ConfiguredLever) Weigh(raw float64, ok bool) float64 {
	if !ok || math.IsNaN(raw) {
		return c.fallback
	}
	for _, cs := range c.cases {
		if raw <= cs.Threshold {
			return cs.Weight
		}
	}
	return c.fallback
}

// Evaluate resolves the item's raw input and weighs it.
func (c *ConfiguredLever) Evaluate(it *feed.Item, env feed.Env) float64 {
	raw, ok := c.input(it, env, c.queryParameters)
	return c.Weigh(raw, ok)
}

// OrderByLever is a registered ordering primitive; items sort descending by
// its key.
type OrderByLever struct {
	key     string
	label   string
	sortKey SortKeyFunc
}

func (o *OrderByLever) Key() string { return o.key }
func (o *OrderByLever) Label() string { return o.label }

// SortKey returns the value s is ordered by.
func (o *OrderByLever) SortKey(s *feed.Scored) float64 { return o.sortKey(s) }

func parseCases(v any) ([]Case, bool) {
	switch cs := v.(type) {
	case []Case:
		return append([]Case{}, cs...), true
	case [][2]float64:
		out := make([]Case, 0, len(cs))
		for _, c := range cs {
			out = append(out, Case{Threshold: c[0], Weight: c[1]})
		}
		return out, true
	case [][]float64:
		out := make([]Case, 0, len(cs))
		for _, c := range cs {
			if len(c) != 2 {
				return nil, false
			}
			out = append(out, Case{Threshold: c[0], Weight: c[1]})
		}
		return out, true
	case []any:
		out := make([]Case, 0, len(cs))
		for _, c := range cs {
			pair, ok := c.([]any)
			if !ok || len(pair) != 2 {
				return nil, false
			}
			t, ok1 := toFloat(pair[0])
			w, ok2 := toFloat(pair[1])
			if !ok1 || !ok2 {
				return nil, false
			}
			out = append(out, Case{Threshold: t, Weight: w})
		}
		return out, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	f, ok := toFloat(v)
	if !ok || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

func givenNames(params map[string]any) []string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
