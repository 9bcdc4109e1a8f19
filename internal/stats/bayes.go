package stats

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/headline-goat/feed-goat/internal/metrics"
)

// MaxBayesVariants is the largest experiment WinProbabilities handles.
const MaxBayesVariants = 3

// defaultCacheEntries bounds WinProbabilityCache before it starts over.
const defaultCacheEntries = 4096

// WinProbabilities returns, per variant, the posterior probability that its
// conversion rate is the highest. Each rate is Beta(1+converted,
// 1+participated-converted). It returns false for more than
// MaxBayesVariants variants.
func WinProbabilities(counts []Counts) ([]float64, bool) {
	switch len(counts) {
	case 0:
		return nil, true
	case 1:
		return []float64{1}, true
	case 2:
		a, b := posterior(counts[0]), posterior(counts[1])
		// the sum runs over the second argument's alpha
		if a.alpha < b.alpha {
			pa := clamp01(probBBeatsA(b, a))
			return []float64{pa, 1 - pa}, true
		}
		pb := clamp01(probBBeatsA(a, b))
		return []float64{1 - pb, pb}, true
	case 3:
		post := []beta{posterior(counts[0]), posterior(counts[1]), posterior(counts[2])}
		skip := costliestTarget(post)
		probs := make([]float64, 3)
		rest := 1.0
		for k := range post {
			if k == skip {
				continue
			}
			x, y := others(k)
			probs[k] = clamp01(probCBeatsAAndB(post[x], post[y], post[k]))
			rest -= probs[k]
		}
		probs[skip] = clamp01(rest)
		return probs, true
	}
	return nil, false
}

// WinProbabilityCost is the number of terms WinProbabilities sums for
// counts, or 0 when it does not apply.
func WinProbabilityCost(counts []Counts) int {
	switch len(counts) {
	case 2:
		return int(min(posterior(counts[0]).alpha, posterior(counts[1]).alpha))
	case 3:
		post := []beta{posterior(counts[0]), posterior(counts[1]), posterior(counts[2])}
		skip := costliestTarget(post)
		total := 0
		for k := range post {
			if k == skip {
				continue
			}
			x, y := others(k)
			total += targetCost(post, x, y)
		}
		return total
	}
	return 0
}

func others(k int) (int, int) {
	switch k {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	}
	return 0, 1
}

// targetCost is the double sum size of probCBeatsAAndB over x and y, plus
// its two pairwise terms.
func targetCost(post []beta, x, y int) int {
	ax, ay := int(post[x].alpha), int(post[y].alpha)
	return ax*ay + ax + ay
}

// costliestTarget is the variant whose probability is derived from the
// other two instead of summed.
func costliestTarget(post []beta) int {
	skip, worst := 0, -1
	for k := range post {
		x, y := others(k)
		if c := targetCost(post, x, y); c > worst {
			skip, worst = k, c
		}
	}
	return skip
}

type beta struct {
	alpha, beta float64
}

func posterior(c Counts) beta {
	conv := max(0, min(c.Converted, c.Participated))
	return beta{alpha: float64(1 + conv), beta: float64(1 + c.Participated - conv)}
}

func lbeta(a, b float64) float64 {
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	return la + lb - lab
}

// probBBeatsA is P(pB > pA) for independent Beta posteriors.
func probBBeatsA(a, b beta) float64 {
	var total float64
	for i := 0; i < int(b.alpha); i++ {
		fi := float64(i)
		total += math.Exp(lbeta(a.alpha+fi, b.beta+a.beta) -
			math.Log(b.beta+fi) - lbeta(1+fi, b.beta) - lbeta(a.alpha, a.beta))
	}
	return total
}

// probCBeatsAAndB is P(pC > pA and pC > pB).
func probCBeatsAAndB(a, b, c beta) float64 {
	var total float64
	for i := 0; i < int(a.alpha); i++ {
		fi := float64(i)
		for j := 0; j < int(b.alpha); j++ {
			fj := float64(j)
			total += math.Exp(lbeta(c.alpha+fi+fj, a.beta+b.beta+c.beta) -
				math.Log(a.beta+fi) - math.Log(b.beta+fj) -
				lbeta(1+fi, a.beta) - lbeta(1+fj, b.beta) - lbeta(c.alpha, c.beta))
		}
	}
	return 1 - probBBeatsA(c, a) - probBBeatsA(c, b) + total
}

func clamp01(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(1, p))
}

// WinProbabilityCache memoizes WinProbabilities on the multiset of counts,
// so the same numbers in a different variant order share one computation.
// Concurrent misses for the same key compute once.
type WinProbabilityCache struct {
	mu         sync.RWMutex
	entries    map[string][]float64
	maxEntries int
	group      singleflight.Group
	metrics    *metrics.Metrics
}

func NewWinProbabilityCache(m *metrics.Metrics) *WinProbabilityCache {
	return &WinProbabilityCache{
		entries:    make(map[string][]float64),
		maxEntries: defaultCacheEntries,
		metrics:    m,
	}
}

// Lookup returns cached win probabilities for counts without computing
// them.
func (c *WinProbabilityCache) Lookup(counts []Counts) ([]float64, bool) {
	if len(counts) > MaxBayesVariants {
		return nil, false
	}
	order, canonical := canonicalize(counts)

	c.mu.RLock()
	probs, ok := c.entries[cacheKey(canonical)]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return reorder(probs, order), true
}

// Get returns the win probabilities for counts in the order given.
func (c *WinProbabilityCache) Get(counts []Counts) ([]float64, bool) {
	if len(counts) > MaxBayesVariants {
		return nil, false
	}
	order, canonical := canonicalize(counts)
	key := cacheKey(canonical)

	c.mu.RLock()
	probs, ok := c.entries[key]
	c.mu.RUnlock()
	c.metrics.WinProbabilityCache(ok)

	if !ok {
		v, _, _ := c.group.Do(key, func() (any, error) {
			c.mu.RLock()
			cached, hit := c.entries[key]
			c.mu.RUnlock()
			if hit {
				return cached, nil
			}
			computed, _ := WinProbabilities(canonical)
			c.mu.Lock()
			if len(c.entries) >= c.maxEntries {
				c.entries = make(map[string][]float64)
			}
			c.entries[key] = computed
			c.mu.Unlock()
			return computed, nil
		})
		probs = v.([]float64)
	}
	return reorder(probs, order), true
}

// canonicalize sorts counts so the same numbers in any variant order share
// a cache key. order[pos] is the caller's index of canonical[pos].
func canonicalize(counts []Counts) ([]int, []Counts) {
	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		a, b := counts[order[x]], counts[order[y]]
		if a.Participated != b.Participated {
			return a.Participated < b.Participated
		}
		return a.Converted < b.Converted
	})
	canonical := make([]Counts, len(counts))
	for pos, i := range order {
		canonical[pos] = counts[i]
	}
	return order, canonical
}

func reorder(probs []float64, order []int) []float64 {
	out := make([]float64, len(order))
	for pos, i := range order {
		out[i] = probs[pos]
	}
	return out
}

// Len reports the number of cached entries.
func (c *WinProbabilityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cacheKey(counts []Counts) string {
	var b strings.Builder
	for i, c := range counts {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(c.Participated))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(c.Converted))
	}
	return b.String()
}
