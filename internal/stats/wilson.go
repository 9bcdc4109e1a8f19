package stats

import "math"

// Interval is a confidence interval for a conversion rate.
type Interval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Counts are the observed participants and conversions of one variant.
type Counts struct {
	Participated int `json:"participated"`
	Converted    int `json:"converted"`
}

// Rate returns Converted/Participated, or false when nobody participated.
func (c Counts) Rate() (float64, bool) {
	if c.Participated == 0 {
		return 0, false
	}
	return float64(c.Converted) / float64(c.Participated), true
}

// Wilson returns the Wilson score interval for c at the given confidence.
func (c Counts) Wilson(confidence float64) Interval {
	lower, upper := WilsonInterval(c.Converted, c.Participated, confidence)
	return Interval{Lower: lower, Upper: upper}
}

// WilsonInterval calculates the Wilson score confidence interval
// for a binomial proportion. It's more accurate for small samples
// than the normal approximation.
func WilsonInterval(successes, trials int, confidence float64) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	z := ZScore(confidence)
	p := float64(successes) / float64(trials)
	n := float64(trials)

	denominator := 1 + z*z/n
	center := (p + z*z/(2*n)) / denominator
	spread := (z / denominator) * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))

	return math.Max(0, center-spread), math.Min(1, center+spread)
}

// ZScore returns the two-sided critical value for a confidence level:
// 0.90 -> 1.645, 0.95 -> 1.96, 0.99 -> 2.576.
func ZScore(confidence float64) float64 {
	switch confidence {
	case 0.90:
		return 1.645
	case 0.95:
		return 1.96
	case 0.99:
		return 2.576
	}
	if confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		return math.Inf(1)
	}
	return math.Sqrt2 * math.Erfinv(confidence)
}
