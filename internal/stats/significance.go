package stats

import "math"

// SignificanceTest performs a two-proportion z-test.
// Returns confidence level (0-1) that variant A beats variant B.
func SignificanceTest(a, b Counts) float64 {
	// Need data from both variants
	if a.Participated == 0 || b.Participated == 0 {
		return 0.5
	}

	pA := float64(a.Converted) / float64(a.Participated)
	pB := float64(b.Converted) / float64(b.Participated)

	// Pooled proportion under null hypothesis (pA = pB)
	pooled := float64(a.Converted+b.Converted) / float64(a.Participated+b.Participated)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(a.Participated) + 1/float64(b.Participated)))

	if se == 0 {
		switch {
		case pA > pB:
			return 1.0
		case pA < pB:
			return 0.0
		}
		return 0.5
	}

	return normalCDF((pA - pB) / se)
}

// ConfidenceVsControl returns, for every variant after the first, the
// z-test confidence that it beats the control. The control's entry is 0.5.
func ConfidenceVsControl(counts []Counts) []float64 {
	out := make([]float64, len(counts))
	if len(counts) == 0 {
		return out
	}
	out[0] = 0.5
	for i := 1; i < len(counts); i++ {
		out[i] = SignificanceTest(counts[i], counts[0])
	}
	return out
}

// normalCDF is the cumulative distribution function of the standard normal
// distribution.
func normalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
