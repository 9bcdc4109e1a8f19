package stats_test

import (
	"math"
	"testing"

	"github.com/headline-goat/feed-goat/internal/stats"
)

func TestCounts_Wilson(t *testing.T) {
	tests := []struct {
		name         string
		counts       stats.Counts
		lower, upper [2]float64
	}{
		{"half converted", stats.Counts{Participated: 100, Converted: 50}, [2]float64{0.38, 0.42}, [2]float64{0.58, 0.62}},
		{"rare conversions", stats.Counts{Participated: 100, Converted: 5}, [2]float64{0.01, 0.03}, [2]float64{0.09, 0.13}},
		{"nobody converted", stats.Counts{Participated: 100}, [2]float64{0, 0}, [2]float64{0.01, 0.05}},
		{"everybody converted", stats.Counts{Participated: 100, Converted: 100}, [2]float64{0.95, 0.99}, [2]float64{0.99, 1}},
		{"no participants", stats.Counts{}, [2]float64{0, 0}, [2]float64{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv := tt.counts.Wilson(0.95)
			if iv.Lower < tt.lower[0] || iv.Lower > tt.lower[1] {
				t.Errorf("lower bound %f not in [%f, %f]", iv.Lower, tt.lower[0], tt.lower[1])
			}
			if iv.Upper < tt.upper[0] || iv.Upper > tt.upper[1] {
				t.Errorf("upper bound %f not in [%f, %f]", iv.Upper, tt.upper[0], tt.upper[1])
			}
		})
	}
}

func TestWilsonInterval_NarrowsWithSampleSize(t *testing.T) {
	small := stats.Counts{Participated: 20, Converted: 4}.Wilson(0.95)
	large := stats.Counts{Participated: 2000, Converted: 400}.Wilson(0.95)

	if large.Upper-large.Lower >= small.Upper-small.Lower {
		t.Errorf("expected a narrower interval for more participants: small %+v, large %+v", small, large)
	}
}

func TestCounts_RateAndWilson(t *testing.T) {
	c := stats.Counts{Participated: 100, Converted: 50}

	rate, ok := c.Rate()
	if !ok || rate != 0.5 {
		t.Errorf("Rate() = (%f, %v), want (0.5, true)", rate, ok)
	}
	iv := c.Wilson(0.95)
	if iv.Lower >= rate || iv.Upper <= rate {
		t.Errorf("interval [%f, %f] does not contain %f", iv.Lower, iv.Upper, rate)
	}

	if _, ok := (stats.Counts{}).Rate(); ok {
		t.Error("expected no rate for zero participants")
	}
}

func TestZScore(t *testing.T) {
	tests := []struct {
		confidence float64
		expected   float64
		tolerance  float64
	}{
		{0.80, 1.2816, 0.001},
		{0.90, 1.645, 0.01},
		{0.95, 1.96, 0.01},
		{0.98, 2.3263, 0.001},
		{0.99, 2.576, 0.01},
	}

	for _, tt := range tests {
		z := stats.ZScore(tt.confidence)
		if math.Abs(z-tt.expected) > tt.tolerance {
			t.Errorf("ZScore(%f) = %f, want %f (tolerance %f)", tt.confidence, z, tt.expected, tt.tolerance)
		}
	}
}
