package experiments

import (
	"context"
	"fmt"

	"github.com/headline-goat/feed-goat/internal/stats"
	"github.com/headline-goat/feed-goat/internal/store"
)

// Confidence used for the reported Wilson intervals.
const Confidence = 0.95

// VariantResult is the outcome of one variant. ConversionRate is nil when
// nobody participated. ProbWinning is set for experiments of up to
// stats.MaxBayesVariants variants, ConfidenceVsControl for larger ones.
type VariantResult struct {
	Variant             string         `json:"variant"`
	Participated        int            `json:"participated"`
	Converted           int            `json:"converted"`
	ConversionRate      *float64       `json:"conversion_rate"`
	ProbWinning         *float64       `json:"prob_winning,omitempty"`
	ConfidenceVsControl *float64       `json:"confidence_vs_control,omitempty"`
	Interval            stats.Interval `json:"interval"`
}

// Results is the outcome of an experiment for one goal. StaleProbabilities
// is set when ProbWinning was computed from earlier counts.
type Results struct {
	Experiment         string          `json:"experiment"`
	Goal               string          `json:"goal"`
	Winner             string          `json:"winner,omitempty"`
	StaleProbabilities bool            `json:"stale_probabilities,omitempty"`
	Variants           []VariantResult `json:"variants"`
}

// Results counts participants and conversions per variant within the
// experiment's time window. An empty goal means the first goal.
//
// Win probabilities too costly to compute in the request are served from
// the last computation for the goal, if there is one.
func (e *Experiment) Results(ctx context.Context, goal string) (*Results, error) {
	return e.results(ctx, goal, false)
}

func (e *Experiment) results(ctx context.Context, goal string, fresh bool) (*Results, error) {
	if goal == "" {
		goal = e.Goals[0]
	}
	if !e.HasGoal(goal) {
		return nil, fmt.Errorf("%w %q for experiment %q", ErrUnknownGoal, goal, e.ID)
	}

	rows, err := e.deps.store.CountVariants(ctx, store.CountQuery{
		Experiment: e.ID,
		Goal:       goal,
		UseEvents:  e.UseEvents,
		From:       e.StartedAt,
		To:         e.EndedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count variants: %w", err)
	}

	byVariant := make(map[string]store.VariantCounts, len(rows))
	for _, row := range rows {
		byVariant[row.Variant] = row
	}

	counts := make([]stats.Counts, len(e.Variants))
	out := &Results{
		Experiment: e.ID,
		Goal:       goal,
		Winner:     e.Winner,
		Variants:   make([]VariantResult, len(e.Variants)),
	}
	for i, v := range e.Variants {
		row := byVariant[v]
		c := stats.Counts{Participated: row.Participated, Converted: row.Converted}
		counts[i] = c

		vr := VariantResult{
			Variant:      v,
			Participated: c.Participated,
			Converted:    c.Converted,
			Interval:     c.Wilson(Confidence),
		}
		if rate, ok := c.Rate(); ok {
			vr.ConversionRate = &rate
		}
		out.Variants[i] = vr
	}

	if probs, stale, ok := e.winProbabilities(goal, counts, fresh); ok {
		out.StaleProbabilities = stale
		for i := range probs {
			p := probs[i]
			out.Variants[i].ProbWinning = &p
		}
		return out, nil
	}

	for i, conf := range stats.ConfidenceVsControl(counts) {
		if i == 0 {
			continue
		}
		c := conf
		out.Variants[i].ConfidenceVsControl = &c
	}
	return out, nil
}

func (e *Experiment) winProbabilities(goal string, counts []stats.Counts, fresh bool) ([]float64, bool, bool) {
	if len(counts) > stats.MaxBayesVariants {
		return nil, false, false
	}
	d := e.deps
	key := e.ID + "/" + goal

	if !fresh && stats.WinProbabilityCost(counts) > d.maxInlineCost {
		if probs, ok := d.probs.Lookup(counts); ok {
			return probs, false, true
		}
		d.lastMu.Lock()
		last, ok := d.last[key]
		d.lastMu.Unlock()
		if ok && len(last) == len(counts) {
			return last, true, true
		}
	}

	probs, ok := d.probs.Get(counts)
	if !ok {
		return nil, false, false
	}
	d.lastMu.Lock()
	d.last[key] = probs
	d.lastMu.Unlock()
	return probs, false, true
}
