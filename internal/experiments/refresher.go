package experiments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Refresher recomputes every experiment's results on an interval so the win
// probability cache is warm before anyone asks for them.
type Refresher struct {
	registry *Registry
	interval time.Duration
}

func NewRefresher(r *Registry, interval time.Duration) *Refresher {
	return &Refresher{registry: r, interval: interval}
}

// RefreshOnce computes the results of every experiment and goal, including
// win probabilities Results would otherwise serve stale.
func (f *Refresher) RefreshOnce(ctx context.Context) error {
	var errs []error
	for _, e := range f.registry.List() {
		for _, goal := range e.Goals {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := e.results(ctx, goal, true); err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", e.ID, goal, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Run refreshes immediately and then on every tick until ctx is done.
func (f *Refresher) Run(ctx context.Context) {
	if f.interval <= 0 {
		return
	}
	logger := f.registry.deps.logger

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		if err := f.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Results refresh failed", zap.Error(err))
		} else if err == nil {
			logger.Debug("Refreshed experiment results", zap.Duration("took", time.Since(start)))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
