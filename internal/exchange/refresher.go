package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"multipair-engine/internal/observability"
)

// Refresher periodically reloads minimums from a Provider into a Cache.
type Refresher struct {
	provider Provider
	cache    *Cache
	pairs    []string
	interval time.Duration
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
}

// RefresherOptions contains configuration for creating a Refresher.
type RefresherOptions struct {
	Provider Provider
	Cache    *Cache
	Pairs    []string
	Interval time.Duration // Default: 1h
	Logger   logrus.FieldLogger
	Metrics  *observability.Metrics
}

// NewRefresher creates a new minimum refresher.
func NewRefresher(opts RefresherOptions) *Refresher {
	interval := opts.Interval
	if interval == 0 {
		interval = time.Hour
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Refresher{
		provider: opts.Provider,
		cache:    opts.Cache,
		pairs:    opts.Pairs,
		interval: interval,
		logger:   logger.WithField("component", "exchange_refresher"),
		metrics:  opts.Metrics,
	}
}

// Refresh loads all pairs once. The cache is left untouched on error so that
// stale entries age out through the staleness bound.
func (r *Refresher) Refresh(ctx context.Context) error {
	minimums, err := r.provider.LoadMinimums(ctx, r.pairs)
	if err != nil {
		r.metrics.RecordMinimumRefreshError()
		return fmt.Errorf("load minimums: %w", err)
	}
	r.cache.SetAll(minimums)
	r.logger.WithField("pairs", len(minimums)).Debug("exchange minimums refreshed")
	return nil
}

// Run refreshes immediately, then on every interval until ctx is cancelled.
// Refresh failures are logged, not fatal.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.Refresh(ctx); err != nil {
		r.logger.WithError(err).Warn("initial exchange minimum refresh failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.WithError(err).Warn("exchange minimum refresh failed")
			}
		}
	}
}
