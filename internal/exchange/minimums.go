// Package exchange provides per-pair exchange trading minimums to the decision
// pipeline from a freshness-checked cache.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"multipair-engine/internal/domain"
)

// Minimum lookup errors.
var (
	// ErrMinimumUnavailable is returned when the cache holds no minimum for a pair.
	ErrMinimumUnavailable = errors.New("exchange minimum unavailable")

	// ErrMinimumStale is returned when the cached minimum is older than the staleness bound.
	ErrMinimumStale = errors.New("exchange minimum stale")

	// ErrMinimumsUnavailable is returned by providers that cannot supply data for
	// some requested pairs. No defaults are substituted.
	ErrMinimumsUnavailable = errors.New("exchange minimums unavailable")
)

// Provider loads exchange minimums from an external source.
type Provider interface {
	LoadMinimums(ctx context.Context, pairs []string) (map[string]domain.ExchangeMinimum, error)
}

// StaticProvider serves minimums from configuration.
type StaticProvider struct {
	minimums map[string]domain.ExchangeMinimum
	now      func() time.Time
}

// NewStaticProvider creates a provider over fixed minimums. A nil clock uses time.Now.
func NewStaticProvider(minimums []domain.ExchangeMinimum, now func() time.Time) *StaticProvider {
	if now == nil {
		now = time.Now
	}
	byPair := make(map[string]domain.ExchangeMinimum, len(minimums))
	for _, m := range minimums {
		byPair[m.Pair] = m
	}
	return &StaticProvider{minimums: byPair, now: now}
}

// LoadMinimums returns minimums for pairs stamped with the current time.
// Missing pairs fail the whole load.
func (p *StaticProvider) LoadMinimums(ctx context.Context, pairs []string) (map[string]domain.ExchangeMinimum, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := p.now()
	result := make(map[string]domain.ExchangeMinimum, len(pairs))
	var missing []string
	for _, pair := range pairs {
		m, ok := p.minimums[pair]
		if !ok {
			missing = append(missing, pair)
			continue
		}
		m.FetchedAt = now
		result[pair] = m
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMinimumsUnavailable, strings.Join(missing, ", "))
	}
	return result, nil
}

// Cache holds the latest minimums and enforces a staleness bound on reads.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]domain.ExchangeMinimum
	staleness time.Duration
	now       func() time.Time
}

// NewCache creates a cache. A zero staleness disables the freshness check.
func NewCache(staleness time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries:   make(map[string]domain.ExchangeMinimum),
		staleness: staleness,
		now:       now,
	}
}

// Set stores one minimum.
func (c *Cache) Set(m domain.ExchangeMinimum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[m.Pair] = m
}

// SetAll stores a batch of minimums.
func (c *Cache) SetAll(minimums map[string]domain.ExchangeMinimum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pair, m := range minimums {
		m.Pair = pair
		c.entries[pair] = m
	}
}

// Get returns the fresh minimum for pair.
func (c *Cache) Get(pair string) (domain.ExchangeMinimum, error) {
	c.mu.RLock()
	m, ok := c.entries[pair]
	c.mu.RUnlock()

	if !ok {
		return domain.ExchangeMinimum{}, fmt.Errorf("%w: %s", ErrMinimumUnavailable, pair)
	}
	if c.staleness > 0 {
		if age := c.now().Sub(m.FetchedAt); age > c.staleness {
			return domain.ExchangeMinimum{}, fmt.Errorf("%w: %s fetched %s ago (bound %s)", ErrMinimumStale, pair, age, c.staleness)
		}
	}
	return m, nil
}

// Len returns the number of cached pairs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
