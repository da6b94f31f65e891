// Package market holds the latest per-pair market snapshots and the websocket
// feed that keeps them current.
package market

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"multipair-engine/internal/domain"
)

// Snapshot lookup errors.
var (
	// ErrSnapshotUnavailable is returned when no snapshot has been received for a pair.
	ErrSnapshotUnavailable = errors.New("market snapshot unavailable")

	// ErrSnapshotStale is returned when the latest snapshot is older than the staleness bound.
	ErrSnapshotStale = errors.New("market snapshot stale")

	// ErrInvalidSnapshot is returned by Update for unusable snapshots.
	ErrInvalidSnapshot = errors.New("invalid market snapshot")
)

// Cache stores the latest snapshot per pair.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[string]domain.MarketSnapshot
	staleness time.Duration
	now       func() time.Time
}

// NewCache creates a cache. A zero staleness disables the freshness check.
func NewCache(staleness time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		snapshots: make(map[string]domain.MarketSnapshot),
		staleness: staleness,
		now:       now,
	}
}

// Update stores a snapshot. Snapshots without a timestamp are stamped with the
// current time; older snapshots never replace newer ones.
func (c *Cache) Update(s domain.MarketSnapshot) error {
	if s.Pair == "" {
		return fmt.Errorf("%w: empty pair", ErrInvalidSnapshot)
	}
	if s.Volatility < 0 || s.Spread < 0 || s.Volume < 0 || s.AverageVolume < 0 {
		return fmt.Errorf("%w: %s has negative fields", ErrInvalidSnapshot, s.Pair)
	}
	if !finite(s.Volatility, s.Spread, s.Volume, s.AverageVolume) ||
		!finitePtr(s.FuturesStrength, s.TemporalBias, s.HistoricalWinRate) {
		return fmt.Errorf("%w: %s has non-finite fields", ErrInvalidSnapshot, s.Pair)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.snapshots[s.Pair]; ok && prev.Timestamp.After(s.Timestamp) {
		return nil
	}
	c.snapshots[s.Pair] = s
	return nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func finitePtr(values ...*float64) bool {
	for _, v := range values {
		if v != nil && !finite(*v) {
			return false
		}
	}
	return true
}

// Get returns the fresh snapshot for pair.
func (c *Cache) Get(pair string) (domain.MarketSnapshot, error) {
	c.mu.RLock()
	s, ok := c.snapshots[pair]
	c.mu.RUnlock()

	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: %s", ErrSnapshotUnavailable, pair)
	}
	if c.staleness > 0 {
		if age := c.now().Sub(s.Timestamp); age > c.staleness {
			return domain.MarketSnapshot{}, fmt.Errorf("%w: %s is %s old (bound %s)", ErrSnapshotStale, pair, age, c.staleness)
		}
	}
	return s, nil
}

// Len returns the number of pairs with a snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}
