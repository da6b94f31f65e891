// Package ledger owns the session budget and the set of open positions.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"multipair-engine/internal/domain"
)

// Ledger errors.
var (
	// ErrDuplicatePosition is returned when a trade id is already open.
	ErrDuplicatePosition = errors.New("duplicate position")

	// ErrPositionNotFound is returned when removing an unknown trade id.
	ErrPositionNotFound = errors.New("position not found")

	// ErrInvalidPosition is returned for positions without id, pair or size.
	ErrInvalidPosition = errors.New("invalid position")

	// ErrInvariantViolation means the recomputed used budget disagrees with the
	// incrementally tracked one. This is a defect, not a business condition.
	ErrInvariantViolation = errors.New("ledger invariant violation")
)

// driftTolerance absorbs float summation-order differences only.
const driftTolerance = 1e-9

// Ledger tracks total/used/available budget and open positions.
// Positions are indexed by trade id and by pair.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]domain.Position     // keyed by trade_id
	byPair    map[string]map[string]struct{} // pair -> trade ids
	total     float64
	used      float64
	tracked   float64 // incrementally maintained sum, cross-checked on every mutation
	updatedAt time.Time
	now       func() time.Time
}

// NewLedger creates an empty ledger. A nil clock uses time.Now.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		positions: make(map[string]domain.Position),
		byPair:    make(map[string]map[string]struct{}),
		now:       now,
	}
}

// SetBalance recomputes the total budget from the account balance.
func (l *Ledger) SetBalance(balance, sessionBudgetPercent float64) {
	l.SetTotalBudget(balance * sessionBudgetPercent)
}

// SetTotalBudget replaces the total budget.
func (l *Ledger) SetTotalBudget(total float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = total
	l.updatedAt = l.now()
}

// RecordPosition adds an executed position and recomputes the budget.
func (l *Ledger) RecordPosition(p domain.Position) error {
	if p.TradeID == "" || p.Pair == "" || p.PositionSize <= 0 {
		return ErrInvalidPosition
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[p.TradeID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePosition, p.TradeID)
	}

	l.positions[p.TradeID] = p
	ids, ok := l.byPair[p.Pair]
	if !ok {
		ids = make(map[string]struct{})
		l.byPair[p.Pair] = ids
	}
	ids[p.TradeID] = struct{}{}
	l.tracked += p.PositionSize

	return l.recomputeLocked()
}

// RemovePosition drops a closed position and recomputes the budget.
// Called by the settlement collaborator; the ledger never closes positions itself.
func (l *Ledger) RemovePosition(tradeID string) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, exists := l.positions[tradeID]
	if !exists {
		return domain.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, tradeID)
	}

	delete(l.positions, tradeID)
	if ids, ok := l.byPair[p.Pair]; ok {
		delete(ids, tradeID)
		if len(ids) == 0 {
			delete(l.byPair, p.Pair)
		}
	}
	l.tracked -= p.PositionSize

	return p, l.recomputeLocked()
}

// Restore replaces all open positions, e.g. from persistent storage at startup.
func (l *Ledger) Restore(positions []domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]domain.Position, len(positions))
	l.byPair = make(map[string]map[string]struct{})
	l.tracked = 0

	for _, p := range positions {
		if p.TradeID == "" || p.Pair == "" || p.PositionSize <= 0 {
			return fmt.Errorf("%w: %+v", ErrInvalidPosition, p)
		}
		if _, exists := l.positions[p.TradeID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicatePosition, p.TradeID)
		}
		l.positions[p.TradeID] = p
		if l.byPair[p.Pair] == nil {
			l.byPair[p.Pair] = make(map[string]struct{})
		}
		l.byPair[p.Pair][p.TradeID] = struct{}{}
		l.tracked += p.PositionSize
	}
	return l.recomputeLocked()
}

// recomputeLocked derives used budget from the full position set and checks it
// against the incremental sum. Caller must hold mu.
func (l *Ledger) recomputeLocked() error {
	var sum float64
	for _, p := range l.positions {
		sum += p.PositionSize
	}
	l.used = sum
	l.updatedAt = l.now()

	drift := math.Abs(sum - l.tracked)
	if drift > driftTolerance*math.Max(1, math.Abs(sum)) {
		return fmt.Errorf("%w: recomputed used %.10f, tracked %.10f", ErrInvariantViolation, sum, l.tracked)
	}
	l.tracked = sum
	return nil
}

// Verify re-derives every derived field and checks index consistency.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum float64
	for id, p := range l.positions {
		sum += p.PositionSize
		if _, ok := l.byPair[p.Pair][id]; !ok {
			return fmt.Errorf("%w: %s missing from pair index", ErrInvariantViolation, id)
		}
	}
	indexed := 0
	for _, ids := range l.byPair {
		indexed += len(ids)
	}
	if indexed != len(l.positions) {
		return fmt.Errorf("%w: pair index holds %d ids, ledger %d", ErrInvariantViolation, indexed, len(l.positions))
	}
	if math.Abs(sum-l.used) > driftTolerance*math.Max(1, math.Abs(sum)) {
		return fmt.Errorf("%w: used %.10f, positions sum %.10f", ErrInvariantViolation, l.used, sum)
	}
	return nil
}

// Snapshot returns the current budget state.
func (l *Ledger) Snapshot() domain.BudgetState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return domain.BudgetState{
		TotalBudget:     l.total,
		UsedBudget:      l.used,
		AvailableBudget: l.total - l.used,
		LastUpdate:      l.updatedAt,
	}
}

// Available returns total - used.
func (l *Ledger) Available() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total - l.used
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Get returns an open position by trade id.
func (l *Ledger) Get(tradeID string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[tradeID]
	return p, ok
}

// Positions returns all open positions ordered by entry time.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		result = append(result, p)
	}
	sortPositions(result)
	return result
}

// PositionsForPair returns open positions for one pair via the pair index.
func (l *Ledger) PositionsForPair(pair string) []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byPair[pair]
	result := make([]domain.Position, 0, len(ids))
	for id := range ids {
		result = append(result, l.positions[id])
	}
	sortPositions(result)
	return result
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].EntryTime.Equal(ps[j].EntryTime) {
			return ps[i].TradeID < ps[j].TradeID
		}
		return ps[i].EntryTime.Before(ps[j].EntryTime)
	})
}
