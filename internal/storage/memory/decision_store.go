package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/storage"
)

// DecisionStore is an in-memory implementation of storage.DecisionStore.
type DecisionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Decision // keyed by decision id
}

// NewDecisionStore creates a new in-memory decision store.
func NewDecisionStore() *DecisionStore {
	return &DecisionStore{
		data: make(map[string]*domain.Decision),
	}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

// Insert adds a decision. Returns ErrDuplicateKey if the decision id exists.
func (s *DecisionStore) Insert(_ context.Context, d *domain.Decision) error {
	if d == nil || d.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[d.ID]; exists {
		return storage.ErrDuplicateKey
	}

	// Decisions are immutable once produced; a shallow copy is enough.
	copy := *d
	s.data[d.ID] = &copy
	return nil
}

// GetByID retrieves a decision by id. Returns ErrNotFound if not exists.
func (s *DecisionStore) GetByID(_ context.Context, id string) (*domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	copy := *d
	return &copy, nil
}

// GetByTimeRange retrieves decisions within [start, end] (inclusive).
func (s *DecisionStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.Decision, error) {
	return s.filter(func(d *domain.Decision) bool {
		return !d.Timestamp.Before(start) && !d.Timestamp.After(end)
	}), nil
}

// GetByPair retrieves all decisions for a pair.
func (s *DecisionStore) GetByPair(_ context.Context, pair string) ([]*domain.Decision, error) {
	return s.filter(func(d *domain.Decision) bool {
		return d.Pair == pair
	}), nil
}

func (s *DecisionStore) filter(keep func(*domain.Decision) bool) []*domain.Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Decision
	for _, d := range s.data {
		if keep(d) {
			copy := *d
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID < result[j].ID
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}
