package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/storage"
)

type positionRecord struct {
	position  domain.Position
	sessionID string
	closedAt  *time.Time
}

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*positionRecord // keyed by trade_id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*positionRecord),
	}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Open records a newly executed position. Returns ErrDuplicateKey if trade_id exists.
func (s *PositionStore) Open(_ context.Context, p *domain.Position, sessionID string) error {
	if p == nil || p.TradeID == "" || p.Pair == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.TradeID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.TradeID] = &positionRecord{position: *p, sessionID: sessionID}
	return nil
}

// Close marks a position closed. Returns ErrNotFound if trade_id is not open.
func (s *PositionStore) Close(_ context.Context, tradeID string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data[tradeID]
	if !exists || rec.closedAt != nil {
		return storage.ErrNotFound
	}
	rec.closedAt = &closedAt
	return nil
}

// GetByID retrieves a position by trade id. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, tradeID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[tradeID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	p := rec.position
	return &p, nil
}

// ListOpen returns all open positions ordered by entry time ASC, trade_id ASC.
func (s *PositionStore) ListOpen(_ context.Context) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, rec := range s.data {
		if rec.closedAt != nil {
			continue
		}
		p := rec.position
		result = append(result, &p)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].EntryTime.Equal(result[j].EntryTime) {
			return result[i].TradeID < result[j].TradeID
		}
		return result[i].EntryTime.Before(result[j].EntryTime)
	})
	return result, nil
}
