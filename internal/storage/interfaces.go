// Package storage defines persistence interfaces for positions and decisions.
// Implementations live in the memory, postgres and clickhouse subpackages.
package storage

import (
	"context"
	"time"

	"multipair-engine/internal/domain"
)

// PositionStore persists positions so the ledger can be restored after a restart.
type PositionStore interface {
	// Open records a newly executed position. Returns ErrDuplicateKey if trade_id exists.
	Open(ctx context.Context, p *domain.Position, sessionID string) error

	// Close marks a position closed. Returns ErrNotFound if trade_id is not open.
	Close(ctx context.Context, tradeID string, closedAt time.Time) error

	// GetByID retrieves a position by trade id, open or closed. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.Position, error)

	// ListOpen returns all open positions ordered by entry time ASC, trade_id ASC.
	ListOpen(ctx context.Context) ([]*domain.Position, error)
}

// DecisionStore persists the decision audit trail. Append-only.
type DecisionStore interface {
	// Insert adds a decision. Returns ErrDuplicateKey if the decision id exists.
	Insert(ctx context.Context, d *domain.Decision) error

	// GetByID retrieves a decision by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Decision, error)

	// GetByTimeRange retrieves decisions with timestamp within [start, end] (inclusive),
	// ordered by timestamp ASC, id ASC.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.Decision, error)

	// GetByPair retrieves all decisions for a pair ordered by timestamp ASC, id ASC.
	GetByPair(ctx context.Context, pair string) ([]*domain.Decision, error)
}
