package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	trade_id, pair, direction, entry_price, quoted_price, position_size,
	exit_target, stop_loss_price, entry_time, expected_exit_time
`

// Open records a newly executed position. Returns ErrDuplicateKey if trade_id exists.
func (s *PositionStore) Open(ctx context.Context, p *domain.Position, sessionID string) error {
	if p == nil || p.TradeID == "" || p.Pair == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO positions (
			trade_id, session_id, pair, direction, entry_price, quoted_price, position_size,
			exit_target, stop_loss_price, entry_time, expected_exit_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		p.TradeID, sessionID, p.Pair, string(p.Direction), p.EntryPrice, p.QuotedPrice, p.PositionSize,
		p.ExitTarget, p.StopLossPrice, p.EntryTime.UTC(), p.ExpectedExitTime.UTC(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Close marks a position closed. Returns ErrNotFound if trade_id is not open.
func (s *PositionStore) Close(ctx context.Context, tradeID string, closedAt time.Time) error {
	query := `
		UPDATE positions
		SET closed_at = $2
		WHERE trade_id = $1 AND closed_at IS NULL
	`

	tag, err := s.pool.Exec(ctx, query, tradeID, closedAt.UTC())
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a position by trade id. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, tradeID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE trade_id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, tradeID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// ListOpen returns all open positions ordered by entry time ASC, trade_id ASC.
func (s *PositionStore) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE closed_at IS NULL
		ORDER BY entry_time ASC, trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return result, nil
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var direction string
	err := row.Scan(
		&p.TradeID, &p.Pair, &direction, &p.EntryPrice, &p.QuotedPrice, &p.PositionSize,
		&p.ExitTarget, &p.StopLossPrice, &p.EntryTime, &p.ExpectedExitTime,
	)
	if err != nil {
		return nil, err
	}
	p.Direction = domain.Direction(direction)
	p.EntryTime = p.EntryTime.UTC()
	p.ExpectedExitTime = p.ExpectedExitTime.UTC()
	return &p, nil
}
