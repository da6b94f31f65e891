package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/storage"
)

// DecisionStore implements storage.DecisionStore using PostgreSQL.
// Header fields are stored as columns for filtering; the full decision is kept
// as JSONB in the trace column.
type DecisionStore struct {
	pool *Pool
}

// NewDecisionStore creates a new DecisionStore.
func NewDecisionStore(pool *Pool) *DecisionStore {
	return &DecisionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

// Insert adds a decision. Returns ErrDuplicateKey if the decision id exists.
func (s *DecisionStore) Insert(ctx context.Context, d *domain.Decision) error {
	if d == nil || d.ID == "" {
		return storage.ErrInvalidInput
	}

	trace, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision trace: %w", err)
	}

	query := `
		INSERT INTO decisions (
			id, opportunity_key, session_id, pair, direction,
			action, reason, message, decided_at, trace
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.pool.Exec(ctx, query,
		d.ID, d.OpportunityKey, d.SessionID, d.Pair, string(d.Direction),
		string(d.Action), string(d.Reason), d.Message, d.Timestamp.UTC(), trace,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetByID retrieves a decision by id. Returns ErrNotFound if not exists.
func (s *DecisionStore) GetByID(ctx context.Context, id string) (*domain.Decision, error) {
	query := `SELECT trace FROM decisions WHERE id = $1`

	d, err := scanDecision(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get decision by id: %w", err)
	}
	return d, nil
}

// GetByTimeRange retrieves decisions within [start, end] (inclusive).
func (s *DecisionStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.Decision, error) {
	query := `
		SELECT trace
		FROM decisions
		WHERE decided_at >= $1 AND decided_at <= $2
		ORDER BY decided_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("get decisions by time range: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// GetByPair retrieves all decisions for a pair.
func (s *DecisionStore) GetByPair(ctx context.Context, pair string) ([]*domain.Decision, error) {
	query := `
		SELECT trace
		FROM decisions
		WHERE pair = $1
		ORDER BY decided_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, pair)
	if err != nil {
		return nil, fmt.Errorf("get decisions by pair: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

func scanDecision(row pgx.Row) (*domain.Decision, error) {
	var trace []byte
	if err := row.Scan(&trace); err != nil {
		return nil, err
	}

	var d domain.Decision
	if err := json.Unmarshal(trace, &d); err != nil {
		return nil, fmt.Errorf("unmarshal decision trace: %w", err)
	}
	return &d, nil
}

func scanDecisions(rows pgx.Rows) ([]*domain.Decision, error) {
	var result []*domain.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return result, nil
}
