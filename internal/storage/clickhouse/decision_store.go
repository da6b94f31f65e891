package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/storage"
)

// DecisionStore implements storage.DecisionStore using ClickHouse.
// Rows flatten the fields used for aggregation; the full decision is kept as
// JSON in the trace column and is what reads return.
type DecisionStore struct {
	conn *Conn
}

// NewDecisionStore creates a new DecisionStore.
func NewDecisionStore(conn *Conn) *DecisionStore {
	return &DecisionStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DecisionStore = (*DecisionStore)(nil)

const insertDecisionColumns = `
	INSERT INTO decisions (
		id, opportunity_key, session_id, pair, direction, action, reason, message,
		decided_at, confidence, adjusted_confidence, target, position_size,
		pacing_wait_ms, trace
	)
`

// decisionRow holds the flattened column values for one decision.
type decisionRow struct {
	adjustedConfidence *float64
	target             *float64
	positionSize       *float64
	pacingWaitMs       uint64
	trace              string
}

func toRow(d *domain.Decision) (decisionRow, error) {
	trace, err := json.Marshal(d)
	if err != nil {
		return decisionRow{}, fmt.Errorf("marshal decision trace: %w", err)
	}

	row := decisionRow{
		pacingWaitMs: uint64(d.PacingWait.Milliseconds()),
		trace:        string(trace),
	}
	if d.Fusion != nil {
		v := d.Fusion.AdjustedConfidence
		row.adjustedConfidence = &v
	}
	if d.Target != nil {
		v := d.Target.Target
		row.target = &v
	}
	if d.Sizing != nil {
		v := d.Sizing.Size
		row.positionSize = &v
	}
	return row, nil
}

// Insert adds a decision. Returns ErrDuplicateKey if the decision id exists.
func (s *DecisionStore) Insert(ctx context.Context, d *domain.Decision) error {
	if d == nil || d.ID == "" {
		return storage.ErrInvalidInput
	}

	// ReplacingMergeTree would silently replace; keep append-only semantics
	exists, err := s.exists(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	row, err := toRow(d)
	if err != nil {
		return err
	}

	err = s.conn.Exec(ctx, insertDecisionColumns+` VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OpportunityKey, d.SessionID, d.Pair, string(d.Direction), string(d.Action), string(d.Reason), d.Message,
		d.Timestamp.UTC(), d.Confidence, row.adjustedConfidence, row.target, row.positionSize,
		row.pacingWaitMs, row.trace,
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// InsertBatch adds multiple decisions in one batch. Fails the whole batch on any duplicate.
func (s *DecisionStore) InsertBatch(ctx context.Context, decisions []*domain.Decision) error {
	if len(decisions) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(decisions))
	for _, d := range decisions {
		if d == nil || d.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[d.ID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[d.ID] = struct{}{}

		exists, err := s.exists(ctx, d.ID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, insertDecisionColumns)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, d := range decisions {
		row, err := toRow(d)
		if err != nil {
			return err
		}
		err = batch.Append(
			d.ID, d.OpportunityKey, d.SessionID, d.Pair, string(d.Direction), string(d.Action), string(d.Reason), d.Message,
			d.Timestamp.UTC(), d.Confidence, row.adjustedConfidence, row.target, row.positionSize,
			row.pacingWaitMs, row.trace,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByID retrieves a decision by id. Returns ErrNotFound if not exists.
func (s *DecisionStore) GetByID(ctx context.Context, id string) (*domain.Decision, error) {
	query := `SELECT trace FROM decisions FINAL WHERE id = ? LIMIT 1`

	var trace string
	if err := s.conn.QueryRow(ctx, query, id).Scan(&trace); err != nil {
		return nil, storage.ErrNotFound
	}
	return unmarshalDecision(trace)
}

// GetByTimeRange retrieves decisions within [start, end] (inclusive).
func (s *DecisionStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.Decision, error) {
	query := `
		SELECT trace FROM decisions FINAL
		WHERE decided_at >= ? AND decided_at <= ?
		ORDER BY decided_at ASC, id ASC
	`

	rows, err := s.conn.Query(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// GetByPair retrieves all decisions for a pair.
func (s *DecisionStore) GetByPair(ctx context.Context, pair string) ([]*domain.Decision, error) {
	query := `
		SELECT trace FROM decisions FINAL
		WHERE pair = ?
		ORDER BY decided_at ASC, id ASC
	`

	rows, err := s.conn.Query(ctx, query, pair)
	if err != nil {
		return nil, fmt.Errorf("query by pair: %w", err)
	}
	defer rows.Close()

	return scanDecisions(rows)
}

// ReasonCount is the number of decisions per action and reason.
type ReasonCount struct {
	Action domain.Action
	Reason domain.ReasonCode
	Count  uint64
}

// CountByReason aggregates decisions within [start, end] by action and reason,
// ordered by count DESC.
func (s *DecisionStore) CountByReason(ctx context.Context, start, end time.Time) ([]ReasonCount, error) {
	query := `
		SELECT action, reason, count() AS n
		FROM decisions FINAL
		WHERE decided_at >= ? AND decided_at <= ?
		GROUP BY action, reason
		ORDER BY n DESC, action ASC, reason ASC
	`

	rows, err := s.conn.Query(ctx, query, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("count by reason: %w", err)
	}
	defer rows.Close()

	var result []ReasonCount
	for rows.Next() {
		var action, reason string
		var n uint64
		if err := rows.Scan(&action, &reason, &n); err != nil {
			return nil, fmt.Errorf("scan reason count: %w", err)
		}
		result = append(result, ReasonCount{Action: domain.Action(action), Reason: domain.ReasonCode(reason), Count: n})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reason counts: %w", err)
	}
	return result, nil
}

func (s *DecisionStore) exists(ctx context.Context, id string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM decisions FINAL WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanDecisions(rows chRows) ([]*domain.Decision, error) {
	var result []*domain.Decision
	for rows.Next() {
		var trace string
		if err := rows.Scan(&trace); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		d, err := unmarshalDecision(trace)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}
	return result, nil
}

func unmarshalDecision(trace string) (*domain.Decision, error) {
	var d domain.Decision
	if err := json.Unmarshal([]byte(trace), &d); err != nil {
		return nil, fmt.Errorf("unmarshal decision trace: %w", err)
	}
	return &d, nil
}
