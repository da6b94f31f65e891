package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/storage"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func createTestDecision(id, pair string, ts time.Time, reason domain.ReasonCode) *domain.Decision {
	d := &domain.Decision{
		ID:             id,
		OpportunityKey: "key-" + id,
		SessionID:      "session-1",
		Pair:           pair,
		Direction:      domain.DirectionShort,
		Action:         domain.ActionReject,
		Reason:         reason,
		Timestamp:      ts,
		Price:          50000,
		EntryPrice:     50000,
		Confidence:     0.7,
	}
	if reason == domain.ReasonApproved {
		d.Action = domain.ActionExecute
		d.Fusion = &domain.FusionTrace{AdjustedConfidence: 0.75, PositionMultiplier: 1}
		d.Target = &domain.TargetTrace{Target: 0.005}
		d.Sizing = &domain.SizingTrace{Size: 25}
	}
	return d
}

func TestDecisionStore_InsertAndGetByID(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewDecisionStore(conn)

	d := createTestDecision("d-1", "XBT/USD", t0, domain.ReasonApproved)
	require.NoError(t, store.Insert(ctx, d))

	got, err := store.GetByID(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionExecute, got.Action)
	assert.Equal(t, domain.DirectionShort, got.Direction)
	require.NotNil(t, got.Fusion)
	assert.Equal(t, 0.75, got.Fusion.AdjustedConfidence)
	assert.True(t, t0.Equal(got.Timestamp))

	assert.ErrorIs(t, store.Insert(ctx, d), storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDecisionStore_InsertBatchAndQueries(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewDecisionStore(conn)

	batch := []*domain.Decision{
		createTestDecision("d-1", "XBT/USD", t0, domain.ReasonApproved),
		createTestDecision("d-2", "XBT/USD", t0.Add(time.Minute), domain.ReasonPacingWait),
		createTestDecision("d-3", "ETH/USD", t0.Add(2*time.Minute), domain.ReasonPacingWait),
	}
	require.NoError(t, store.InsertBatch(ctx, batch))

	err := store.InsertBatch(ctx, []*domain.Decision{createTestDecision("d-3", "ETH/USD", t0, domain.ReasonApproved)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	byPair, err := store.GetByPair(ctx, "XBT/USD")
	require.NoError(t, err)
	require.Len(t, byPair, 2)
	assert.Equal(t, "d-1", byPair[0].ID)
	assert.Equal(t, "d-2", byPair[1].ID)

	inRange, err := store.GetByTimeRange(ctx, t0.Add(time.Minute), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, inRange, 2)
	assert.Equal(t, "d-2", inRange[0].ID)

	counts, err := store.CountByReason(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, domain.ReasonPacingWait, counts[0].Reason)
	assert.Equal(t, uint64(2), counts[0].Count)
	assert.Equal(t, domain.ReasonApproved, counts[1].Reason)
}
