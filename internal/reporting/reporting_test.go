package reporting

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/engine"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func testReport() *Report {
	executed := &domain.Decision{
		ID:         "d1",
		Timestamp:  t0,
		Pair:       "ETH/USD",
		Direction:  domain.DirectionLong,
		Action:     domain.ActionExecute,
		Reason:     domain.ReasonApproved,
		Price:      2500,
		EntryPrice: 2500,
		Confidence: 0.8,
		Position: &domain.Position{
			TradeID:      "abc",
			Pair:         "ETH/USD",
			PositionSize: 18,
			ExitTarget:   0.004,
		},
	}
	riskRejected := &domain.Decision{
		ID:        "d2",
		Timestamp: t0.Add(time.Minute),
		Pair:      "ETH/USD",
		Direction: domain.DirectionShort,
		Action:    domain.ActionReject,
		Reason:    domain.ReasonRiskRejected,
		Price:     2510,
		Risk: &domain.RiskTrace{
			Criteria: []domain.CriterionResult{
				{Name: "Position size", Threshold: "<= 100.00", Actual: "18.00", Pass: true},
				{Name: "Concurrent positions", Threshold: "< 1", Actual: "1", Pass: false},
			},
		},
	}
	paced := &domain.Decision{
		ID:         "d3",
		Timestamp:  t0.Add(2 * time.Minute),
		Pair:       "XBT/USD",
		Direction:  domain.DirectionLong,
		Action:     domain.ActionReject,
		Reason:     domain.ReasonPacingWait,
		PacingWait: 20 * time.Second,
	}

	return &Report{
		GeneratedAt: t0.Add(time.Hour),
		SessionID:   "session-1",
		Stats: engine.Stats{
			TotalDecisions:  3,
			Executed:        1,
			Rejected:        2,
			ExecutionRate:   1.0 / 3,
			AvgPositionSize: 18,
			AvgTarget:       0.004,
			RejectionReasons: map[domain.ReasonCode]int{
				domain.ReasonRiskRejected: 1,
				domain.ReasonPacingWait:   1,
			},
		},
		Budget:    domain.BudgetState{TotalBudget: 200, UsedBudget: 18, AvailableBudget: 182},
		Released:  60,
		Decisions: []*domain.Decision{executed, riskRejected, paced},
		Errors:    []string{"step 4: SOL/USD long: market snapshot stale"},
	}
}

func TestPairSummaries(t *testing.T) {
	summaries := testReport().PairSummaries()
	require.Len(t, summaries, 2)

	assert.Equal(t, PairSummary{Pair: "ETH/USD", Decisions: 2, Executed: 1, Volume: 18, AvgTarget: 0.004}, summaries[0])
	assert.Equal(t, PairSummary{Pair: "XBT/USD", Decisions: 1}, summaries[1])
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(testReport())

	assert.Contains(t, md, "# Decision Report")
	assert.Contains(t, md, "Session: session-1")
	assert.Contains(t, md, "| Decisions | 3 |")
	assert.Contains(t, md, "| Execution Rate | 33.33% |")
	assert.Contains(t, md, "| Released Budget | 60.00 |")
	assert.Contains(t, md, "| ETH/USD | 2 | 1 | 18.00 | 0.4000% |")
	assert.Contains(t, md, "| PACING_WAIT | 1 |")
	assert.Contains(t, md, "| 2 | Concurrent positions | < 1 | 1 | FAIL |")
	assert.Contains(t, md, "Criteria: 1/2 passed")
	assert.Contains(t, md, "- step 4: SOL/USD long: market snapshot stale")
}

func TestRenderMarkdown_Empty(t *testing.T) {
	md := RenderMarkdown(&Report{GeneratedAt: t0})

	assert.Contains(t, md, "No decisions.")
	assert.Contains(t, md, "No rejections.")
	assert.NotContains(t, md, "## Risk Rejections")
	assert.NotContains(t, md, "## Errors")
}

func TestRenderCSV(t *testing.T) {
	out, err := RenderCSV(testReport())
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, []string{
		"d1", "2026-03-02T14:00:00Z", "ETH/USD", "long", "EXECUTE", "APPROVED",
		"2500", "2500", "0.8", "0.004", "18", "abc", "0",
	}, records[1])

	// Rejected decisions leave the position columns empty.
	assert.Equal(t, "", records[2][9])
	assert.Equal(t, "", records[2][11])
	assert.Equal(t, "20000", records[3][12])
}
