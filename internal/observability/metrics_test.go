package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multipair-engine/internal/domain"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	executed := &domain.Decision{
		Pair:     "ETH/USD",
		Action:   domain.ActionExecute,
		Reason:   domain.ReasonApproved,
		Fusion:   &domain.FusionTrace{AdjustedConfidence: 0.8},
		Position: &domain.Position{PositionSize: 18, ExitTarget: 0.006},
	}
	rejected := &domain.Decision{
		Pair:       "ETH/USD",
		Action:     domain.ActionReject,
		Reason:     domain.ReasonPacingWait,
		PacingWait: 12 * time.Second,
	}

	m.RecordDecision(executed, time.Millisecond)
	m.RecordDecision(rejected, time.Millisecond)
	m.RecordDecision(rejected, time.Millisecond)

	body := scrape(t, reg)
	assert.Contains(t, body, `test_engine_decisions_total{action="EXECUTE",reason="APPROVED"} 1`)
	assert.Contains(t, body, `test_engine_decisions_total{action="REJECT",reason="PACING_WAIT"} 2`)
	assert.Contains(t, body, "test_engine_position_size_quote_count 1")
	assert.Contains(t, body, "test_pacing_wait_seconds_count 2")
}

func TestUpdateBudget(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.UpdateBudget(domain.BudgetState{TotalBudget: 200, UsedBudget: 18, AvailableBudget: 182}, 60, 1)

	body := scrape(t, reg)
	assert.Contains(t, body, "test_budget_total_quote 200")
	assert.Contains(t, body, "test_budget_used_quote 18")
	assert.Contains(t, body, "test_budget_available_quote 182")
	assert.Contains(t, body, "test_budget_released_quote 60")
	assert.Contains(t, body, "test_budget_positions_open 1")
}

func TestRecordDBQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordDBQuery("postgres", "insert_decision", 0.01, nil)
	m.RecordDBQuery("postgres", "insert_decision", 0.02, errors.New("boom"))

	body := scrape(t, reg)
	assert.Contains(t, body, `test_database_query_errors_total{database="postgres",operation="insert_decision"} 1`)
	assert.Contains(t, body, `test_database_query_duration_seconds_count{database="postgres",operation="insert_decision"} 2`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordDecision(&domain.Decision{}, time.Millisecond)
	m.UpdateBudget(domain.BudgetState{}, 0, 0)
	m.RecordInvariantViolation()
	m.RecordFeedMessage("snapshot")
	m.RecordFeedReconnect()
	m.RecordMinimumRefreshError()
	m.RecordAuditWritten("decision")
	m.RecordAuditDropped()
	m.RecordDBQuery("postgres", "op", 0, nil)
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances on fresh registries must not collide.
	NewMetrics("test", prometheus.NewRegistry())
	NewMetrics("test", prometheus.NewRegistry())
}
