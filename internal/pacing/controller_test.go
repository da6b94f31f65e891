package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time                       { return f.t }
func (f *fakeClock) Advance(d time.Duration)              { f.t = f.t.Add(d) }
func (f *fakeClock) Set(start time.Time, d time.Duration) { f.t = start.Add(d) }

var sessionStart = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func newTestController(t *testing.T, cfg Config) (*Controller, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: sessionStart}
	c, err := NewController(Options{Config: cfg, Now: clock.Now})
	require.NoError(t, err)
	return c, clock
}

func TestProgressiveRelease(t *testing.T) {
	c, clock := newTestController(t, DefaultConfig())
	id := c.StartSession(200)
	assert.NotEmpty(t, id)

	assert.InDelta(t, 60.0, c.Released(), 1e-9)

	clock.Set(sessionStart, 5*time.Minute-time.Second)
	assert.InDelta(t, 60.0, c.Released(), 1e-9)

	// First chunk has weight 1 of 1+2+...+6.
	clock.Set(sessionStart, 5*time.Minute)
	first := c.Released()
	assert.InDelta(t, 60.0+140.0/21, first, 1e-9)

	// Entries are released once.
	assert.InDelta(t, first, c.Released(), 1e-12)

	clock.Set(sessionStart, 30*time.Minute)
	assert.InDelta(t, 200.0, c.Released(), 1e-9)

	state := c.Snapshot()
	require.Len(t, state.Schedule, 6)
	for i, entry := range state.Schedule {
		assert.True(t, entry.Released, "entry %d", i)
	}
	assert.Greater(t, state.Schedule[5].Amount, state.Schedule[0].Amount)
}

func TestLinearRelease(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyLinear
	c, clock := newTestController(t, cfg)
	c.StartSession(200)

	assert.InDelta(t, 60.0, c.Released(), 1e-9)

	clock.Set(sessionStart, 15*time.Minute)
	assert.InDelta(t, 130.0, c.Released(), 1e-9)

	// A clock step backwards never shrinks the release.
	clock.Set(sessionStart, 10*time.Minute)
	assert.InDelta(t, 130.0, c.Released(), 1e-9)

	clock.Set(sessionStart, 2*time.Hour)
	assert.InDelta(t, 200.0, c.Released(), 1e-9)
}

func TestAdaptiveRelease(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyAdaptive
	c, _ := newTestController(t, cfg)
	c.StartSession(200)

	assert.InDelta(t, 60.0, c.Released(), 1e-9)

	for i := 0; i < 10; i++ {
		c.RecordOutcome(true)
		c.RecordOutcome(false)
	}
	assert.InDelta(t, 110.0, c.Released(), 1e-9)

	// Only the last 20 outcomes count.
	for i := 0; i < 20; i++ {
		c.RecordOutcome(true)
	}
	assert.InDelta(t, 160.0, c.Released(), 1e-9)
}

func TestCheckTiming_ExactWait(t *testing.T) {
	c, clock := newTestController(t, DefaultConfig())
	c.StartSession(200)

	assert.True(t, c.CheckTiming("ETH/USD").Allowed)

	c.Update("ETH/USD")
	clock.Advance(12500 * time.Millisecond)

	other := c.CheckTiming("XBT/USD")
	assert.False(t, other.Allowed)
	assert.Equal(t, BlockGlobal, other.Block)
	assert.Equal(t, 17500*time.Millisecond, other.Wait)

	same := c.CheckTiming("ETH/USD")
	assert.False(t, same.Allowed)
	assert.Equal(t, BlockPair, same.Block)
	assert.Equal(t, 5*time.Minute-12500*time.Millisecond, same.Wait)

	clock.Advance(17500 * time.Millisecond)
	assert.True(t, c.CheckTiming("XBT/USD").Allowed)
	assert.False(t, c.CheckTiming("ETH/USD").Allowed)
}

func TestCheckTiming_IntervalCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinTimeBetweenTrades = 0
	cfg.MinTimeBetweenPairTrades = 0
	cfg.MaxTradesPerInterval = 2
	cfg.TradeInterval = time.Hour
	c, clock := newTestController(t, cfg)
	c.StartSession(200)

	c.Update("ETH/USD")
	clock.Advance(time.Minute)
	c.Update("XBT/USD")
	clock.Advance(time.Minute)

	check := c.CheckTiming("SOL/USD")
	assert.False(t, check.Allowed)
	assert.Equal(t, BlockInterval, check.Block)
	assert.Equal(t, 58*time.Minute, check.Wait)

	clock.Set(sessionStart, time.Hour)
	assert.True(t, c.CheckTiming("SOL/USD").Allowed)

	c.Update("SOL/USD")
	state := c.Snapshot()
	assert.Equal(t, 1, state.TradesInInterval)
	assert.Equal(t, 3, state.TotalTradesExecuted)
	assert.Equal(t, sessionStart.Add(time.Hour), state.CurrentIntervalStart)
}

func TestStartSession_Resets(t *testing.T) {
	c, _ := newTestController(t, DefaultConfig())
	first := c.StartSession(200)
	c.Update("ETH/USD")

	second := c.StartSession(300)
	assert.NotEqual(t, first, second)
	assert.True(t, c.CheckTiming("ETH/USD").Allowed)

	state := c.Snapshot()
	assert.Equal(t, 0, state.TotalTradesExecuted)
	assert.Empty(t, state.LastTradeTimeByPair)
	assert.InDelta(t, 90.0, state.ReleasedBudget, 1e-9)
}

func TestSnapshot_IsACopy(t *testing.T) {
	c, _ := newTestController(t, DefaultConfig())
	c.StartSession(200)
	c.Update("ETH/USD")

	state := c.Snapshot()
	state.LastTradeTimeByPair["XBT/USD"] = time.Now()
	state.Schedule[0].Released = true

	fresh := c.Snapshot()
	assert.NotContains(t, fresh.LastTradeTimeByPair, "XBT/USD")
	assert.False(t, fresh.Schedule[0].Released)
}

func TestSetTotalBudget_Rescales(t *testing.T) {
	c, _ := newTestController(t, DefaultConfig())
	c.StartSession(200)

	c.SetTotalBudget(400)
	assert.InDelta(t, 120.0, c.Released(), 1e-9)
	assert.InDelta(t, 280.0/21, c.Snapshot().Schedule[0].Amount, 1e-9)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	c, _ := newTestController(t, cfg)
	c.StartSession(200)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = "burst"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ReleaseInterval = time.Hour
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.InitialReleasePercent = 1.2
	assert.Error(t, cfg.Validate())

	assert.NoError(t, DefaultConfig().Validate())
}
