package target

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multipair-engine/internal/domain"
)

func testProfile() domain.PairProfile {
	return domain.PairProfile{
		Pair:               "XBT/USD",
		BaselineTarget:     0.006,
		ConservativeTarget: 0.004,
		AggressiveTarget:   0.012,
		VolatilityClass:    domain.VolatilityModerate,
		SpreadBaseline:     0.0005,
		MinSuccessRate:     0.6,
		AvgHoldTimeMinutes: 30,
		ExpectedVolatility: 0.02,
	}
}

func atBaseline(p domain.PairProfile) domain.MarketAssessment {
	return domain.MarketAssessment{
		CurrentVolatility: p.ExpectedVolatility,
		CurrentSpread:     p.SpreadBaseline,
	}
}

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultConfig())
	require.NoError(t, err)
	return c
}

func ptr[T any](v T) *T {
	return &v
}

func TestCalculate_AtBaselineReturnsBaselineExactly(t *testing.T) {
	c := newTestCalculator(t)
	p := testProfile()

	got := c.Calculate(p, atBaseline(p))

	assert.Equal(t, 0.0, got.VolatilityTerm)
	assert.Equal(t, 0.0, got.SpreadTerm)
	assert.Equal(t, 0.0, got.FuturesTerm)
	assert.Equal(t, 0.0, got.TemporalTerm)
	assert.Equal(t, p.BaselineTarget, got.Target)
	assert.False(t, got.Clamped)
	assert.Equal(t, p.AvgHoldTimeMinutes, got.ExpectedHoldMinutes)
}

func TestCalculate_DoubleVolatilityAddsHalfRange(t *testing.T) {
	c := newTestCalculator(t)
	p := testProfile()
	m := atBaseline(p)
	m.CurrentVolatility = 2 * p.ExpectedVolatility

	got := c.Calculate(p, m)

	assert.InDelta(t, p.TargetRange()*0.5, got.VolatilityTerm, 1e-15)
	assert.InDelta(t, p.BaselineTarget+p.TargetRange()*0.5, got.Target, 1e-15)
}

func TestVolatilityTerm_BoundedBothWays(t *testing.T) {
	c := newTestCalculator(t)
	p := testProfile()

	assert.InDelta(t, p.TargetRange()*0.5, c.VolatilityTerm(p, 100*p.ExpectedVolatility), 1e-15)
	assert.InDelta(t, -p.TargetRange()*0.5, c.VolatilityTerm(p, 0), 1e-15)
	assert.InDelta(t, p.TargetRange()*0.25, c.VolatilityTerm(p, 1.25*p.ExpectedVolatility), 1e-15)
}

func TestSpreadTerm(t *testing.T) {
	c := newTestCalculator(t)
	p := testProfile()

	tests := []struct {
		name   string
		spread float64
		want   float64
	}{
		{"baseline", p.SpreadBaseline, 0},
		{"double spread", 2 * p.SpreadBaseline, 0.001},
		{"half spread", 0.5 * p.SpreadBaseline, -0.001},
		{"tiny spread hits floor", 0.01 * p.SpreadBaseline, -0.001},
		{"huge spread hits cap", 100 * p.SpreadBaseline, 0.003},
		{"zero spread", 0, -0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, c.SpreadTerm(p, tt.spread), 1e-15)
		})
	}
}

func TestSignalTerms_OnlyAdditive(t *testing.T) {
	c := newTestCalculator(t)
	p := testProfile()

	assert.InDelta(t, 0.02*p.TargetRange(), c.FuturesTerm(p, ptr(1.0)), 1e-15)
	assert.Equal(t, 0.0, c.FuturesTerm(p, ptr(-0.7)))
	assert.Equal(t, 0.0, c.FuturesTerm(p, nil))

	assert.InDelta(t, 0.01*p.TargetRange()*0.3, c.TemporalTerm(p, ptr(-0.3)), 1e-15)
	assert.InDelta(t, 0.01*p.TargetRange()*0.3, c.TemporalTerm(p, ptr(0.3)), 1e-15)
}

func TestCalculate_AlwaysWithinPairBounds(t *testing.T) {
	c := newTestCalculator(t)
	p := testProfile()

	extremes := []float64{0, 1e-12, 0.5, 1, 2, 1e6, math.MaxFloat64, math.Inf(1)}
	for _, vol := range extremes {
		for _, spread := range extremes {
			for _, sig := range []*float64{nil, ptr(-5.0), ptr(0.0), ptr(5.0)} {
				m := domain.MarketAssessment{
					CurrentVolatility: vol,
					CurrentSpread:     spread,
					FuturesStrength:   sig,
					TemporalBias:      sig,
				}
				got := c.Calculate(p, m)
				assert.GreaterOrEqual(t, got.Target, p.ConservativeTarget, "vol=%g spread=%g", vol, spread)
				assert.LessOrEqual(t, got.Target, p.AggressiveTarget, "vol=%g spread=%g", vol, spread)
			}
		}
	}
}

func TestCalculate_NonFiniteInputsStayWithinBounds(t *testing.T) {
	c := newTestCalculator(t)
	p := testProfile()

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		m := atBaseline(p)
		m.CurrentVolatility = v
		got := c.Calculate(p, m)
		assert.GreaterOrEqual(t, got.Target, p.ConservativeTarget, "volatility %v", v)
		assert.LessOrEqual(t, got.Target, p.AggressiveTarget, "volatility %v", v)
	}
}

func TestCalculate_ExpectedReturnAndSuccessRate(t *testing.T) {
	c := newTestCalculator(t)
	p := testProfile()

	// At baseline the target is < 1.1x baseline, so the success rate is boosted.
	got := c.Calculate(p, atBaseline(p))
	assert.InDelta(t, 0.6*1.05, got.SuccessRate, 1e-12)
	assert.InDelta(t, (0.006-0.004)*0.6*1.05, got.ExpectedReturn, 1e-12)

	// Aggressive target (> 1.5x baseline) is discounted.
	m := atBaseline(p)
	m.CurrentVolatility = 3 * p.ExpectedVolatility
	m.HistoricalWinRate = ptr(0.8)
	got = c.Calculate(p, m)
	assert.InDelta(t, 0.8*0.85, got.SuccessRate, 1e-12)

	// Fee above target floors the expected return at zero.
	cfg := DefaultConfig()
	cfg.RoundTripFee = 0.05
	expensive, err := NewCalculator(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.0, expensive.Calculate(p, atBaseline(p)).ExpectedReturn)
}

func TestCalculate_Confidence(t *testing.T) {
	c := newTestCalculator(t)
	p := testProfile()

	// Volatility and spread at baseline, volume unknown: score 2/3, favorable.
	got := c.Calculate(p, atBaseline(p))
	assert.Equal(t, domain.ConditionFavorable, got.Condition)
	assert.InDelta(t, 0.9, got.Confidence, 1e-12)

	// Wide spread, thin volume, wild volatility: unfavorable, aggressive target.
	m := domain.MarketAssessment{
		CurrentVolatility: 3 * p.ExpectedVolatility,
		CurrentSpread:     5 * p.SpreadBaseline,
		Volume:            10,
		AverageVolume:     100,
		SignalConfidence:  ptr(0.6),
	}
	got = c.Calculate(p, m)
	assert.Equal(t, domain.ConditionUnfavorable, got.Condition)
	assert.InDelta(t, 0.6-0.2-0.15, got.Confidence, 1e-12)

	// Never below the floor.
	m.SignalConfidence = ptr(0.0)
	assert.Equal(t, 0.1, c.Calculate(p, m).Confidence)

	// High predictability boost, capped at 1.
	p.HighPredictability = true
	m2 := atBaseline(p)
	m2.SignalConfidence = ptr(0.95)
	assert.Equal(t, 1.0, c.Calculate(p, m2).Confidence)
}

func TestNewCalculator_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpreadTermMin = 0.01

	_, err := NewCalculator(cfg)
	assert.Error(t, err)
}
