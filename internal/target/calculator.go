// Package target computes pair-specific exit targets from market conditions.
//
// The target starts at the pair baseline and receives four continuous adjustment
// terms (volatility, spread, futures signal, temporal bias). The sum is then
// clamped to the pair's [conservative, aggressive] bounds. The clamp is the only
// hard limit in the calculation and is always applied.
package target

import (
	"fmt"
	"math"

	"multipair-engine/internal/domain"
)

// Config holds the shaping constants of the target calculation.
type Config struct {
	VolatilityRatioBound  float64 `yaml:"volatility_ratio_bound"` // clamp for ratio-1
	SpreadLogScale        float64 `yaml:"spread_log_scale"`
	SpreadTermMin         float64 `yaml:"spread_term_min"`
	SpreadTermMax         float64 `yaml:"spread_term_max"`
	FuturesRangeFraction  float64 `yaml:"futures_range_fraction"`
	TemporalRangeFraction float64 `yaml:"temporal_range_fraction"`

	RoundTripFee float64 `yaml:"round_trip_fee"`

	AggressiveMultiple        float64 `yaml:"aggressive_multiple"`   // target > multiple*baseline is aggressive
	ConservativeMultiple      float64 `yaml:"conservative_multiple"` // target < multiple*baseline is conservative
	AggressiveSuccessDiscount float64 `yaml:"aggressive_success_discount"`
	ConservativeSuccessBoost  float64 `yaml:"conservative_success_boost"`

	DefaultConfidence   float64 `yaml:"default_confidence"`
	ConditionShift      float64 `yaml:"condition_shift"`
	AggressivePenalty   float64 `yaml:"aggressive_penalty"`
	PredictabilityBoost float64 `yaml:"predictability_boost"`
	MinConfidence       float64 `yaml:"min_confidence"`
	MaxConfidence       float64 `yaml:"max_confidence"`
	FavorableThreshold  float64 `yaml:"favorable_threshold"`
}

// DefaultConfig returns the production target settings.
func DefaultConfig() Config {
	return Config{
		VolatilityRatioBound:  0.5,
		SpreadLogScale:        0.001,
		SpreadTermMin:         -0.001,
		SpreadTermMax:         0.003,
		FuturesRangeFraction:  0.02,
		TemporalRangeFraction: 0.01,

		RoundTripFee: 0.004,

		AggressiveMultiple:        1.5,
		ConservativeMultiple:      1.1,
		AggressiveSuccessDiscount: 0.85,
		ConservativeSuccessBoost:  1.05,

		DefaultConfidence:   0.7,
		ConditionShift:      0.2,
		AggressivePenalty:   0.15,
		PredictabilityBoost: 0.1,
		MinConfidence:       0.1,
		MaxConfidence:       1.0,
		FavorableThreshold:  0.5,
	}
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if c.VolatilityRatioBound <= 0 {
		return fmt.Errorf("volatility ratio bound must be > 0")
	}
	if c.SpreadTermMin > c.SpreadTermMax {
		return fmt.Errorf("spread term bounds inverted")
	}
	if c.FuturesRangeFraction < 0 || c.TemporalRangeFraction < 0 {
		return fmt.Errorf("signal range fractions must be >= 0")
	}
	if c.RoundTripFee < 0 {
		return fmt.Errorf("round trip fee must be >= 0")
	}
	if c.MinConfidence > c.MaxConfidence {
		return fmt.Errorf("confidence bounds inverted")
	}
	if c.DefaultConfidence < 0 || c.DefaultConfidence > 1 {
		return fmt.Errorf("default confidence must be in [0,1]")
	}
	return nil
}

// Calculator computes adaptive targets.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a target calculator.
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("target config: %w", err)
	}
	return &Calculator{cfg: cfg}, nil
}

// Calculate returns the bounded exit target and its derived quantities.
func (c *Calculator) Calculate(profile domain.PairProfile, m domain.MarketAssessment) domain.TargetTrace {
	tr := domain.TargetTrace{
		Baseline:       profile.BaselineTarget,
		VolatilityTerm: c.VolatilityTerm(profile, m.CurrentVolatility),
		SpreadTerm:     c.SpreadTerm(profile, m.CurrentSpread),
		FuturesTerm:    c.FuturesTerm(profile, m.FuturesStrength),
		TemporalTerm:   c.TemporalTerm(profile, m.TemporalBias),
		RoundTripFee:   c.cfg.RoundTripFee,
	}

	tr.RawTarget = tr.Baseline + tr.VolatilityTerm + tr.SpreadTerm + tr.FuturesTerm + tr.TemporalTerm
	tr.Target = clamp(tr.RawTarget, profile.ConservativeTarget, profile.AggressiveTarget)
	tr.Clamped = tr.Target != tr.RawTarget

	tr.ExpectedHoldMinutes = math.Sqrt(tr.Target/profile.BaselineTarget) * profile.AvgHoldTimeMinutes
	tr.SuccessRate = c.successRate(profile, m, tr.Target)
	tr.ExpectedReturn = math.Max(0, tr.Target-c.cfg.RoundTripFee) * tr.SuccessRate

	tr.ConditionScore, tr.Condition = c.marketCondition(profile, m)
	tr.Confidence = c.confidence(profile, m, tr.Target, tr.Condition)

	return tr
}

// VolatilityTerm scales the pair's target range by how far volatility is from expectation.
func (c *Calculator) VolatilityTerm(profile domain.PairProfile, volatility float64) float64 {
	ratio := volatility / profile.ExpectedVolatility
	bound := c.cfg.VolatilityRatioBound
	return profile.TargetRange() * clamp(ratio-1, -bound, bound)
}

// SpreadTerm pushes the target up on wide spreads and down on tight ones, bounded.
func (c *Calculator) SpreadTerm(profile domain.PairProfile, spread float64) float64 {
	if spread <= 0 {
		return c.cfg.SpreadTermMin
	}
	ratio := spread / profile.SpreadBaseline
	return clamp(math.Log2(ratio)*c.cfg.SpreadLogScale, c.cfg.SpreadTermMin, c.cfg.SpreadTermMax)
}

// FuturesTerm never lowers the target.
func (c *Calculator) FuturesTerm(profile domain.PairProfile, strength *float64) float64 {
	if strength == nil {
		return 0
	}
	return clamp(*strength, 0, 1) * c.cfg.FuturesRangeFraction * profile.TargetRange()
}

// TemporalTerm never lowers the target.
func (c *Calculator) TemporalTerm(profile domain.PairProfile, bias *float64) float64 {
	if bias == nil {
		return 0
	}
	return clamp(math.Abs(*bias), 0, 1) * c.cfg.TemporalRangeFraction * profile.TargetRange()
}

func (c *Calculator) successRate(profile domain.PairProfile, m domain.MarketAssessment, target float64) float64 {
	rate := profile.MinSuccessRate
	if m.HistoricalWinRate != nil {
		rate = clamp(*m.HistoricalWinRate, 0, 1)
	}

	switch {
	case target > c.cfg.AggressiveMultiple*profile.BaselineTarget:
		rate *= c.cfg.AggressiveSuccessDiscount
	case target < c.cfg.ConservativeMultiple*profile.BaselineTarget:
		rate *= c.cfg.ConservativeSuccessBoost
	}
	return math.Min(rate, 1)
}

// marketCondition averages three per-factor scores in {-1, 0, +1}.
func (c *Calculator) marketCondition(profile domain.PairProfile, m domain.MarketAssessment) (float64, domain.MarketCondition) {
	var volScore, spreadScore, volumeScore float64

	volRatio := m.CurrentVolatility / profile.ExpectedVolatility
	switch {
	case volRatio >= 0.8 && volRatio <= 1.25:
		volScore = 1
	case volRatio < 0.5 || volRatio > 2:
		volScore = -1
	}

	spreadRatio := m.CurrentSpread / profile.SpreadBaseline
	switch {
	case spreadRatio <= 1:
		spreadScore = 1
	case spreadRatio > 2:
		spreadScore = -1
	}

	if m.AverageVolume > 0 {
		volumeRatio := m.Volume / m.AverageVolume
		switch {
		case volumeRatio >= 1:
			volumeScore = 1
		case volumeRatio < 0.5:
			volumeScore = -1
		}
	}

	score := (volScore + spreadScore + volumeScore) / 3
	switch {
	case score >= c.cfg.FavorableThreshold:
		return score, domain.ConditionFavorable
	case score <= -c.cfg.FavorableThreshold:
		return score, domain.ConditionUnfavorable
	default:
		return score, domain.ConditionNormal
	}
}

func (c *Calculator) confidence(profile domain.PairProfile, m domain.MarketAssessment, target float64, cond domain.MarketCondition) float64 {
	conf := c.cfg.DefaultConfidence
	if m.SignalConfidence != nil {
		conf = *m.SignalConfidence
	}

	switch cond {
	case domain.ConditionFavorable:
		conf += c.cfg.ConditionShift
	case domain.ConditionUnfavorable:
		conf -= c.cfg.ConditionShift
	}

	if target > c.cfg.AggressiveMultiple*profile.BaselineTarget {
		conf -= c.cfg.AggressivePenalty
	}
	if profile.HighPredictability {
		conf += c.cfg.PredictabilityBoost
	}
	return clamp(conf, c.cfg.MinConfidence, c.cfg.MaxConfidence)
}

// clamp maps NaN to lo.
func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) || x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
