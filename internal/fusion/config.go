package fusion

import (
	"fmt"
	"math"
)

// Config holds the weights and shaping constants for signal fusion.
// None of these have a derivation beyond tuning; keep them overridable.
type Config struct {
	// Component weights. Must sum to WeightTotal.
	MicroWeight    float64 `yaml:"micro_weight"`
	TemporalWeight float64 `yaml:"temporal_weight"`
	FuturesWeight  float64 `yaml:"futures_weight"`
	WeightTotal    float64 `yaml:"weight_total"`

	// Normalization scales: |value| / scale is clamped to [0,1].
	MicroScale    float64 `yaml:"micro_scale"`
	TemporalScale float64 `yaml:"temporal_scale"`
	FuturesScale  float64 `yaml:"futures_scale"`

	MaxConfidenceAdjustment float64 `yaml:"max_confidence_adjustment"`

	// Price adjustment sigmoid.
	PriceSteepness     float64 `yaml:"price_steepness"`
	PriceThreshold     float64 `yaml:"price_threshold"`
	MaxPriceAdjustment float64 `yaml:"max_price_adjustment"`
	AdverseRatio       float64 `yaml:"adverse_ratio"`

	NeutralUrgency      float64 `yaml:"neutral_urgency"`
	UrgencyMicroGain    float64 `yaml:"urgency_micro_gain"`
	UrgencyTemporalGain float64 `yaml:"urgency_temporal_gain"`

	// Position multiplier curve over [MinTradingConfidence, 1].
	MinTradingConfidence float64 `yaml:"min_trading_confidence"`
	BaseMultiplier       float64 `yaml:"base_multiplier"`
	MaxMultiplier        float64 `yaml:"max_multiplier"`
	MultiplierExponent   float64 `yaml:"multiplier_exponent"`
}

// DefaultConfig returns the production fusion settings.
func DefaultConfig() Config {
	return Config{
		MicroWeight:    0.2,
		TemporalWeight: 0.3,
		FuturesWeight:  0.5,
		WeightTotal:    1.0,

		MicroScale:    0.002,
		TemporalScale: 0.005,
		FuturesScale:  1.0,

		MaxConfidenceAdjustment: 0.15,

		PriceSteepness:     2000,
		PriceThreshold:     0.001,
		MaxPriceAdjustment: 0.002,
		AdverseRatio:       0.5,

		NeutralUrgency:      0.5,
		UrgencyMicroGain:    0.3,
		UrgencyTemporalGain: 0.1,

		MinTradingConfidence: 0.55,
		BaseMultiplier:       1.0,
		MaxMultiplier:        1.5,
		MultiplierExponent:   2.0,
	}
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if c.MicroWeight < 0 || c.TemporalWeight < 0 || c.FuturesWeight < 0 {
		return fmt.Errorf("fusion weights must be >= 0")
	}
	sum := c.MicroWeight + c.TemporalWeight + c.FuturesWeight
	if c.WeightTotal <= 0 || math.Abs(sum-c.WeightTotal) > 1e-9 {
		return fmt.Errorf("fusion weights sum to %.6f, want %.6f", sum, c.WeightTotal)
	}
	if c.MicroScale <= 0 || c.TemporalScale <= 0 || c.FuturesScale <= 0 {
		return fmt.Errorf("fusion scales must be > 0")
	}
	if c.MaxConfidenceAdjustment < 0 || c.MaxConfidenceAdjustment > 1 {
		return fmt.Errorf("max confidence adjustment must be in [0,1]")
	}
	if c.PriceSteepness <= 0 {
		return fmt.Errorf("price steepness must be > 0")
	}
	if c.MaxPriceAdjustment < 0 {
		return fmt.Errorf("max price adjustment must be >= 0")
	}
	if c.AdverseRatio < 0 || c.AdverseRatio >= 1 {
		return fmt.Errorf("adverse ratio must be in [0,1)")
	}
	if c.NeutralUrgency < 0 || c.NeutralUrgency > 1 {
		return fmt.Errorf("neutral urgency must be in [0,1]")
	}
	if c.MinTradingConfidence < 0 || c.MinTradingConfidence >= 1 {
		return fmt.Errorf("min trading confidence must be in [0,1)")
	}
	if c.BaseMultiplier < 0 || c.MaxMultiplier < c.BaseMultiplier {
		return fmt.Errorf("multiplier bounds invalid: base %.3f max %.3f", c.BaseMultiplier, c.MaxMultiplier)
	}
	if c.MultiplierExponent < 1 {
		return fmt.Errorf("multiplier exponent must be >= 1")
	}
	return nil
}
