package domain

import (
	"fmt"
	"time"
)

// VolatilityClass buckets pairs by how violently they move.
type VolatilityClass string

const (
	VolatilityUltraLow VolatilityClass = "ultra_low"
	VolatilityLow      VolatilityClass = "low"
	VolatilityModerate VolatilityClass = "moderate"
	VolatilityHigh     VolatilityClass = "high"
)

// String returns the string representation of VolatilityClass.
func (v VolatilityClass) String() string {
	return string(v)
}

// IsValid checks if the class is a known value.
func (v VolatilityClass) IsValid() bool {
	switch v {
	case VolatilityUltraLow, VolatilityLow, VolatilityModerate, VolatilityHigh:
		return true
	}
	return false
}

// PairProfile is the static trading profile of one instrument.
// Targets are fractional returns (0.006 = 0.6%).
type PairProfile struct {
	Pair               string          `yaml:"pair" json:"pair"`
	BaselineTarget     float64         `yaml:"baseline_target" json:"baseline_target"`
	ConservativeTarget float64         `yaml:"conservative_target" json:"conservative_target"`
	AggressiveTarget   float64         `yaml:"aggressive_target" json:"aggressive_target"`
	VolatilityClass    VolatilityClass `yaml:"volatility_class" json:"volatility_class"`
	SpreadBaseline     float64         `yaml:"spread_baseline" json:"spread_baseline"`         // fractional
	MinSuccessRate     float64         `yaml:"min_success_rate" json:"min_success_rate"`       // [0,1]
	AvgHoldTimeMinutes float64         `yaml:"avg_hold_time_minutes" json:"avg_hold_time_minutes"`
	ExpectedVolatility float64         `yaml:"expected_volatility" json:"expected_volatility"` // fractional
	HighPredictability bool            `yaml:"high_predictability" json:"high_predictability"`
}

// TargetRange returns aggressive - conservative.
func (p PairProfile) TargetRange() float64 {
	return p.AggressiveTarget - p.ConservativeTarget
}

// Validate reports configuration errors. Inconsistent bounds are never corrected.
func (p PairProfile) Validate() error {
	if p.Pair == "" {
		return fmt.Errorf("pair profile: empty pair")
	}
	if p.ConservativeTarget > p.AggressiveTarget {
		return fmt.Errorf("pair %s: conservative target %.6f > aggressive target %.6f",
			p.Pair, p.ConservativeTarget, p.AggressiveTarget)
	}
	if p.BaselineTarget < p.ConservativeTarget || p.BaselineTarget > p.AggressiveTarget {
		return fmt.Errorf("pair %s: baseline target %.6f outside [%.6f, %.6f]",
			p.Pair, p.BaselineTarget, p.ConservativeTarget, p.AggressiveTarget)
	}
	if p.BaselineTarget <= 0 {
		return fmt.Errorf("pair %s: baseline target must be > 0", p.Pair)
	}
	if !p.VolatilityClass.IsValid() {
		return fmt.Errorf("pair %s: unknown volatility class %q", p.Pair, p.VolatilityClass)
	}
	if p.SpreadBaseline <= 0 {
		return fmt.Errorf("pair %s: spread baseline must be > 0", p.Pair)
	}
	if p.ExpectedVolatility <= 0 {
		return fmt.Errorf("pair %s: expected volatility must be > 0", p.Pair)
	}
	if p.MinSuccessRate < 0 || p.MinSuccessRate > 1 {
		return fmt.Errorf("pair %s: min success rate must be in [0,1]", p.Pair)
	}
	if p.AvgHoldTimeMinutes <= 0 {
		return fmt.Errorf("pair %s: average hold time must be > 0", p.Pair)
	}
	return nil
}

// ExchangeMinimum holds the venue order minimums for a pair.
// Supplied by an external provider and cached with FetchedAt.
type ExchangeMinimum struct {
	Pair            string    `yaml:"pair" json:"pair"`
	MinVolume       float64   `yaml:"min_volume" json:"min_volume"` // base currency units
	MinCost         float64   `yaml:"min_cost" json:"min_cost"`     // quote currency units
	PricePrecision  int32     `yaml:"price_precision" json:"price_precision"`
	VolumePrecision int32     `yaml:"volume_precision" json:"volume_precision"`
	FetchedAt       time.Time `yaml:"-" json:"fetched_at"`
}
