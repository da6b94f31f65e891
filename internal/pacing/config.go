// Package pacing controls how quickly the session budget becomes available and how
// often trades may be placed.
package pacing

import (
	"fmt"
	"time"
)

// Strategy selects how the session budget is released over time.
type Strategy string

const (
	// StrategyProgressive releases an initial share, then increasing chunks on a schedule.
	StrategyProgressive Strategy = "progressive"
	// StrategyLinear ramps the released share linearly up to the full budget.
	StrategyLinear Strategy = "linear"
	// StrategyAdaptive releases more as the recent execution rate improves.
	StrategyAdaptive Strategy = "adaptive"
)

// Config holds pacing parameters.
type Config struct {
	Strategy              Strategy      `yaml:"strategy"`
	InitialReleasePercent float64       `yaml:"initial_release_percent"`
	RampUpDuration        time.Duration `yaml:"ramp_up_duration"`
	ReleaseInterval       time.Duration `yaml:"release_interval"`

	AdaptiveBonusPercent float64 `yaml:"adaptive_bonus_percent"`
	AdaptiveWindow       int     `yaml:"adaptive_window"`

	MinTimeBetweenTrades     time.Duration `yaml:"min_time_between_trades"`
	MinTimeBetweenPairTrades time.Duration `yaml:"min_time_between_pair_trades"`

	// MaxTradesPerInterval caps trades per TradeInterval. 0 disables the cap.
	MaxTradesPerInterval int           `yaml:"max_trades_per_interval"`
	TradeInterval        time.Duration `yaml:"trade_interval"`

	// TickInterval drives the release timer in Run.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// DefaultConfig returns the production pacing settings.
func DefaultConfig() Config {
	return Config{
		Strategy:                 StrategyProgressive,
		InitialReleasePercent:    0.3,
		RampUpDuration:           30 * time.Minute,
		ReleaseInterval:          5 * time.Minute,
		AdaptiveBonusPercent:     0.5,
		AdaptiveWindow:           20,
		MinTimeBetweenTrades:     30 * time.Second,
		MinTimeBetweenPairTrades: 5 * time.Minute,
		MaxTradesPerInterval:     0,
		TradeInterval:            time.Hour,
		TickInterval:             10 * time.Second,
	}
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyProgressive, StrategyLinear, StrategyAdaptive:
	default:
		return fmt.Errorf("unknown pacing strategy %q", c.Strategy)
	}
	if c.InitialReleasePercent < 0 || c.InitialReleasePercent > 1 {
		return fmt.Errorf("initial release percent must be in [0,1]")
	}
	if c.Strategy != StrategyAdaptive && c.RampUpDuration <= 0 {
		return fmt.Errorf("ramp up duration must be > 0")
	}
	if c.Strategy == StrategyProgressive {
		if c.ReleaseInterval <= 0 {
			return fmt.Errorf("release interval must be > 0")
		}
		if c.ReleaseInterval > c.RampUpDuration {
			return fmt.Errorf("release interval %s exceeds ramp up duration %s", c.ReleaseInterval, c.RampUpDuration)
		}
	}
	if c.Strategy == StrategyAdaptive && c.AdaptiveWindow <= 0 {
		return fmt.Errorf("adaptive window must be > 0")
	}
	if c.MinTimeBetweenTrades < 0 || c.MinTimeBetweenPairTrades < 0 {
		return fmt.Errorf("trade spacing must be >= 0")
	}
	if c.MaxTradesPerInterval < 0 {
		return fmt.Errorf("max trades per interval must be >= 0")
	}
	if c.MaxTradesPerInterval > 0 && c.TradeInterval <= 0 {
		return fmt.Errorf("trade interval must be > 0 when max trades per interval is set")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be > 0")
	}
	return nil
}
