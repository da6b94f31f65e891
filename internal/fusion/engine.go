// Package fusion combines micro-timing, temporal and futures-lead signals into
// continuous trade adjustments. Everything here is a pure function of its inputs.
package fusion

import (
	"fmt"
	"math"

	"multipair-engine/internal/domain"
)

// TradePlan is the unadjusted trade the signals are applied to.
type TradePlan struct {
	Pair           string
	Direction      domain.Direction
	BasePrice      float64
	BaseConfidence float64
}

// Engine applies the fusion functions with a fixed Config.
type Engine struct {
	cfg Config
}

// NewEngine creates a fusion engine. Returns an error on invalid config.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fusion config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Fuse computes all four adjustments for a plan.
func (e *Engine) Fuse(plan TradePlan, signals *domain.Signals) domain.FusionTrace {
	if signals == nil {
		signals = &domain.Signals{}
	}

	micro, temporal, futures := e.components(plan.Direction, signals)
	delta := e.confidenceDelta(micro, temporal, futures)
	adjusted := clamp(plan.BaseConfidence+delta, 0, 1)

	priceDelta := e.PriceAdjustment(plan.Direction, signals.Micro)

	return domain.FusionTrace{
		MicroComponent:     micro,
		TemporalComponent:  temporal,
		FuturesComponent:   futures,
		ConfidenceDelta:    delta,
		AdjustedConfidence: adjusted,
		PriceDelta:         priceDelta,
		AdjustedPrice:      plan.BasePrice * (1 + priceDelta),
		TimingUrgency:      e.TimingUrgency(plan.Direction, signals),
		PositionMultiplier: e.PositionMultiplier(adjusted),
	}
}

// ConfidenceAdjustment returns the bounded confidence delta for the signals.
func (e *Engine) ConfidenceAdjustment(dir domain.Direction, signals *domain.Signals) float64 {
	if signals == nil {
		return 0
	}
	return e.confidenceDelta(e.components(dir, signals))
}

func (e *Engine) components(dir domain.Direction, s *domain.Signals) (micro, temporal, futures float64) {
	if s.Micro != nil {
		micro = normalize(s.Micro.Value, e.cfg.MicroScale) * biasAlignment(s.Micro.Value, dir) * clamp(s.Micro.Confidence, 0, 1)
	}
	if s.Temporal != nil {
		temporal = normalize(s.Temporal.Value, e.cfg.TemporalScale) * biasAlignment(s.Temporal.Value, dir) * clamp(s.Temporal.Confidence, 0, 1)
	}
	if s.Futures != nil {
		futures = normalize(s.Futures.Strength, e.cfg.FuturesScale) * futuresAlignment(s.Futures.Direction, dir) * clamp(s.Futures.Confidence, 0, 1)
	}
	return micro, temporal, futures
}

// confidenceDelta is the weighted average of the components scaled to the max adjustment.
// Absent signals keep their weight in the denominator.
func (e *Engine) confidenceDelta(micro, temporal, futures float64) float64 {
	weighted := e.cfg.MicroWeight*micro + e.cfg.TemporalWeight*temporal + e.cfg.FuturesWeight*futures
	avg := weighted / e.cfg.WeightTotal
	return clamp(avg, -1, 1) * e.cfg.MaxConfidenceAdjustment
}

// PriceAdjustment returns the fractional entry offset derived from the micro bias.
// Negative moves the entry price down.
func (e *Engine) PriceAdjustment(dir domain.Direction, micro *domain.MicroBias) float64 {
	if micro == nil || micro.Value == 0 {
		return 0
	}

	s := sigmoid(e.cfg.PriceSteepness * (math.Abs(micro.Value) - e.cfg.PriceThreshold))
	raw := s * e.cfg.MaxPriceAdjustment * clamp(micro.Confidence, 0, 1)

	var adj float64
	if biasAlignment(micro.Value, dir) > 0 {
		// favorable drift: improve the entry (buy lower, sell higher)
		adj = -dir.Sign() * raw
	} else {
		// adverse drift: chase, but only partially
		adj = dir.Sign() * raw * e.cfg.AdverseRatio
	}
	return clamp(adj, -e.cfg.MaxPriceAdjustment, e.cfg.MaxPriceAdjustment)
}

// TimingUrgency returns how quickly the trade should be placed, in [0,1].
func (e *Engine) TimingUrgency(dir domain.Direction, s *domain.Signals) float64 {
	urgency := e.cfg.NeutralUrgency
	if s == nil {
		return urgency
	}

	if s.Micro != nil {
		damp := 1 / (1 + math.Max(0, s.Micro.RelativeVolatility-1))
		strength := normalize(s.Micro.Value, e.cfg.MicroScale)
		urgency += e.cfg.UrgencyMicroGain * strength * biasAlignment(s.Micro.Value, dir) * damp
	}
	if s.Temporal != nil {
		strength := normalize(s.Temporal.Value, e.cfg.TemporalScale)
		urgency += e.cfg.UrgencyTemporalGain * strength * biasAlignment(s.Temporal.Value, dir) * clamp(s.Temporal.Confidence, 0, 1)
	}
	return clamp(urgency, 0, 1)
}

// PositionMultiplier maps post-adjustment confidence to a size multiplier.
// Below MinTradingConfidence the multiplier is zero.
func (e *Engine) PositionMultiplier(confidence float64) float64 {
	if confidence < e.cfg.MinTradingConfidence {
		return 0
	}
	t := (clamp(confidence, 0, 1) - e.cfg.MinTradingConfidence) / (1 - e.cfg.MinTradingConfidence)
	return e.cfg.BaseMultiplier + (e.cfg.MaxMultiplier-e.cfg.BaseMultiplier)*math.Pow(t, e.cfg.MultiplierExponent)
}

// biasAlignment: a falling bias favors longs, a rising bias favors shorts.
func biasAlignment(value float64, dir domain.Direction) float64 {
	if (dir == domain.DirectionLong && value < 0) || (dir == domain.DirectionShort && value > 0) {
		return 1
	}
	return -1
}

func futuresAlignment(futuresDir, dir domain.Direction) float64 {
	if futuresDir == dir {
		return 1
	}
	return -1
}

func normalize(value, scale float64) float64 {
	return clamp(math.Abs(value)/scale, 0, 1)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
