// Package sizing computes trade size from budget or capital, pair class, confidence
// and exchange minimums.
package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/exchange"
)

// Sizing errors. None of them are silently worked around.
var (
	// ErrInsufficientBudget is returned when nothing (or less than MinCost) is available.
	ErrInsufficientBudget = errors.New("insufficient budget")

	// ErrMinimumVolumeUnaffordable is returned when raising the size to the exchange
	// minimum volume would exceed the available budget.
	ErrMinimumVolumeUnaffordable = errors.New("minimum volume exceeds available budget")

	// ErrNoCapital is returned in capital mode when the caller supplies no capital.
	ErrNoCapital = errors.New("no capital supplied")

	// ErrInvalidPrice is returned for non-positive prices.
	ErrInvalidPrice = errors.New("invalid price")
)

// Config controls position sizing.
type Config struct {
	Mode                   domain.SizingMode                  `yaml:"mode"`
	MaxPositionSizePercent float64                            `yaml:"max_position_size_percent"`
	MinTradeSize           float64                            `yaml:"min_trade_size"`
	MaxTradeSize           float64                            `yaml:"max_trade_size"`
	ClassMultipliers       map[domain.VolatilityClass]float64 `yaml:"class_multipliers"`
}

// DefaultConfig returns the production sizing settings.
func DefaultConfig() Config {
	return Config{
		Mode:                   domain.SizingModeBudget,
		MaxPositionSizePercent: 0.1,
		MinTradeSize:           5,
		MaxTradeSize:           50,
		ClassMultipliers: map[domain.VolatilityClass]float64{
			domain.VolatilityUltraLow: 1.2,
			domain.VolatilityLow:      1.0,
			domain.VolatilityModerate: 1.0,
			domain.VolatilityHigh:     0.8,
		},
	}
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if c.Mode != domain.SizingModeBudget && c.Mode != domain.SizingModeCapital {
		return fmt.Errorf("unknown sizing mode %q", c.Mode)
	}
	if c.MaxPositionSizePercent <= 0 || c.MaxPositionSizePercent > 1 {
		return fmt.Errorf("max position size percent must be in (0,1]")
	}
	if c.MinTradeSize < 0 {
		return fmt.Errorf("min trade size must be >= 0")
	}
	if c.MaxTradeSize < c.MinTradeSize {
		return fmt.Errorf("max trade size %.2f < min trade size %.2f", c.MaxTradeSize, c.MinTradeSize)
	}
	for class, m := range c.ClassMultipliers {
		if !class.IsValid() {
			return fmt.Errorf("unknown volatility class %q in multipliers", class)
		}
		if m <= 0 {
			return fmt.Errorf("class multiplier for %s must be > 0", class)
		}
	}
	return nil
}

// Request carries everything one sizing call needs.
type Request struct {
	Profile          domain.PairProfile
	Minimum          domain.ExchangeMinimum
	Price            float64
	Confidence       float64 // adaptive target confidence
	FusionMultiplier float64 // 1 when no fusion ran

	// Budget mode
	TotalBudget     float64
	AvailableBudget float64 // already capped by pacing release

	// Capital mode
	Capital float64
}

// Sizer computes position sizes.
type Sizer struct {
	cfg Config
}

// NewSizer creates a sizer. Returns an error on invalid config.
func NewSizer(cfg Config) (*Sizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sizing config: %w", err)
	}
	return &Sizer{cfg: cfg}, nil
}

// Mode returns the configured sizing mode.
func (s *Sizer) Mode() domain.SizingMode {
	return s.cfg.Mode
}

// Size computes the position size including the minimum-volume correction.
// The returned trace is populated as far as sizing got, also on error.
func (s *Sizer) Size(req Request) (domain.SizingTrace, error) {
	tr := domain.SizingTrace{
		Mode:             s.cfg.Mode,
		ClassMultiplier:  s.classMultiplier(req.Profile.VolatilityClass),
		Confidence:       req.Confidence,
		FusionMultiplier: req.FusionMultiplier,
	}
	if req.Price <= 0 {
		return tr, ErrInvalidPrice
	}

	tr.Allocation = s.cfg.MaxPositionSizePercent * tr.ClassMultiplier * req.Confidence * req.FusionMultiplier

	var err error
	switch s.cfg.Mode {
	case domain.SizingModeCapital:
		err = s.sizeFromCapital(&tr, req)
	default:
		err = s.sizeFromBudget(&tr, req)
	}
	if err != nil {
		return tr, err
	}

	tr.PreCorrectionSize = tr.Size
	if err := s.correctMinimumVolume(&tr, req); err != nil {
		return tr, err
	}
	return tr, nil
}

func (s *Sizer) sizeFromBudget(tr *domain.SizingTrace, req Request) error {
	tr.SizingBase = req.TotalBudget
	tr.Available = req.AvailableBudget
	if req.AvailableBudget <= 0 {
		return ErrInsufficientBudget
	}

	tr.RawSize = req.TotalBudget * tr.Allocation
	tr.Size = s.bound(tr.RawSize, req.AvailableBudget)

	if tr.Size < req.Minimum.MinCost {
		if req.Minimum.MinCost > req.AvailableBudget {
			return fmt.Errorf("%w: min cost %.2f > available %.2f", ErrInsufficientBudget, req.Minimum.MinCost, req.AvailableBudget)
		}
		tr.Size = req.Minimum.MinCost
		tr.MinCostRaised = true
	}
	return nil
}

// sizeFromCapital has no MinCost floor; the risk validator rejects undersized trades.
func (s *Sizer) sizeFromCapital(tr *domain.SizingTrace, req Request) error {
	tr.SizingBase = req.Capital
	tr.Available = req.Capital
	if req.Capital <= 0 {
		return ErrNoCapital
	}

	tr.RawSize = req.Capital * tr.Allocation
	tr.Size = s.bound(tr.RawSize, req.Capital)
	return nil
}

// bound raises to MinTradeSize then caps at MaxTradeSize and the available amount.
func (s *Sizer) bound(size, available float64) float64 {
	if size < s.cfg.MinTradeSize {
		size = s.cfg.MinTradeSize
	}
	if size > s.cfg.MaxTradeSize {
		size = s.cfg.MaxTradeSize
	}
	if size > available {
		size = available
	}
	return size
}

// correctMinimumVolume sets the base volume at the pair's volume precision and
// raises the size so the volume meets the exchange minimum. Volume is truncated,
// so an uncorrected size never grows. In budget mode a corrected size must still
// fit in the available budget.
func (s *Sizer) correctMinimumVolume(tr *domain.SizingTrace, req Request) error {
	price := decimal.NewFromFloat(req.Price)
	size := decimal.NewFromFloat(tr.Size)
	minVolume := exchange.RoundVolumeUp(req.Minimum, decimal.NewFromFloat(req.Minimum.MinVolume))

	volume := size.Div(price)
	if req.Minimum.VolumePrecision > 0 {
		volume = exchange.RoundVolumeDown(req.Minimum, volume)
		size = volume.Mul(price)
	}

	if volume.LessThan(minVolume) {
		corrected := minVolume.Mul(price)
		if s.cfg.Mode == domain.SizingModeBudget && corrected.GreaterThan(decimal.NewFromFloat(req.AvailableBudget)) {
			tr.Volume = volume.InexactFloat64()
			return fmt.Errorf("%w: need %s, available %.2f", ErrMinimumVolumeUnaffordable,
				corrected.StringFixed(2), req.AvailableBudget)
		}
		size = corrected
		volume = minVolume
		tr.MinVolumeCorrected = true
	}

	tr.Size = size.InexactFloat64()
	tr.Volume = volume.InexactFloat64()
	return nil
}

func (s *Sizer) classMultiplier(class domain.VolatilityClass) float64 {
	if m, ok := s.cfg.ClassMultipliers[class]; ok {
		return m
	}
	return 1.0
}
