// Package risk validates proposed decisions against the numeric risk limits.
// Every criterion is evaluated and reported; validation never adjusts the proposal.
package risk

import (
	"fmt"

	"multipair-engine/internal/domain"
)

// Config holds the risk limits.
type Config struct {
	MinConfidence           float64 `yaml:"min_confidence"`
	MinTradeSize            float64 `yaml:"min_trade_size"`
	MaxTotalExposurePercent float64 `yaml:"max_total_exposure_percent"`
	MaxConcurrentPositions  int     `yaml:"max_concurrent_positions"` // capital mode only
}

// DefaultConfig returns the production risk limits.
func DefaultConfig() Config {
	return Config{
		MinConfidence:           0.3,
		MinTradeSize:            5,
		MaxTotalExposurePercent: 0.8,
		MaxConcurrentPositions:  5,
	}
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("risk min confidence must be in [0,1]")
	}
	if c.MaxTotalExposurePercent <= 0 || c.MaxTotalExposurePercent > 1 {
		return fmt.Errorf("max total exposure percent must be in (0,1]")
	}
	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("max concurrent positions must be > 0")
	}
	return nil
}

// Input is a proposed decision.
type Input struct {
	Profile    domain.PairProfile
	Minimum    domain.ExchangeMinimum
	Mode       domain.SizingMode
	Target     float64
	Confidence float64
	Size       float64

	// Exposure context. In capital mode TotalBudget is the caller's capital.
	UsedBudget    float64
	TotalBudget   float64
	OpenPositions int
}

// Validator evaluates risk criteria.
type Validator struct {
	cfg Config
}

// NewValidator creates a validator. Returns an error on invalid config.
func NewValidator(cfg Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	return &Validator{cfg: cfg}, nil
}

// Validate produces the full checklist. Approved only if every criterion passes.
func (v *Validator) Validate(in Input) domain.RiskTrace {
	criteria := v.evaluateCriteria(in)

	tr := domain.RiskTrace{Approved: true, Criteria: criteria}
	for _, c := range criteria {
		if !c.Pass {
			tr.Approved = false
			tr.RejectionReasons = append(tr.RejectionReasons,
				fmt.Sprintf("%s: %s (limit %s)", c.Name, c.Actual, c.Threshold))
		}
	}
	return tr
}

func (v *Validator) evaluateCriteria(in Input) []domain.CriterionResult {
	criteria := make([]domain.CriterionResult, 0, 6)

	// 1. Target never beyond the pair's aggressive bound
	criteria = append(criteria, domain.CriterionResult{
		Name:      "Target within aggressive bound",
		Threshold: fmt.Sprintf("<= %.6f", in.Profile.AggressiveTarget),
		Actual:    fmt.Sprintf("%.6f", in.Target),
		Pass:      in.Target <= in.Profile.AggressiveTarget,
	})

	// 2. Confidence floor
	criteria = append(criteria, domain.CriterionResult{
		Name:      "Confidence floor",
		Threshold: fmt.Sprintf(">= %.2f", v.cfg.MinConfidence),
		Actual:    fmt.Sprintf("%.4f", in.Confidence),
		Pass:      in.Confidence >= v.cfg.MinConfidence,
	})

	// 3. Minimum trade size
	criteria = append(criteria, domain.CriterionResult{
		Name:      "Minimum trade size",
		Threshold: fmt.Sprintf(">= %.2f", v.cfg.MinTradeSize),
		Actual:    fmt.Sprintf("%.4f", in.Size),
		Pass:      in.Size >= v.cfg.MinTradeSize,
	})

	// 4. Exchange minimum cost
	criteria = append(criteria, domain.CriterionResult{
		Name:      "Exchange minimum cost",
		Threshold: fmt.Sprintf(">= %.4f", in.Minimum.MinCost),
		Actual:    fmt.Sprintf("%.4f", in.Size),
		Pass:      in.Size >= in.Minimum.MinCost,
	})

	// 5. Projected total exposure
	limit := in.TotalBudget * v.cfg.MaxTotalExposurePercent
	projected := in.UsedBudget + in.Size
	criteria = append(criteria, domain.CriterionResult{
		Name:      "Total exposure",
		Threshold: fmt.Sprintf("<= %.4f", limit),
		Actual:    fmt.Sprintf("%.4f", projected),
		Pass:      projected <= limit,
	})

	// 6. Concurrent positions (capital mode only; budget mode is bounded by the ledger)
	if in.Mode == domain.SizingModeCapital {
		criteria = append(criteria, domain.CriterionResult{
			Name:      "Concurrent positions",
			Threshold: fmt.Sprintf("<= %d", v.cfg.MaxConcurrentPositions),
			Actual:    fmt.Sprintf("%d", in.OpenPositions+1),
			Pass:      in.OpenPositions+1 <= v.cfg.MaxConcurrentPositions,
		})
	}

	return criteria
}
