package domain

import "time"

// Action is the final outcome of a decision.
type Action string

const (
	ActionExecute Action = "EXECUTE"
	ActionReject  Action = "REJECT"
)

// ReasonCode classifies why a decision ended the way it did.
type ReasonCode string

const (
	ReasonApproved           ReasonCode = "APPROVED"
	ReasonPairUnsupported    ReasonCode = "PAIR_UNSUPPORTED"
	ReasonInvalidOpportunity ReasonCode = "INVALID_OPPORTUNITY"
	ReasonLayeringConflict   ReasonCode = "LAYERING_CONFLICT"
	ReasonPacingWait         ReasonCode = "PACING_WAIT"
	ReasonIntervalLimit      ReasonCode = "INTERVAL_LIMIT"
	ReasonInsufficientBudget ReasonCode = "INSUFFICIENT_BUDGET"
	ReasonLowFusedConfidence ReasonCode = "LOW_FUSED_CONFIDENCE"
	ReasonSizingFailed       ReasonCode = "SIZING_FAILED"
	ReasonRiskRejected       ReasonCode = "RISK_REJECTED"
)

// Decision is the immutable output of the decision pipeline.
// Every stage that ran leaves its trace; stages that did not run stay nil.
type Decision struct {
	ID             string     `json:"id"`
	OpportunityKey string     `json:"opportunity_key"`
	SessionID      string     `json:"session_id"`
	Pair           string     `json:"pair"`
	Direction      Direction  `json:"direction"`
	Action         Action     `json:"action"`
	Reason         ReasonCode `json:"reason"`
	Message        string     `json:"message"`
	Timestamp      time.Time  `json:"timestamp"`

	Price      float64 `json:"price"`       // opportunity price
	EntryPrice float64 `json:"entry_price"` // after fusion price adjustment
	Confidence float64 `json:"confidence"`  // opportunity confidence

	PacingWait       time.Duration     `json:"pacing_wait,omitempty"`
	LayeringConflict string            `json:"layering_conflict,omitempty"` // conflicting trade id
	Assessment       *MarketAssessment `json:"assessment,omitempty"`
	Fusion           *FusionTrace      `json:"fusion,omitempty"`
	Target           *TargetTrace      `json:"target,omitempty"`
	Sizing           *SizingTrace      `json:"sizing,omitempty"`
	Risk             *RiskTrace        `json:"risk,omitempty"`
	Position         *Position         `json:"position,omitempty"`
	Budget           BudgetState       `json:"budget"` // ledger state after the decision
}

// Executed reports whether the decision opened a position.
func (d *Decision) Executed() bool {
	return d != nil && d.Action == ActionExecute
}

// FusionTrace records the signal fusion adjustments.
type FusionTrace struct {
	MicroComponent     float64 `json:"micro_component"`
	TemporalComponent  float64 `json:"temporal_component"`
	FuturesComponent   float64 `json:"futures_component"`
	ConfidenceDelta    float64 `json:"confidence_delta"`
	AdjustedConfidence float64 `json:"adjusted_confidence"`
	PriceDelta         float64 `json:"price_delta"` // fractional offset applied to the base price
	AdjustedPrice      float64 `json:"adjusted_price"`
	TimingUrgency      float64 `json:"timing_urgency"`
	PositionMultiplier float64 `json:"position_multiplier"`
}

// MarketCondition is the coarse classification of the market assessment.
type MarketCondition string

const (
	ConditionFavorable   MarketCondition = "favorable"
	ConditionNormal      MarketCondition = "normal"
	ConditionUnfavorable MarketCondition = "unfavorable"
)

// TargetTrace records the adaptive target calculation.
type TargetTrace struct {
	Baseline            float64         `json:"baseline"`
	VolatilityTerm      float64         `json:"volatility_term"`
	SpreadTerm          float64         `json:"spread_term"`
	FuturesTerm         float64         `json:"futures_term"`
	TemporalTerm        float64         `json:"temporal_term"`
	RawTarget           float64         `json:"raw_target"` // before clamping
	Target              float64         `json:"target"`
	Clamped             bool            `json:"clamped"`
	ExpectedHoldMinutes float64         `json:"expected_hold_minutes"`
	SuccessRate         float64         `json:"success_rate"`
	RoundTripFee        float64         `json:"round_trip_fee"`
	ExpectedReturn      float64         `json:"expected_return"`
	ConditionScore      float64         `json:"condition_score"`
	Condition           MarketCondition `json:"condition"`
	Confidence          float64         `json:"confidence"`
}

// SizingMode selects where position size is drawn from.
type SizingMode string

const (
	SizingModeBudget  SizingMode = "budget"
	SizingModeCapital SizingMode = "capital"
)

// SizingTrace records the position sizing calculation.
type SizingTrace struct {
	Mode               SizingMode `json:"mode"`
	ClassMultiplier    float64    `json:"class_multiplier"`
	Confidence         float64    `json:"confidence"`
	FusionMultiplier   float64    `json:"fusion_multiplier"`
	Allocation         float64    `json:"allocation"` // fraction of the sizing base
	SizingBase         float64    `json:"sizing_base"`
	Available          float64    `json:"available"`
	RawSize            float64    `json:"raw_size"`
	MinCostRaised      bool       `json:"min_cost_raised"`
	PreCorrectionSize  float64    `json:"pre_correction_size"`
	MinVolumeCorrected bool       `json:"min_volume_corrected"`
	Size               float64    `json:"size"`
	Volume             float64    `json:"volume"` // base units at the entry price
}

// CriterionResult represents pass/fail for one risk criterion.
type CriterionResult struct {
	Name      string `json:"name"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
	Pass      bool   `json:"pass"`
}

// RiskTrace is the full risk checklist for a proposed decision.
type RiskTrace struct {
	Approved         bool              `json:"approved"`
	Criteria         []CriterionResult `json:"criteria"`
	RejectionReasons []string          `json:"rejection_reasons,omitempty"`
}
