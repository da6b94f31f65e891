package domain

import "time"

// Opportunity is a candidate trade surfaced by external signal analysis.
type Opportunity struct {
	Pair       string    `yaml:"pair" json:"pair"`
	Direction  Direction `yaml:"direction" json:"direction"`
	Price      float64   `yaml:"price" json:"price"`
	Confidence float64   `yaml:"confidence" json:"confidence"` // [0,1], from the signal source
	Signals    *Signals  `yaml:"signals,omitempty" json:"signals,omitempty"`
	Timestamp  time.Time `yaml:"timestamp" json:"timestamp"`

	// Capital is the caller-supplied available capital (capital sizing mode only).
	Capital float64 `yaml:"capital,omitempty" json:"capital,omitempty"`
	// OpenPositions is the caller's concurrent position count (capital sizing mode only).
	OpenPositions int `yaml:"open_positions,omitempty" json:"open_positions,omitempty"`
}

// Signals bundles the optional signal sources for an opportunity.
type Signals struct {
	Micro    *MicroBias     `yaml:"micro,omitempty" json:"micro,omitempty"`
	Temporal *TemporalBias  `yaml:"temporal,omitempty" json:"temporal,omitempty"`
	Futures  *FuturesSignal `yaml:"futures,omitempty" json:"futures,omitempty"`
}

// MicroBias is the intra-hour price bias. Value is a fractional expected move.
type MicroBias struct {
	Value              float64 `yaml:"value" json:"value"`
	Confidence         float64 `yaml:"confidence" json:"confidence"`
	RelativeVolatility float64 `yaml:"relative_volatility" json:"relative_volatility"` // current / expected
}

// TemporalBias is the broader hour-of-day / day-of-week bias.
type TemporalBias struct {
	Value      float64 `yaml:"value" json:"value"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
}

// FuturesSignal is the futures lead signal. Direction long means futures lead up.
type FuturesSignal struct {
	Direction  Direction `yaml:"direction" json:"direction"`
	Strength   float64   `yaml:"strength" json:"strength"` // [0,1]
	Confidence float64   `yaml:"confidence" json:"confidence"`
}

// MarketSnapshot is the current market state for a pair, pushed by the market-data feed.
type MarketSnapshot struct {
	Pair              string    `yaml:"pair" json:"pair"`
	Volatility        float64   `yaml:"volatility" json:"volatility"`
	Spread            float64   `yaml:"spread" json:"spread"`
	Volume            float64   `yaml:"volume" json:"volume"`
	AverageVolume     float64   `yaml:"average_volume" json:"average_volume"`
	FuturesStrength   *float64  `yaml:"futures_strength,omitempty" json:"futures_strength,omitempty"`
	TemporalBias      *float64  `yaml:"temporal_bias,omitempty" json:"temporal_bias,omitempty"`
	HistoricalWinRate *float64  `yaml:"historical_win_rate,omitempty" json:"historical_win_rate,omitempty"`
	Timestamp         time.Time `yaml:"timestamp" json:"timestamp"`
}

// MarketAssessment is the input to the adaptive target calculation.
type MarketAssessment struct {
	CurrentVolatility float64  `json:"current_volatility"`
	CurrentSpread     float64  `json:"current_spread"`
	Volume            float64  `json:"volume"`
	AverageVolume     float64  `json:"average_volume"`
	FuturesStrength   *float64 `json:"futures_strength,omitempty"`
	TemporalBias      *float64 `json:"temporal_bias,omitempty"`
	SignalConfidence  *float64 `json:"signal_confidence,omitempty"`
	HistoricalWinRate *float64 `json:"historical_win_rate,omitempty"`
}
