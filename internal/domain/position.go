package domain

import "time"

// Direction is the side of a trade.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	return string(d)
}

// IsValid checks if the direction is a known value.
func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Position is an open exposure created by an EXECUTE decision.
type Position struct {
	TradeID          string    `json:"trade_id"` // deterministic hash of pair, direction, session, entry time and sequence
	Pair             string    `json:"pair"`
	Direction        Direction `json:"direction"`
	EntryPrice       float64   `json:"entry_price"`
	QuotedPrice      float64   `json:"quoted_price"`  // opportunity price before fusion and rounding
	PositionSize     float64   `json:"position_size"` // quote currency notional
	ExitTarget       float64   `json:"exit_target"`   // fractional target
	StopLossPrice    float64   `json:"stop_loss_price"`
	EntryTime        time.Time `json:"entry_time"`
	ExpectedExitTime time.Time `json:"expected_exit_time"`
}

// LayeringPrice is the price the layering guard compares candidates against.
// Candidates are checked before fusion, so this is the quoted price; positions
// recorded without one fall back to the entry price.
func (p Position) LayeringPrice() float64 {
	if p.QuotedPrice > 0 {
		return p.QuotedPrice
	}
	return p.EntryPrice
}

// ExitPrice returns the price at which the exit target is reached.
func (p Position) ExitPrice() float64 {
	return p.EntryPrice * (1 + p.Direction.Sign()*p.ExitTarget)
}

// BudgetState is the process-wide budget snapshot.
type BudgetState struct {
	TotalBudget     float64   `json:"total_budget"`
	UsedBudget      float64   `json:"used_budget"`
	AvailableBudget float64   `json:"available_budget"`
	LastUpdate      time.Time `json:"last_update"`
}
