package ledger

import (
	"github.com/shopspring/decimal"

	"multipair-engine/internal/domain"
)

// PairIndex looks up open positions for a pair.
type PairIndex interface {
	PositionsForPair(pair string) []domain.Position
}

// LayeringGuard rejects same-direction positions stacked at near-identical prices.
type LayeringGuard struct {
	index     PairIndex
	threshold decimal.Decimal
}

// NewLayeringGuard creates a guard. threshold is the fractional price distance
// (0.001 = 0.1%) below which a same-direction position conflicts.
func NewLayeringGuard(index PairIndex, threshold float64) *LayeringGuard {
	return &LayeringGuard{
		index:     index,
		threshold: decimal.NewFromFloat(threshold),
	}
}

// Check returns the first open position on the pair with the same direction
// strictly within the threshold of price. price is an opportunity's quoted
// price and is compared with each position's LayeringPrice. Opposite directions
// never conflict.
func (g *LayeringGuard) Check(pair string, price float64, dir domain.Direction) (domain.Position, bool) {
	candidate := decimal.NewFromFloat(price)

	for _, p := range g.index.PositionsForPair(pair) {
		ref := p.LayeringPrice()
		if p.Direction != dir || ref <= 0 {
			continue
		}
		entry := decimal.NewFromFloat(ref)
		distance := candidate.Sub(entry).Abs().Div(entry)
		if distance.LessThan(g.threshold) {
			return p, true
		}
	}
	return domain.Position{}, false
}
