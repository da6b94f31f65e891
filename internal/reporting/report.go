// Package reporting renders decision runs as Markdown and CSV.
package reporting

import (
	"time"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/engine"
)

// Report is one evaluation run.
type Report struct {
	GeneratedAt time.Time
	SessionID   string
	Stats       engine.Stats
	Budget      domain.BudgetState
	Released    float64
	Decisions   []*domain.Decision
	Errors      []string // opportunities that produced no decision
}

// PairSummary aggregates decisions for one pair.
type PairSummary struct {
	Pair      string
	Decisions int
	Executed  int
	Volume    float64 // sum of executed position sizes
	AvgTarget float64 // executed decisions
}

// PairSummaries groups the report decisions by pair, in first-seen order.
func (r *Report) PairSummaries() []PairSummary {
	var order []string
	byPair := make(map[string]*PairSummary)
	targetSum := make(map[string]float64)

	for _, d := range r.Decisions {
		s, ok := byPair[d.Pair]
		if !ok {
			s = &PairSummary{Pair: d.Pair}
			byPair[d.Pair] = s
			order = append(order, d.Pair)
		}
		s.Decisions++
		if d.Executed() && d.Position != nil {
			s.Executed++
			s.Volume += d.Position.PositionSize
			targetSum[d.Pair] += d.Position.ExitTarget
		}
	}

	out := make([]PairSummary, 0, len(order))
	for _, pair := range order {
		s := *byPair[pair]
		if s.Executed > 0 {
			s.AvgTarget = targetSum[pair] / float64(s.Executed)
		}
		out = append(out, s)
	}
	return out
}
