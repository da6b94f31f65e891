package engine

import (
	"sort"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/pacing"
)

// Status is a point-in-time view of the engine.
type Status struct {
	SessionID string             `json:"session_id"`
	Balance   float64            `json:"balance"`
	Budget    domain.BudgetState `json:"budget"`
	Positions []domain.Position  `json:"positions"`
	Pacing    pacing.State       `json:"pacing"`
	Released  float64            `json:"released"`
}

// Status returns the current budget, positions and pacing state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Released applies due releases, so it runs before the pacing snapshot.
	released := e.pacer.Released()
	return Status{
		SessionID: e.pacer.SessionID(),
		Balance:   e.balance,
		Budget:    e.ledger.Snapshot(),
		Positions: e.ledger.Positions(),
		Pacing:    e.pacer.Snapshot(),
		Released:  released,
	}
}

// Stats summarizes the decisions made since the engine started.
type Stats struct {
	TotalDecisions   int                       `json:"total_decisions"`
	Executed         int                       `json:"executed"`
	Rejected         int                       `json:"rejected"`
	ExecutionRate    float64                   `json:"execution_rate"`
	AvgConfidence    float64                   `json:"avg_confidence"`    // executed decisions, sizing confidence
	AvgPositionSize  float64                   `json:"avg_position_size"` // executed decisions
	AvgTarget        float64                   `json:"avg_target"`        // executed decisions
	RejectionReasons map[domain.ReasonCode]int `json:"rejection_reasons"`
}

// PerformanceStats returns a copy of the running decision statistics.
func (e *Engine) PerformanceStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.stats.snapshot()
}

type statsAccumulator struct {
	total         int
	executed      int
	confidenceSum float64
	sizeSum       float64
	targetSum     float64
	rejections    map[domain.ReasonCode]int
}

func newStatsAccumulator() statsAccumulator {
	return statsAccumulator{rejections: make(map[domain.ReasonCode]int)}
}

func (s *statsAccumulator) record(d *domain.Decision) {
	s.total++
	if !d.Executed() {
		s.rejections[d.Reason]++
		return
	}
	s.executed++
	if d.Sizing != nil {
		s.confidenceSum += d.Sizing.Confidence
	}
	if d.Position != nil {
		s.sizeSum += d.Position.PositionSize
		s.targetSum += d.Position.ExitTarget
	}
}

func (s *statsAccumulator) snapshot() Stats {
	out := Stats{
		TotalDecisions:   s.total,
		Executed:         s.executed,
		Rejected:         s.total - s.executed,
		RejectionReasons: make(map[domain.ReasonCode]int, len(s.rejections)),
	}
	for reason, n := range s.rejections {
		out.RejectionReasons[reason] = n
	}
	if s.total > 0 {
		out.ExecutionRate = float64(s.executed) / float64(s.total)
	}
	if s.executed > 0 {
		n := float64(s.executed)
		out.AvgConfidence = s.confidenceSum / n
		out.AvgPositionSize = s.sizeSum / n
		out.AvgTarget = s.targetSum / n
	}
	return out
}

// TopRejections returns rejection reasons ordered by count DESC, reason ASC.
func (s Stats) TopRejections() []domain.ReasonCode {
	reasons := make([]domain.ReasonCode, 0, len(s.RejectionReasons))
	for r := range s.RejectionReasons {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		ci, cj := s.RejectionReasons[reasons[i]], s.RejectionReasons[reasons[j]]
		if ci != cj {
			return ci > cj
		}
		return reasons[i] < reasons[j]
	})
	return reasons
}
