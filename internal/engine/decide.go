package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/exchange"
	"multipair-engine/internal/fusion"
	"multipair-engine/internal/idhash"
	"multipair-engine/internal/ledger"
	"multipair-engine/internal/pacing"
	"multipair-engine/internal/risk"
	"multipair-engine/internal/sizing"
)

// GenerateTradingDecision evaluates one opportunity. Business rejections are
// returned as REJECT decisions; missing or stale market data and ledger
// failures are returned as errors, with no decision recorded.
func (e *Engine) GenerateTradingDecision(ctx context.Context, opp domain.Opportunity) (*domain.Decision, error) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.now()
	d := &domain.Decision{
		ID:             uuid.NewString(),
		OpportunityKey: idhash.ComputeOpportunityKey(opp.Pair, opp.Direction, opp.Price, opp.Timestamp.UnixMilli()),
		SessionID:      e.pacer.SessionID(),
		Pair:           opp.Pair,
		Direction:      opp.Direction,
		Timestamp:      now,
		Price:          opp.Price,
		EntryPrice:     opp.Price,
		Confidence:     opp.Confidence,
	}

	if err := e.evaluate(d, opp, now); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"pair":      opp.Pair,
			"direction": opp.Direction,
		}).Warn("decision failed")
		return nil, err
	}

	e.finish(d, time.Since(start))
	return d, nil
}

// evaluate fills d in pipeline order. It returns an error only for conditions
// that must not produce a decision.
func (e *Engine) evaluate(d *domain.Decision, opp domain.Opportunity, now time.Time) error {
	// 1. Pair supported
	profile, ok := e.profiles[opp.Pair]
	if !ok {
		reject(d, domain.ReasonPairUnsupported, fmt.Sprintf("no profile for pair %s", opp.Pair))
		return nil
	}
	if msg := invalidOpportunity(opp); msg != "" {
		reject(d, domain.ReasonInvalidOpportunity, msg)
		return nil
	}

	// 2. No stacked exposure at the same price level
	if conflict, found := e.guard.Check(opp.Pair, opp.Price, opp.Direction); found {
		d.LayeringConflict = conflict.TradeID
		reject(d, domain.ReasonLayeringConflict, fmt.Sprintf("open %s position %s quoted at %.8g within %.4f%%",
			conflict.Direction, conflict.TradeID, conflict.LayeringPrice(), e.cfg.LayeringThreshold*100))
		return nil
	}

	// 3. Trade spacing
	if timing := e.pacer.CheckTiming(opp.Pair); !timing.Allowed {
		d.PacingWait = timing.Wait
		reason := domain.ReasonPacingWait
		if timing.Block == pacing.BlockInterval {
			reason = domain.ReasonIntervalLimit
		}
		reject(d, reason, fmt.Sprintf("%s limit, wait %s", timing.Block, timing.Wait))
		return nil
	}

	// 4. Budget available
	state := e.ledger.Snapshot()
	available := math.Min(state.AvailableBudget, e.pacer.Released()-state.UsedBudget)
	capitalMode := e.sizer.Mode() == domain.SizingModeCapital
	if capitalMode {
		available = opp.Capital
	}
	if available <= 0 {
		reject(d, domain.ReasonInsufficientBudget, fmt.Sprintf("available %.2f", available))
		return nil
	}

	// 5. Market assessment
	snapshot, err := e.market.Get(opp.Pair)
	if err != nil {
		return fmt.Errorf("assess market: %w", err)
	}
	minimum, err := e.minimums.Get(opp.Pair)
	if err != nil {
		return fmt.Errorf("assess market: %w", err)
	}

	// 6. Signal fusion
	confidence := opp.Confidence
	multiplier := 1.0
	entryPrice := opp.Price
	if opp.Signals != nil {
		tr := e.fusion.Fuse(fusion.TradePlan{
			Pair:           opp.Pair,
			Direction:      opp.Direction,
			BasePrice:      opp.Price,
			BaseConfidence: opp.Confidence,
		}, opp.Signals)
		d.Fusion = &tr

		if tr.PositionMultiplier == 0 {
			reject(d, domain.ReasonLowFusedConfidence, fmt.Sprintf("fused confidence %.4f below trading minimum %.2f",
				tr.AdjustedConfidence, e.fusion.Config().MinTradingConfidence))
			return nil
		}
		confidence = tr.AdjustedConfidence
		multiplier = tr.PositionMultiplier
		entryPrice = tr.AdjustedPrice
	}
	entryPrice = exchange.RoundPrice(minimum, entryPrice)
	d.EntryPrice = entryPrice

	assessment := domain.MarketAssessment{
		CurrentVolatility: snapshot.Volatility,
		CurrentSpread:     snapshot.Spread,
		Volume:            snapshot.Volume,
		AverageVolume:     snapshot.AverageVolume,
		FuturesStrength:   snapshot.FuturesStrength,
		TemporalBias:      snapshot.TemporalBias,
		SignalConfidence:  &confidence,
		HistoricalWinRate: snapshot.HistoricalWinRate,
	}
	d.Assessment = &assessment

	// 7. Adaptive target
	tt := e.target.Calculate(profile, assessment)
	d.Target = &tt

	// 8. Size, including the minimum-volume correction
	st, err := e.sizer.Size(sizing.Request{
		Profile:          profile,
		Minimum:          minimum,
		Price:            entryPrice,
		Confidence:       tt.Confidence,
		FusionMultiplier: multiplier,
		TotalBudget:      state.TotalBudget,
		AvailableBudget:  available,
		Capital:          opp.Capital,
	})
	d.Sizing = &st
	if err != nil {
		reason := domain.ReasonSizingFailed
		if errors.Is(err, sizing.ErrInsufficientBudget) || errors.Is(err, sizing.ErrNoCapital) {
			reason = domain.ReasonInsufficientBudget
		}
		reject(d, reason, err.Error())
		return nil
	}

	// 9. Risk
	in := risk.Input{
		Profile:       profile,
		Minimum:       minimum,
		Mode:          e.sizer.Mode(),
		Target:        tt.Target,
		Confidence:    tt.Confidence,
		Size:          st.Size,
		UsedBudget:    state.UsedBudget,
		TotalBudget:   state.TotalBudget,
		OpenPositions: e.ledger.Count(),
	}
	if capitalMode {
		// Exposure is measured against the caller's capital and position count
		in.UsedBudget = 0
		in.TotalBudget = opp.Capital
		in.OpenPositions = opp.OpenPositions
	}
	rt := e.risk.Validate(in)
	d.Risk = &rt
	if !rt.Approved {
		reject(d, domain.ReasonRiskRejected, strings.Join(rt.RejectionReasons, "; "))
		return nil
	}

	// 10. Execute: the ledger and pacing are updated before the decision is returned
	e.executed++
	position := domain.Position{
		TradeID:          idhash.ComputeTradeID(opp.Pair, opp.Direction, e.pacer.SessionID(), now.UnixMilli(), e.executed),
		Pair:             opp.Pair,
		Direction:        opp.Direction,
		EntryPrice:       entryPrice,
		QuotedPrice:      opp.Price,
		PositionSize:     st.Size,
		ExitTarget:       tt.Target,
		StopLossPrice:    entryPrice * (1 - opp.Direction.Sign()*e.cfg.StopLossTargetMultiple*tt.Target),
		EntryTime:        now,
		ExpectedExitTime: now.Add(time.Duration(tt.ExpectedHoldMinutes * float64(time.Minute))),
	}
	if err := e.ledger.RecordPosition(position); err != nil {
		if errors.Is(err, ledger.ErrInvariantViolation) {
			e.metrics.RecordInvariantViolation()
			e.logger.WithError(err).WithField("trade_id", position.TradeID).Error("ledger invariant violated on record")
		}
		return fmt.Errorf("record position: %w", err)
	}
	e.pacer.Update(opp.Pair)

	d.Position = &position
	d.Action = domain.ActionExecute
	d.Reason = domain.ReasonApproved
	d.Message = fmt.Sprintf("size %.2f at %.8g, target %.4f%%", st.Size, entryPrice, tt.Target*100)
	return nil
}

func reject(d *domain.Decision, reason domain.ReasonCode, msg string) {
	d.Action = domain.ActionReject
	d.Reason = reason
	d.Message = msg
}

func invalidOpportunity(opp domain.Opportunity) string {
	switch {
	case !opp.Direction.IsValid():
		return fmt.Sprintf("unknown direction %q", opp.Direction)
	case opp.Price <= 0 || math.IsNaN(opp.Price) || math.IsInf(opp.Price, 0):
		return fmt.Sprintf("invalid price %v", opp.Price)
	case opp.Confidence < 0 || opp.Confidence > 1 || math.IsNaN(opp.Confidence):
		return fmt.Sprintf("confidence %v outside [0,1]", opp.Confidence)
	}
	return ""
}

// finish records the outcome everywhere it is observed. Caller must hold mu.
func (e *Engine) finish(d *domain.Decision, latency time.Duration) {
	d.Budget = e.ledger.Snapshot()

	executed := d.Executed()
	e.pacer.RecordOutcome(executed)
	e.stats.record(d)
	e.metrics.RecordDecision(d, latency)
	e.metrics.UpdateBudget(d.Budget, e.pacer.Released(), e.ledger.Count())

	fields := logrus.Fields{
		"decision_id": d.ID,
		"pair":        d.Pair,
		"direction":   d.Direction,
		"action":      d.Action,
		"reason":      d.Reason,
		"available":   d.Budget.AvailableBudget,
	}
	if executed {
		fields["trade_id"] = d.Position.TradeID
		fields["size"] = d.Position.PositionSize
		fields["target"] = d.Position.ExitTarget
		e.logger.WithFields(fields).Info("trade approved")
	} else {
		e.logger.WithFields(fields).WithField("message", d.Message).Debug("opportunity rejected")
	}

	if e.auditor != nil {
		e.auditor.RecordDecision(d)
	}
}
