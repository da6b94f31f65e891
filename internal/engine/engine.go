// Package engine runs the decision pipeline for trading opportunities: pair
// support, layering, pacing, budget, market assessment, signal fusion, adaptive
// target, sizing and risk validation, in that order, under a single lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"multipair-engine/internal/domain"
	"multipair-engine/internal/fusion"
	"multipair-engine/internal/ledger"
	"multipair-engine/internal/observability"
	"multipair-engine/internal/pacing"
	"multipair-engine/internal/risk"
	"multipair-engine/internal/sizing"
	"multipair-engine/internal/storage"
	"multipair-engine/internal/target"
)

// ErrInvalidConfig is returned by New for unusable configuration.
var ErrInvalidConfig = errors.New("invalid engine config")

// Config holds engine-level settings not owned by a component.
type Config struct {
	SessionBudgetPercent   float64 `yaml:"session_budget_percent"`    // share of the balance allotted to the session
	LayeringThreshold      float64 `yaml:"layering_threshold"`        // relative price distance
	StopLossTargetMultiple float64 `yaml:"stop_loss_target_multiple"` // stop distance in units of the exit target
}

// DefaultConfig returns the production engine settings.
func DefaultConfig() Config {
	return Config{
		SessionBudgetPercent:   0.2,
		LayeringThreshold:      0.001,
		StopLossTargetMultiple: 2.0,
	}
}

// Validate checks internal consistency.
func (c Config) Validate() error {
	if c.SessionBudgetPercent <= 0 || c.SessionBudgetPercent > 1 {
		return fmt.Errorf("session budget percent must be in (0,1]")
	}
	if c.LayeringThreshold < 0 {
		return fmt.Errorf("layering threshold must be >= 0")
	}
	if c.StopLossTargetMultiple <= 0 {
		return fmt.Errorf("stop loss target multiple must be > 0")
	}
	return nil
}

// MinimumSource returns fresh exchange minimums. Implemented by exchange.Cache.
type MinimumSource interface {
	Get(pair string) (domain.ExchangeMinimum, error)
}

// SnapshotSource returns fresh market snapshots. Implemented by market.Cache.
type SnapshotSource interface {
	Get(pair string) (domain.MarketSnapshot, error)
}

// Auditor receives every decision and position close. Implemented by audit.Recorder.
// Calls must not block.
type Auditor interface {
	RecordDecision(d *domain.Decision)
	RecordClose(tradeID string, closedAt time.Time)
}

// Options contains everything needed to build an Engine.
// Nil component configs use the package defaults.
type Options struct {
	Config   *Config
	Pairs    []domain.PairProfile
	Fusion   *fusion.Config
	Target   *target.Config
	Sizing   *sizing.Config
	Risk     *risk.Config
	Pacing   *pacing.Config
	Minimums MinimumSource
	Market   SnapshotSource
	Auditor  Auditor // optional
	Metrics  *observability.Metrics
	Logger   logrus.FieldLogger
	Now      func() time.Time // default time.Now
}

// Engine is the decision engine. Safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	cfg      Config
	profiles map[string]domain.PairProfile

	fusion *fusion.Engine
	target *target.Calculator
	sizer  *sizing.Sizer
	risk   *risk.Validator
	ledger *ledger.Ledger
	guard  *ledger.LayeringGuard
	pacer  *pacing.Controller

	minimums MinimumSource
	market   SnapshotSource
	auditor  Auditor
	metrics  *observability.Metrics
	logger   logrus.FieldLogger
	now      func() time.Time

	balance  float64
	stats    statsAccumulator
	executed uint64 // trade id sequence
}

// New builds an engine from options. The budget is zero until UpdateBalance is
// called, and StartSession must run before decisions can execute.
func New(opts Options) (*Engine, error) {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(opts.Pairs) == 0 {
		return nil, fmt.Errorf("%w: no pair profiles", ErrInvalidConfig)
	}
	if opts.Minimums == nil || opts.Market == nil {
		return nil, fmt.Errorf("%w: minimum and market sources are required", ErrInvalidConfig)
	}

	profiles := make(map[string]domain.PairProfile, len(opts.Pairs))
	for _, p := range opts.Pairs {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		if _, dup := profiles[p.Pair]; dup {
			return nil, fmt.Errorf("%w: duplicate pair profile %s", ErrInvalidConfig, p.Pair)
		}
		profiles[p.Pair] = p
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	fusionEngine, err := fusion.NewEngine(orDefault(opts.Fusion, fusion.DefaultConfig))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	calculator, err := target.NewCalculator(orDefault(opts.Target, target.DefaultConfig))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	sizer, err := sizing.NewSizer(orDefault(opts.Sizing, sizing.DefaultConfig))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	validator, err := risk.NewValidator(orDefault(opts.Risk, risk.DefaultConfig))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	pacer, err := pacing.NewController(pacing.Options{
		Config: orDefault(opts.Pacing, pacing.DefaultConfig),
		Now:    now,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	l := ledger.NewLedger(now)

	return &Engine{
		cfg:      cfg,
		profiles: profiles,
		fusion:   fusionEngine,
		target:   calculator,
		sizer:    sizer,
		risk:     validator,
		ledger:   l,
		guard:    ledger.NewLayeringGuard(l, cfg.LayeringThreshold),
		pacer:    pacer,
		minimums: opts.Minimums,
		market:   opts.Market,
		auditor:  opts.Auditor,
		metrics:  opts.Metrics,
		logger:   logger.WithField("component", "engine"),
		now:      now,
		stats:    newStatsAccumulator(),
	}, nil
}

func orDefault[T any](v *T, def func() T) T {
	if v != nil {
		return *v
	}
	return def()
}

// UpdateBalance recomputes the session budget from the account balance.
// Negative balances are ignored.
func (e *Engine) UpdateBalance(balance float64) {
	if balance < 0 {
		e.logger.WithField("balance", balance).Warn("ignoring negative balance")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.balance = balance
	e.ledger.SetBalance(balance, e.cfg.SessionBudgetPercent)
	state := e.ledger.Snapshot()
	e.pacer.SetTotalBudget(state.TotalBudget)
	e.metrics.UpdateBudget(state, e.pacer.Released(), e.ledger.Count())

	e.logger.WithFields(logrus.Fields{
		"balance":      balance,
		"total_budget": state.TotalBudget,
	}).Debug("balance updated")
}

// StartSession begins a pacing session over the current total budget.
// Open positions are kept. Returns the session id.
func (e *Engine) StartSession() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.ledger.Snapshot()
	id := e.pacer.StartSession(state.TotalBudget)
	e.metrics.UpdateBudget(state, e.pacer.Released(), e.ledger.Count())
	return id
}

// RemovePosition releases a settled position's budget.
func (e *Engine) RemovePosition(tradeID string) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.ledger.RemovePosition(tradeID)
	if err != nil {
		if errors.Is(err, ledger.ErrInvariantViolation) {
			e.metrics.RecordInvariantViolation()
			e.logger.WithError(err).WithField("trade_id", tradeID).Error("ledger invariant violated on remove")
		}
		return p, err
	}

	if e.auditor != nil {
		e.auditor.RecordClose(tradeID, e.now())
	}
	state := e.ledger.Snapshot()
	e.metrics.UpdateBudget(state, e.pacer.Released(), e.ledger.Count())

	e.logger.WithFields(logrus.Fields{
		"trade_id":  tradeID,
		"pair":      p.Pair,
		"size":      p.PositionSize,
		"available": state.AvailableBudget,
	}).Info("position removed")
	return p, nil
}

// RestorePositions loads open positions from the store into the ledger.
// Intended for startup, before any decision is made.
func (e *Engine) RestorePositions(ctx context.Context, store storage.PositionStore) (int, error) {
	open, err := store.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(open))
	for _, p := range open {
		positions = append(positions, *p)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.Restore(positions); err != nil {
		return 0, fmt.Errorf("restore ledger: %w", err)
	}
	return len(positions), nil
}

// Run processes the pacing release schedule until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.pacer.Run(ctx)
}
