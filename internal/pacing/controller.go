package pacing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Block identifies which rate limit is holding a trade back.
type Block string

const (
	BlockNone     Block = ""
	BlockGlobal   Block = "global"
	BlockPair     Block = "pair"
	BlockInterval Block = "interval"
)

// TimingCheck is the result of a rate-limit check.
type TimingCheck struct {
	Allowed bool
	Wait    time.Duration // binding (longest) remaining wait
	Block   Block
}

// ScheduledRelease is one entry of the progressive release schedule.
type ScheduledRelease struct {
	Time     time.Time `json:"time"`
	Amount   float64   `json:"amount"`
	Released bool      `json:"released"`

	fraction float64
}

// State is a read-only snapshot of the pacing controller.
type State struct {
	SessionID            string               `json:"session_id"`
	Strategy             Strategy             `json:"strategy"`
	SessionStart         time.Time            `json:"session_start"`
	TotalBudget          float64              `json:"total_budget"`
	ReleasedBudget       float64              `json:"released_budget"`
	CurrentIntervalStart time.Time            `json:"current_interval_start"`
	LastTradeTime        time.Time            `json:"last_trade_time"`
	LastTradeTimeByPair  map[string]time.Time `json:"last_trade_time_by_pair"`
	TradesInInterval     int                  `json:"trades_in_interval"`
	TotalTradesExecuted  int                  `json:"total_trades_executed"`
	Schedule             []ScheduledRelease   `json:"schedule,omitempty"`
}

// Options configures a Controller.
type Options struct {
	Config Config
	Now    func() time.Time // default time.Now
	Logger logrus.FieldLogger
}

// Controller releases session budget over time and enforces trade spacing.
type Controller struct {
	mu     sync.RWMutex
	cfg    Config
	now    func() time.Time
	logger logrus.FieldLogger

	sessionID    string
	sessionStart time.Time
	total        float64

	// releasedFraction is the share of total made available so far.
	releasedFraction float64
	schedule         []ScheduledRelease

	lastTrade        time.Time
	lastTradeByPair  map[string]time.Time
	intervalStart    time.Time
	tradesInInterval int
	totalTrades      int

	outcomes []bool // most recent last, at most AdaptiveWindow
}

// NewController creates a controller. The session must be started with StartSession.
func NewController(opts Options) (*Controller, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("pacing config: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Controller{
		cfg:             opts.Config,
		now:             now,
		logger:          logger.WithField("component", "pacing"),
		lastTradeByPair: make(map[string]time.Time),
	}, nil
}

// StartSession resets all pacing state and begins a new session with the given
// total budget. Returns the new session id.
func (c *Controller) StartSession(total float64) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sessionID = uuid.NewString()
	c.sessionStart = now
	c.total = total
	c.releasedFraction = 0
	c.schedule = nil
	c.lastTrade = time.Time{}
	c.lastTradeByPair = make(map[string]time.Time)
	c.intervalStart = now
	c.tradesInInterval = 0
	c.totalTrades = 0
	c.outcomes = nil

	switch c.cfg.Strategy {
	case StrategyProgressive:
		c.releasedFraction = c.cfg.InitialReleasePercent
		c.schedule = c.buildSchedule(now)
	default:
		c.releasedFraction = c.strategyFraction(now)
	}

	c.logger.WithFields(logrus.Fields{
		"session_id": c.sessionID,
		"strategy":   c.cfg.Strategy,
		"total":      total,
		"released":   c.releasedFraction * total,
	}).Info("pacing session started")

	return c.sessionID
}

// buildSchedule splits the non-initial share into n chunks with weights 1..n.
func (c *Controller) buildSchedule(start time.Time) []ScheduledRelease {
	n := int(c.cfg.RampUpDuration / c.cfg.ReleaseInterval)
	if n < 1 {
		n = 1
	}
	remaining := 1 - c.cfg.InitialReleasePercent
	weightSum := float64(n*(n+1)) / 2

	schedule := make([]ScheduledRelease, n)
	for i := 0; i < n; i++ {
		fraction := remaining * float64(i+1) / weightSum
		schedule[i] = ScheduledRelease{
			Time:     start.Add(time.Duration(i+1) * c.cfg.ReleaseInterval),
			Amount:   fraction * c.total,
			fraction: fraction,
		}
	}
	return schedule
}

// SetTotalBudget rescales the session to a new total. Released shares are kept.
func (c *Controller) SetTotalBudget(total float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total = total
	for i := range c.schedule {
		c.schedule[i].Amount = c.schedule[i].fraction * total
	}
}

// Released returns the budget released so far, processing any due releases.
func (c *Controller) Released() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advanceLocked(c.now())
	return c.releasedFraction * c.total
}

// advanceLocked applies due schedule entries or recomputes the strategy share.
// Caller must hold mu.
func (c *Controller) advanceLocked(now time.Time) {
	if c.sessionID == "" {
		return
	}

	switch c.cfg.Strategy {
	case StrategyProgressive:
		for i := range c.schedule {
			entry := &c.schedule[i]
			if entry.Released || now.Before(entry.Time) {
				continue
			}
			entry.Released = true
			c.releasedFraction = math.Min(1, c.releasedFraction+entry.fraction)
			c.logger.WithFields(logrus.Fields{
				"session_id": c.sessionID,
				"amount":     entry.Amount,
				"released":   c.releasedFraction * c.total,
			}).Info("budget chunk released")
		}
	case StrategyLinear:
		// Never decreases within a session.
		c.releasedFraction = math.Max(c.releasedFraction, c.strategyFraction(now))
	case StrategyAdaptive:
		c.releasedFraction = c.strategyFraction(now)
	}
}

// strategyFraction computes the released share for linear and adaptive pacing.
func (c *Controller) strategyFraction(now time.Time) float64 {
	initial := c.cfg.InitialReleasePercent

	switch c.cfg.Strategy {
	case StrategyLinear:
		progress := float64(now.Sub(c.sessionStart)) / float64(c.cfg.RampUpDuration)
		progress = math.Max(0, math.Min(1, progress))
		return initial + (1-initial)*progress
	case StrategyAdaptive:
		return math.Min(1, initial+c.cfg.AdaptiveBonusPercent*c.successRateLocked())
	}
	return initial
}

func (c *Controller) successRateLocked() float64 {
	if len(c.outcomes) == 0 {
		return 0
	}
	executed := 0
	for _, ok := range c.outcomes {
		if ok {
			executed++
		}
	}
	return float64(executed) / float64(len(c.outcomes))
}

// CheckTiming evaluates all rate limits for a trade on pair. It does not mutate state.
// When several limits block, the longest remaining wait is reported.
func (c *Controller) CheckTiming(pair string) TimingCheck {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	result := TimingCheck{Allowed: true}

	block := func(wait time.Duration, b Block) {
		if wait <= 0 {
			return
		}
		result.Allowed = false
		if wait > result.Wait {
			result.Wait = wait
			result.Block = b
		}
	}

	if !c.lastTrade.IsZero() {
		block(c.lastTrade.Add(c.cfg.MinTimeBetweenTrades).Sub(now), BlockGlobal)
	}
	if last, ok := c.lastTradeByPair[pair]; ok {
		block(last.Add(c.cfg.MinTimeBetweenPairTrades).Sub(now), BlockPair)
	}
	if c.cfg.MaxTradesPerInterval > 0 {
		intervalEnd := c.intervalStart.Add(c.cfg.TradeInterval)
		if now.Before(intervalEnd) && c.tradesInInterval >= c.cfg.MaxTradesPerInterval {
			block(intervalEnd.Sub(now), BlockInterval)
		}
	}

	return result
}

// Update records an executed trade on pair.
func (c *Controller) Update(pair string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.lastTrade = now
	c.lastTradeByPair[pair] = now

	if c.cfg.TradeInterval > 0 {
		for !now.Before(c.intervalStart.Add(c.cfg.TradeInterval)) {
			c.intervalStart = c.intervalStart.Add(c.cfg.TradeInterval)
			c.tradesInInterval = 0
		}
	}
	c.tradesInInterval++
	c.totalTrades++
}

// RecordOutcome feeds the adaptive strategy with whether a decision executed.
func (c *Controller) RecordOutcome(executed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outcomes = append(c.outcomes, executed)
	if window := c.cfg.AdaptiveWindow; window > 0 && len(c.outcomes) > window {
		c.outcomes = c.outcomes[len(c.outcomes)-window:]
	}
}

// SessionID returns the current session id, empty before StartSession.
func (c *Controller) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Snapshot returns a copy of the pacing state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byPair := make(map[string]time.Time, len(c.lastTradeByPair))
	for pair, t := range c.lastTradeByPair {
		byPair[pair] = t
	}
	var schedule []ScheduledRelease
	if len(c.schedule) > 0 {
		schedule = make([]ScheduledRelease, len(c.schedule))
		copy(schedule, c.schedule)
	}

	return State{
		SessionID:            c.sessionID,
		Strategy:             c.cfg.Strategy,
		SessionStart:         c.sessionStart,
		TotalBudget:          c.total,
		ReleasedBudget:       c.releasedFraction * c.total,
		CurrentIntervalStart: c.intervalStart,
		LastTradeTime:        c.lastTrade,
		LastTradeTimeByPair:  byPair,
		TradesInInterval:     c.tradesInInterval,
		TotalTradesExecuted:  c.totalTrades,
		Schedule:             schedule,
	}
}

// Run processes the release schedule on a timer until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.mu.Lock()
			c.advanceLocked(c.now())
			c.mu.Unlock()
		}
	}
}
