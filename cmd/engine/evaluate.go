package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"multipair-engine/internal/config"
	"multipair-engine/internal/domain"
	"multipair-engine/internal/engine"
	"multipair-engine/internal/exchange"
	"multipair-engine/internal/market"
	"multipair-engine/internal/reporting"
)

// Scenario is a scripted sequence of market updates and opportunities.
type Scenario struct {
	Start   time.Time `yaml:"start"`
	Balance *float64  `yaml:"balance"` // default: config initial_balance
	Steps   []Step    `yaml:"steps"`
}

// Step advances the simulated clock, then applies its inputs in order:
// balance, snapshots, closes, opportunities.
type Step struct {
	After         time.Duration           `yaml:"after"` // offset from the previous step
	Balance       *float64                `yaml:"balance"`
	Snapshots     []domain.MarketSnapshot `yaml:"snapshots"`
	ClosePairs    []string                `yaml:"close_pairs"` // settle every open position on these pairs
	Opportunities []domain.Opportunity    `yaml:"opportunities"`
}

// evaluation is one line of evaluate output.
type evaluation struct {
	Step     int              `json:"step"`
	Time     time.Time        `json:"time"`
	Decision *domain.Decision `json:"decision,omitempty"`
	Closed   *domain.Position `json:"closed,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type simClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// evalOptions controls evaluate output beyond the JSON lines.
type evalOptions struct {
	Summary   bool   // log performance statistics after the last step
	ReportDir string // write report.md and decisions.csv here when set
}

func evaluateCmd() *cobra.Command {
	var opts evalOptions

	cmd := &cobra.Command{
		Use:   "evaluate <scenario.yaml>",
		Short: "Replay a scenario through an in-memory engine and print decisions as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			scenario, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			return evaluate(cmd.Context(), cfg, scenario, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Summary, "summary", true, "Print performance statistics after the last step")
	cmd.Flags().StringVar(&opts.ReportDir, "report-dir", "", "Write a Markdown and CSV decision report to this directory")
	return cmd
}

func loadScenario(path string) (Scenario, error) {
	var s Scenario
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read scenario: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if s.Start.IsZero() {
		s.Start = time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)
	}
	return s, nil
}

// evaluate replays the scenario on a simulated clock. Exchange minimums are
// refreshed from configuration at every step so they never go stale.
func evaluate(ctx context.Context, cfg config.Config, s Scenario, out io.Writer, opts evalOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	logger.SetOutput(os.Stderr)

	clock := &simClock{t: s.Start.UTC()}
	minimums := exchange.NewCache(cfg.Exchange.Staleness, clock.Now)
	snapshots := market.NewCache(cfg.Market.Staleness, clock.Now)
	refresher := exchange.NewRefresher(exchange.RefresherOptions{
		Provider: exchange.NewStaticProvider(cfg.Minimums, clock.Now),
		Cache:    minimums,
		Pairs:    cfg.PairNames(),
		Logger:   logger,
	})

	eng, err := engine.New(engine.Options{
		Config:   &cfg.Engine,
		Pairs:    cfg.Pairs,
		Fusion:   &cfg.Fusion,
		Target:   &cfg.Target,
		Sizing:   &cfg.Sizing,
		Risk:     &cfg.Risk,
		Pacing:   &cfg.Pacing,
		Minimums: minimums,
		Market:   snapshots,
		Logger:   logger,
		Now:      clock.Now,
	})
	if err != nil {
		return err
	}

	balance := cfg.InitialBalance
	if s.Balance != nil {
		balance = *s.Balance
	}
	eng.UpdateBalance(balance)
	eng.StartSession()

	var decisions []*domain.Decision
	var failures []string

	enc := json.NewEncoder(out)
	for i, step := range s.Steps {
		clock.Advance(step.After)
		if err := refresher.Refresh(ctx); err != nil {
			return err
		}
		if step.Balance != nil {
			eng.UpdateBalance(*step.Balance)
		}

		for _, snapshot := range step.Snapshots {
			if err := snapshots.Update(snapshot); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}

		for _, pair := range step.ClosePairs {
			for _, p := range eng.Status().Positions {
				if p.Pair != pair {
					continue
				}
				closed, err := eng.RemovePosition(p.TradeID)
				line := evaluation{Step: i, Time: clock.Now(), Closed: &closed}
				if err != nil {
					line = evaluation{Step: i, Time: clock.Now(), Error: err.Error()}
				}
				if err := enc.Encode(line); err != nil {
					return err
				}
			}
		}

		for _, opp := range step.Opportunities {
			if opp.Timestamp.IsZero() {
				opp.Timestamp = clock.Now()
			}
			d, err := eng.GenerateTradingDecision(ctx, opp)
			line := evaluation{Step: i, Time: clock.Now(), Decision: d}
			if err != nil {
				line.Error = fmt.Sprintf("%s %s: %v", opp.Pair, opp.Direction, err)
				failures = append(failures, fmt.Sprintf("step %d: %s", i, line.Error))
			}
			if d != nil {
				decisions = append(decisions, d)
			}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
	}

	stats := eng.PerformanceStats()
	status := eng.Status()

	if opts.ReportDir != "" {
		report := &reporting.Report{
			GeneratedAt: clock.Now(),
			SessionID:   status.SessionID,
			Stats:       stats,
			Budget:      status.Budget,
			Released:    status.Released,
			Decisions:   decisions,
			Errors:      failures,
		}
		if err := writeReport(opts.ReportDir, report); err != nil {
			return err
		}
		logger.WithField("dir", opts.ReportDir).Info("report written")
	}

	if opts.Summary {
		logger.WithFields(logrus.Fields{
			"decisions":       stats.TotalDecisions,
			"executed":        stats.Executed,
			"execution_rate":  stats.ExecutionRate,
			"avg_size":        stats.AvgPositionSize,
			"avg_target":      stats.AvgTarget,
			"top_rejections":  stats.TopRejections(),
			"used_budget":     status.Budget.UsedBudget,
			"released_budget": status.Released,
		}).Info("evaluation complete")
	}
	return nil
}

func writeReport(dir string, report *reporting.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	md := reporting.RenderMarkdown(report)
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(md), 0o644); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}

	csv, err := reporting.RenderCSV(report)
	if err != nil {
		return fmt.Errorf("render csv report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "decisions.csv"), []byte(csv), 0o644); err != nil {
		return fmt.Errorf("write csv report: %w", err)
	}
	return nil
}
