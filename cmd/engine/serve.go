package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"multipair-engine/internal/audit"
	"multipair-engine/internal/config"
	"multipair-engine/internal/domain"
	"multipair-engine/internal/engine"
	"multipair-engine/internal/exchange"
	"multipair-engine/internal/ledger"
	"multipair-engine/internal/market"
	"multipair-engine/internal/observability"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the decision engine with its feeds, audit trail and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

// Server holds the running components.
type Server struct {
	cfg       config.Config
	engine    *engine.Engine
	recorder  *audit.Recorder
	refresher *exchange.Refresher
	feed      *market.Feed // nil when no feed URL is configured
	snapshots *market.Cache
	registry  *prometheus.Registry
	logger    logrus.FieldLogger
	started   time.Time
}

func serve(cfg config.Config) error {
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, registry)

	st, cleanup, err := createStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	minimums := exchange.NewCache(cfg.Exchange.Staleness, nil)
	snapshots := market.NewCache(cfg.Market.Staleness, nil)

	recorder := audit.NewRecorder(audit.Options{
		Decisions:    st.decisions,
		Positions:    st.positions,
		Backend:      st.backend,
		BufferSize:   cfg.Audit.BufferSize,
		FlushTimeout: cfg.Audit.FlushTimeout,
		RetryDelay:   cfg.Audit.RetryDelay,
		Logger:       logger,
		Metrics:      metrics,
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
		Auditor:  recorder,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// Positions opened by a previous run still hold budget
	restored, err := eng.RestorePositions(ctx, st.positions)
	if err != nil {
		return err
	}
	eng.UpdateBalance(cfg.InitialBalance)
	sessionID := eng.StartSession()
	logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"pairs":      cfg.PairNames(),
		"restored":   restored,
		"storage":    st.backend,
	}).Info("engine started")

	refresher := exchange.NewRefresher(exchange.RefresherOptions{
		Provider: exchange.NewStaticProvider(cfg.Minimums, nil),
		Cache:    minimums,
		Pairs:    cfg.PairNames(),
		Interval: cfg.Exchange.RefreshInterval,
		Logger:   logger,
		Metrics:  metrics,
	})

	s := &Server{
		cfg:       cfg,
		engine:    eng,
		recorder:  recorder,
		refresher: refresher,
		snapshots: snapshots,
		registry:  registry,
		logger:    logger.WithField("component", "server"),
		started:   time.Now(),
	}
	if cfg.Feed.URL != "" {
		feedCfg := cfg.Feed.FeedConfig
		s.feed = market.NewFeed(market.FeedOptions{
			URL:      cfg.Feed.URL,
			Config:   &feedCfg,
			Snapshot: snapshots,
			Balance:  eng,
			Logger:   logger,
			Metrics:  metrics,
		})
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Warn("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	httpServer := s.startHTTPServer(cfg.Metrics.Addr)

	err = s.Run(ctx)
	done <- err
	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server: %w", err)
	}

	stats := eng.PerformanceStats()
	logger.WithFields(logrus.Fields{
		"decisions":      stats.TotalDecisions,
		"executed":       stats.Executed,
		"execution_rate": stats.ExecutionRate,
	}).Info("shutdown complete")
	return nil
}

// Run starts all background loops and blocks until ctx is cancelled or one fails.
// The audit recorder is drained after the other loops stop.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting background loops")

	recorderDone := make(chan struct{})
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	go func() {
		defer close(recorderDone)
		s.recorder.Run(recorderCtx)
	}()
	defer func() {
		stopRecorder()
		<-recorderDone
	}()

	// Create error channel for goroutines
	errCh := make(chan error, 3)
	run := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	run("pacing", s.engine.Run)
	run("exchange refresher", s.refresher.Run)
	if s.feed != nil {
		run("market feed", s.feed.Run)
	} else {
		s.logger.Warn("no market feed configured, snapshots must be pushed over HTTP")
	}

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// startHTTPServer serves health, metrics, status and the decision API.
// Returns nil when no address is configured.
func (s *Server) startHTTPServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", observability.Handler(s.registry))

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /opportunities", s.handleOpportunity)
	mux.HandleFunc("POST /snapshots", s.handleSnapshot)
	mux.HandleFunc("POST /balance", s.handleBalance)
	mux.HandleFunc("DELETE /positions/{id}", s.handleRemovePosition)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.WithField("addr", addr).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server error")
		}
	}()
	return srv
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Engine  engine.Status `json:"engine"`
	Stats   engine.Stats  `json:"stats"`
	Pending int           `json:"audit_pending"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  "running",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Engine:  s.engine.Status(),
		Stats:   s.engine.PerformanceStats(),
		Pending: s.recorder.Pending(),
	})
}

// handleOpportunity runs one opportunity through the engine. Rejections are
// successful responses; missing market data is a 503.
func (s *Server) handleOpportunity(w http.ResponseWriter, r *http.Request) {
	var opp domain.Opportunity
	if err := json.NewDecoder(r.Body).Decode(&opp); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode opportunity: %w", err))
		return
	}
	if opp.Timestamp.IsZero() {
		opp.Timestamp = time.Now()
	}

	d, err := s.engine.GenerateTradingDecision(r.Context(), opp)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, d)
	case errors.Is(err, market.ErrSnapshotUnavailable), errors.Is(err, market.ErrSnapshotStale),
		errors.Is(err, exchange.ErrMinimumUnavailable), errors.Is(err, exchange.ErrMinimumStale):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var snapshot domain.MarketSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode snapshot: %w", err))
		return
	}
	if err := s.snapshots.Update(snapshot); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode balance: %w", err))
		return
	}
	if body.Balance < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("balance must be >= 0"))
		return
	}
	s.engine.UpdateBalance(body.Balance)
	writeJSON(w, http.StatusOK, s.engine.Status().Budget)
}

// handleRemovePosition settles a position and releases its budget.
func (s *Server) handleRemovePosition(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.RemovePosition(r.PathValue("id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, p)
	case errors.Is(err, ledger.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
