package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"multipair-engine/internal/config"
	"multipair-engine/internal/storage"
	chstore "multipair-engine/internal/storage/clickhouse"
	"multipair-engine/internal/storage/memory"
	"multipair-engine/internal/storage/migrations"
	pgstore "multipair-engine/internal/storage/postgres"
)

// stores holds the persistence used by the audit trail and position restore.
type stores struct {
	positions storage.PositionStore
	decisions storage.DecisionStore
	backend   string // metrics label
}

// createStores opens and migrates the configured backend.
func createStores(ctx context.Context, cfg config.StorageConfig, logger logrus.FieldLogger) (*stores, func(), error) {
	if cfg.Backend == config.BackendMemory {
		return &stores{
			positions: memory.NewPositionStore(),
			decisions: memory.NewDecisionStore(),
			backend:   config.BackendMemory,
		}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, cfg.MaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	s := &stores{
		positions: pgstore.NewPositionStore(pool),
		decisions: pgstore.NewDecisionStore(pool),
		backend:   config.BackendPostgres,
	}
	if cfg.ClickhouseDSN == "" {
		return s, pool.Close, nil
	}

	// ClickHouse takes the decision trail
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	s.decisions = chstore.NewDecisionStore(chConn)
	s.backend = "postgres+clickhouse"

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return s, cleanup, nil
}
