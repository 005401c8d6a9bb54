// Package database provides PostgreSQL connection management using pgx.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/config"
	"github.com/jkindrix/estimatebot/internal/metrics"
)

// DB wraps the pgx connection pool with additional functionality.
type DB struct {
	Pool        *pgxpool.Pool
	TxManager   *TxManager
	QueryLogger *QueryLogger
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// New creates a connection pool, attaches the query logger and verifies the
// connection with a ping.
func New(ctx context.Context, cfg *config.DatabaseConfig, m *metrics.Metrics, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MaxIdleConnections)
	poolConfig.MaxConnLifetime = cfg.ConnectionMaxLifetime
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	ql := NewQueryLogger(nil, logger, m)
	poolConfig.ConnConfig.Tracer = ql

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
		zap.Int("max_connections", cfg.MaxConnections),
	)

	return &DB{
		Pool:        pool,
		TxManager:   NewTxManager(pool, logger),
		QueryLogger: ql,
		metrics:     m,
		logger:      logger,
	}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("database connection closed")
	}
}

// Ping checks the database connection. It satisfies the health checker
// interface used by the HTTP layer.
func (db *DB) Ping(ctx context.Context) error {
	err := db.Pool.Ping(ctx)
	db.ReportPoolStats()
	return err
}

// ReportPoolStats publishes connection counts to the metrics registry.
func (db *DB) ReportPoolStats() {
	st := db.Pool.Stat()
	db.metrics.UpdateDBConnections(int(st.TotalConns()), int(st.AcquiredConns()))
}
