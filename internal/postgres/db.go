package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	Isolation       string
	ConnectAttempts int
}

// Connect opens a pool and waits for the database to answer.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 30
	}
	for i := 0; i < attempts; i++ {
		if err := pool.Ping(ctx); err == nil {
			logger.Info("connected to postgres", zap.Int32("max_conns", poolCfg.MaxConns))
			return pool, nil
		}
		logger.Info("waiting for postgres", zap.Int("attempt", i+1), zap.Int("max_attempts", attempts))

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after %d attempts", attempts)
}

// ParseIsolation maps a config value to a pgx isolation level. An empty value
// selects repeatable read.
func ParseIsolation(level string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.ReplaceAll(level, "_", " ")) {
	case "", "repeatable read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	case "read committed":
		return pgx.ReadCommitted, nil
	default:
		return "", fmt.Errorf("unsupported isolation level %q", level)
	}
}

// Store implements the order engine's store ports on PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	isolation pgx.TxIsoLevel
}

func NewStore(pool *pgxpool.Pool, isolation pgx.TxIsoLevel) *Store {
	return &Store{pool: pool, isolation: isolation}
}

// BeginTx starts a transaction at the configured isolation level.
func (s *Store) BeginTx(ctx context.Context) (orders.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: s.isolation})
	if err != nil {
		return nil, mapError(err)
	}
	return &Tx{tx: tx}, nil
}
