// Package store persists mirrored news items, tags and their associations
// in Postgres.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Config holds the connection pool configuration.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// MaxOpenConns caps the pool. Each in-flight upsert holds one connection.
	MaxOpenConns int

	// MaxIdleConns is the number of idle connections kept.
	MaxIdleConns int

	// ConnMaxLifetime recycles connections after this duration.
	ConnMaxLifetime time.Duration

	// ConnectAttempts is how often Open tries to reach the database.
	ConnectAttempts int

	// ConnectBackoff is multiplied by the attempt number between attempts.
	ConnectBackoff time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectAttempts: 5,
		ConnectBackoff:  time.Second,
	}
}

// Store is the Postgres-backed repository. It is safe for concurrent use.
type Store struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// New wraps an existing pool.
func New(db *sqlx.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open connects to Postgres, retrying with a linear backoff, and applies the
// pool limits.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 1
	}

	var (
		db  *sqlx.DB
		err error
	)
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		db, err = sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
		if err == nil {
			break
		}

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", cfg.ConnectAttempts).
			Msg("Database connection failed")

		if attempt == cfg.ConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * cfg.ConnectBackoff):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect after %d attempts: %w", cfg.ConnectAttempts, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("Database connected")
	return New(db, logger), nil
}

// DB returns the underlying pool.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// PoolSize returns the configured maximum number of open connections, or 0
// when unlimited.
func (s *Store) PoolSize() int {
	return s.db.Stats().MaxOpenConnections
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
