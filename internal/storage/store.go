package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace-repricer/internal/config"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrSettingsNotFound indicates no settings exist for the product.
	ErrSettingsNotFound = errors.New("storage: settings not found")
	// ErrAttemptNotFound indicates no attempt exists with the given id.
	ErrAttemptNotFound = errors.New("storage: attempt not found")
	// ErrAlreadyResolved indicates the attempt already reached a terminal
	// status; ledger records are never rewritten.
	ErrAlreadyResolved = errors.New("storage: attempt already resolved")
)

// AttemptStore is the append-only price-change ledger.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, attempt Attempt) error
	// ResolveAttempt moves a pending attempt to a terminal status exactly
	// once. A second resolution returns ErrAlreadyResolved.
	ResolveAttempt(ctx context.Context, id string, status AttemptStatus, reason, requestID string, completedAt time.Time) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	ListAttemptsByProduct(ctx context.Context, productID string, limit int) ([]Attempt, error)
	ListRecentAttempts(ctx context.Context, limit int) ([]Attempt, error)
	CountAttempts(ctx context.Context) (int64, error)
	// CountPendingAttempts counts attempts awaiting resolution; used to
	// rebuild the pending counter after a restart.
	CountPendingAttempts(ctx context.Context) (int64, error)
}

// SettingsStore persists per-product automation settings.
type SettingsStore interface {
	GetSettings(ctx context.Context, productID string) (AutomationSettings, error)
	UpsertSettings(ctx context.Context, settings AutomationSettings) error
	DeleteSettings(ctx context.Context, productID string) error
	ListSettings(ctx context.Context) ([]AutomationSettings, error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
