package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/vigil-cli/api/schemas"
	"github.com/xkilldash9x/vigil-cli/internal/config"
)

// Open builds the memory store selected by cfg.Driver and applies its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (schemas.MemoryStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s, err := New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Connected to PostgreSQL memory store.")
		return s, nil

	case config.DriverSQLite:
		s, err := NewLocalStore(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Opened SQLite memory store.", zap.String("path", cfg.SQLitePath))
		return s, nil

	case config.DriverMemory, "":
		logger.Debug("Using in-memory store; nothing will be persisted.")
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
