package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backend names accepted by Open
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config selects and configures a store backend
type Config struct {
	Backend       string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	PostgresDSN   string
	SQLitePath    string
}

// Open builds the configured store
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(logger), nil
	case BackendRedis:
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.TTL, logger)
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a dsn")
		}
		return OpenSQL(ctx, DriverPostgres, cfg.PostgresDSN, logger)
	case BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "research.db"
		}
		return OpenSQL(ctx, DriverSQLite, path, logger)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
