// Package cache selects the credential cache backend.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nulzo/gatewayctl/internal/adapters/cache/file"
	"github.com/nulzo/gatewayctl/internal/adapters/cache/memory"
	"github.com/nulzo/gatewayctl/internal/adapters/cache/redis"
	"github.com/nulzo/gatewayctl/internal/adapters/cache/sqlite"
	"github.com/nulzo/gatewayctl/internal/core/ports"
	"go.uber.org/zap"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config selects and configures a backend. When Enabled is false nothing is
// persisted and an in-memory store is returned.
type Config struct {
	Enabled       bool   `mapstructure:"enabled"`
	Backend       string `mapstructure:"backend"`
	Path          string `mapstructure:"path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// DefaultPath is where file and sqlite backends live unless configured.
func DefaultPath(backend string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	name := "credentials.json"
	if backend == BackendSQLite {
		name = "credentials.db"
	}
	return filepath.Join(dir, "gatewayctl", name)
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (ports.CredentialStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Debug("credential cache disabled, keeping credentials in memory")
		return memory.NewMemoryCache(), nil
	}

	path := cfg.Path
	if path == "" {
		path = DefaultPath(cfg.Backend)
	}

	switch cfg.Backend {
	case BackendMemory:
		return memory.NewMemoryCache(), nil
	case BackendFile, "":
		logger.Info("Using file credential cache", zap.String("path", path))
		s, err := file.New(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		logger.Info("Using sqlite credential cache", zap.String("path", path))
		s, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		logger.Info("Using redis credential cache", zap.String("addr", cfg.RedisAddr))
		s, err := redis.New(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown credential cache backend %q", cfg.Backend)
	}
}
