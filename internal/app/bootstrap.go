// Package app assembles the service graph shared by the HTTP and MCP
// binaries.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/heartrisk-server/internal/database"
	"github.com/heartrisk-server/internal/domain"
	"github.com/heartrisk-server/internal/history"
	"github.com/heartrisk-server/internal/prediction"
	"github.com/heartrisk-server/internal/reference"
)

// LoadReference returns the reference data named by cfg, or the built-in
// defaults when no path is configured.
func LoadReference(cfg domain.ReferenceConfig, logger *logrus.Logger) (*reference.Reference, error) {
	if cfg.Path == "" {
		return reference.Default(), nil
	}
	ref, err := reference.Load(cfg.Path)
	if err != nil {
		return nil, err
	}
	logger.WithField("path", cfg.Path).Info("Loaded reference data")
	return ref, nil
}

// OpenStore opens the configured history store. For postgres, pending
// migrations are applied first. The returned cleanup releases everything
// OpenStore acquired.
func OpenStore(ctx context.Context, cfg *domain.Config, databaseURL string, logger *logrus.Logger) (history.Store, func(), error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "sqlite":
		store, err := history.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("path", cfg.Storage.SQLitePath).Info("Using SQLite history store")
		return store, func() { store.Close() }, nil

	case "postgres":
		runner, err := database.NewMigrationRunner(databaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		err = runner.Up(ctx)
		runner.Close()
		if err != nil {
			return nil, nil, err
		}

		db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := history.NewPostgresStore(db.SQL())
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.WithField("host", cfg.Database.Host).Info("Using PostgreSQL history store")
		return store, func() {
			store.Close()
			db.Close()
		}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

// NewPredictor builds the prediction client with its cache. Redis is only
// used when caching is enabled and a URL is configured; an unreachable Redis
// degrades to the in-memory tier.
func NewPredictor(cfg *domain.Config, logger *logrus.Logger) (*prediction.Client, func()) {
	var cache *prediction.Cache
	cleanup := func() {}

	if cfg.Cache.Enabled {
		var client *redis.Client
		if cfg.Cache.RedisURL != "" {
			c, err := prediction.NewRedisClient(cfg.Cache)
			if err != nil {
				logger.WithError(err).Warn("Redis unavailable, using in-memory prediction cache only")
			} else {
				client = c
				cleanup = func() { c.Close() }
			}
		}
		cache = prediction.NewCache(cfg.Cache, client, logger)
	}

	return prediction.NewClient(cfg.Prediction, cache, logger), cleanup
}
