package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hervehildenbrand/flow-radar/pkg/config"
	"github.com/hervehildenbrand/flow-radar/pkg/database"
	"github.com/hervehildenbrand/flow-radar/pkg/heuristics"
	"github.com/redis/go-redis/v9"
)

// resources holds optional shared connections opened for a command.
type resources struct {
	redis *redis.Client
	db    *sql.DB
}

func (r *resources) Close() {
	if r.redis != nil {
		r.redis.Close()
	}
	if r.db != nil {
		r.db.Close()
	}
}

// openResources connects to Redis and PostgreSQL when configured.
// Unlike optional sinks, a configured but unreachable backend is an error.
func openResources(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*resources, error) {
	res := &resources{}

	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		res.redis = client
		logger.Info("connected to redis", slog.String("addr", opt.Addr))
	}

	if cfg.Database.URL != "" {
		db, err := database.Open(ctx, cfg.Database.URL)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.db = db
		logger.Info("connected to postgresql")

		if cfg.Database.RunMigrations {
			if err := database.EnsureSchema(ctx, db, logger); err != nil {
				res.Close()
				return nil, err
			}
		}
	}

	return res, nil
}

// registryStore returns the store selected by the heuristics backend.
func registryStore(cfg *config.Config, res *resources, logger *slog.Logger) (heuristics.Store, error) {
	switch cfg.Heuristics.Backend {
	case config.BackendRedis:
		if res.redis == nil {
			return nil, fmt.Errorf("heuristics backend redis needs redis.url")
		}
		return heuristics.NewRedisStore(res.redis, cfg.Redis.HeuristicsPrefix, logger), nil
	case config.BackendPostgres:
		if res.db == nil {
			return nil, fmt.Errorf("heuristics backend postgres needs database.url")
		}
		return database.NewRegistryStore(res.db, logger), nil
	default:
		return heuristics.NewFileStore(cfg.Heuristics.Path, logger), nil
	}
}
