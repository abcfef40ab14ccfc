package repository

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Open builds the slot repository cfg selects. With RedisCache set, Redis fronts the
// durable sqlite or mongo backend.
func Open(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (SlotRepository, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryRepository(), nil
	case config.BackendRedis:
		client, err := connectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return NewRedisRepository(client, cfg.SlotTTL), nil
	}

	durable, err := openDurable(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.RedisCache {
		return durable, nil
	}

	client, err := connectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		durable.Close()
		return nil, err
	}
	return NewCachedRepository(durable, NewRedisRepository(client, cfg.SlotTTL), log), nil
}

func openDurable(ctx context.Context, cfg config.StoreConfig) (SlotRepository, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		repo, err := NewSQLiteRepository(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := repo.RunMigrations(); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	case config.BackendMongo:
		return OpenMongoRepository(ctx, MongoOptions{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
			PoolSize: cfg.MongoPoolSize,
			Timeout:  cfg.MongoTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func connectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
