package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultSlotTTL = 7 * 24 * time.Hour

// RedisRepository stores each slot as a JSON array with a jittered TTL so abandoned
// carts expire without all landing on the same second.
type RedisRepository struct {
	client  *redis.Client
	baseTTL time.Duration
	jitter  time.Duration
}

func NewRedisRepository(client *redis.Client, baseTTL time.Duration) *RedisRepository {
	if baseTTL <= 0 {
		baseTTL = defaultSlotTTL
	}
	return &RedisRepository{
		client:  client,
		baseTTL: baseTTL,
		jitter:  baseTTL / 10,
	}
}

func (r *RedisRepository) Load(ctx context.Context, slot string) ([]domain.LineItem, error) {
	data, err := r.client.Get(ctx, slot).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var items []domain.LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal slot %s failed: %w", slot, err)
	}
	return items, nil
}

func (r *RedisRepository) Save(ctx context.Context, slot string, items []domain.LineItem) error {
	if items == nil {
		items = []domain.LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal slot %s failed: %w", slot, err)
	}

	if err := r.client.Set(ctx, slot, data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, slot string) error {
	if err := r.client.Del(ctx, slot).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func (r *RedisRepository) ttl() time.Duration {
	if r.jitter <= 0 {
		return r.baseTTL
	}
	return r.baseTTL + time.Duration(rand.Int63n(int64(r.jitter)))
}
