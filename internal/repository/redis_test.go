package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := NewRedisRepository(client, ttl)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, mr
}

func TestRedisRepository(t *testing.T) {
	repo, _ := setupTestRedis(t, time.Hour)
	exerciseSlotRepository(t, repo)
}

func TestRedisRepository_TTLWithJitter(t *testing.T) {
	repo, mr := setupTestRedis(t, time.Hour)
	require.NoError(t, repo.Save(context.Background(), "cart:s", sampleItems()))

	ttl := mr.TTL("cart:s")
	assert.GreaterOrEqual(t, ttl, time.Hour)
	assert.Less(t, ttl, time.Hour+6*time.Minute)
}

func TestRedisRepository_Expires(t *testing.T) {
	repo, mr := setupTestRedis(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, "cart:s", sampleItems()))

	mr.FastForward(2 * time.Minute)
	_, err := repo.Load(ctx, "cart:s")
	assert.ErrorIs(t, err, domain.ErrSlotNotFound)
}

func TestRedisRepository_InvalidJSON(t *testing.T) {
	repo, mr := setupTestRedis(t, time.Hour)
	require.NoError(t, mr.Set("cart:s", "{not json"))

	_, err := repo.Load(context.Background(), "cart:s")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSlotNotFound)
}

func TestRedisRepository_ConnectionError(t *testing.T) {
	repo, mr := setupTestRedis(t, time.Hour)
	mr.Close()

	_, err := repo.Load(context.Background(), "cart:s")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSlotNotFound)
}
