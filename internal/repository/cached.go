package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CachedRepository reads through a cache in front of a durable backend. Writes go to
// the durable backend and invalidate the cached copy.
type CachedRepository struct {
	durable SlotRepository
	cache   SlotRepository
	sfg     singleflight.Group // prevents cache stampede on one slot
	log     zerolog.Logger
}

func NewCachedRepository(durable, cache SlotRepository, log zerolog.Logger) *CachedRepository {
	return &CachedRepository{
		durable: durable,
		cache:   cache,
		log:     log.With().Str("component", "slot-cache").Logger(),
	}
}

func (c *CachedRepository) Load(ctx context.Context, slot string) ([]domain.LineItem, error) {
	v, err, _ := c.sfg.Do(slot, func() (interface{}, error) {
		items, err := c.cache.Load(ctx, slot)
		if err == nil {
			return items, nil
		}
		if !errors.Is(err, domain.ErrSlotNotFound) {
			c.log.Warn().Err(err).Str("slot", slot).Msg("cache get error")
		}

		items, err = c.durable.Load(ctx, slot)
		if err != nil {
			return nil, err
		}

		if err := c.cache.Save(ctx, slot, items); err != nil {
			c.log.Warn().Err(err).Str("slot", slot).Msg("cache set error")
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.LineItem(nil), v.([]domain.LineItem)...), nil
}

func (c *CachedRepository) Save(ctx context.Context, slot string, items []domain.LineItem) error {
	if err := c.durable.Save(ctx, slot, items); err != nil {
		return err
	}
	c.invalidate(slot)
	return nil
}

func (c *CachedRepository) Delete(ctx context.Context, slot string) error {
	if err := c.durable.Delete(ctx, slot); err != nil {
		return err
	}
	c.invalidate(slot)
	return nil
}

func (c *CachedRepository) Close() error {
	return errors.Join(c.cache.Close(), c.durable.Close())
}

func (c *CachedRepository) invalidate(slot string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.cache.Delete(ctx, slot); err != nil {
		c.log.Warn().Err(fmt.Errorf("invalidate %s: %w", slot, err)).Msg("cache invalidate error")
	}
}
