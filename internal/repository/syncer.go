package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/rs/zerolog"
)

// Syncer writes store snapshots to one slot. Snapshots are applied in version order
// and bursts coalesce into a single write of the newest one.
type Syncer struct {
	repo    SlotRepository
	slot    string
	timeout time.Duration
	log     zerolog.Logger

	mu          sync.Mutex
	pending     *cart.Snapshot
	lastVersion uint64
	running     bool
	wg          sync.WaitGroup
}

func NewSyncer(repo SlotRepository, slot string, timeout time.Duration, log zerolog.Logger) *Syncer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Syncer{
		repo:    repo,
		slot:    slot,
		timeout: timeout,
		log:     log.With().Str("component", "slot-sync").Str("slot", slot).Logger(),
	}
}

// Restore loads the slot into store. A missing slot leaves the store empty.
func (s *Syncer) Restore(ctx context.Context, store *cart.Store) error {
	items, err := s.repo.Load(ctx, s.slot)
	if err != nil {
		if errors.Is(err, domain.ErrSlotNotFound) {
			return nil
		}
		return fmt.Errorf("restore slot %s: %w", s.slot, err)
	}
	store.SetItems(items)
	s.mu.Lock()
	s.lastVersion = store.Snapshot().Version
	s.mu.Unlock()
	return nil
}

// Attach subscribes the syncer to store and returns the unsubscribe function.
func (s *Syncer) Attach(store *cart.Store) func() {
	return store.Subscribe(s.OnChange)
}

// OnChange queues snap for writing unless a newer snapshot was already seen.
func (s *Syncer) OnChange(snap cart.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Version <= s.lastVersion {
		return
	}
	s.lastVersion = snap.Version
	s.pending = &snap
	if s.running {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.flushLoop()
}

// Wait blocks until queued snapshots have been written.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

func (s *Syncer) flushLoop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		snap := s.pending
		s.pending = nil
		if snap == nil {
			s.running = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if err := s.write(*snap); err != nil {
			s.log.Error().Err(err).Uint64("version", snap.Version).Msg("failed to persist cart")
		}
	}
}

func (s *Syncer) write(snap cart.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if len(snap.Items) == 0 {
		return s.repo.Delete(ctx, s.slot)
	}
	return s.repo.Save(ctx, s.slot, snap.Items)
}
