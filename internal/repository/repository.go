// Package repository persists a cart's line items under a named slot.
package repository

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// SlotRepository is implemented by every slot backend. Load returns
// domain.ErrSlotNotFound for a slot that was never saved or has been deleted.
type SlotRepository interface {
	Load(ctx context.Context, slot string) ([]domain.LineItem, error)
	Save(ctx context.Context, slot string, items []domain.LineItem) error
	Delete(ctx context.Context, slot string) error
	Close() error
}

// SlotKey is the slot a shopper session's cart lives under.
func SlotKey(sessionID string) string {
	return "cart:" + sessionID
}

// MemoryRepository keeps slots in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	slots map[string][]domain.LineItem
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{slots: make(map[string][]domain.LineItem)}
}

func (m *MemoryRepository) Load(_ context.Context, slot string) ([]domain.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items, ok := m.slots[slot]
	if !ok {
		return nil, domain.ErrSlotNotFound
	}
	return append([]domain.LineItem(nil), items...), nil
}

func (m *MemoryRepository) Save(_ context.Context, slot string, items []domain.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot] = append([]domain.LineItem{}, items...)
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, slot)
	return nil
}

func (m *MemoryRepository) Close() error { return nil }
