// Package cart holds the shopper's line items and active coupon. All mutation goes
// through Store methods; callers only ever see copies of the backing collection.
package cart

import (
	"fmt"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// Result is returned by quantity-bearing mutations instead of an error so callers
// can decide how to present a refusal.
type Result struct {
	Success bool
	Message string
	Err     error
}

func succeeded() Result {
	return Result{Success: true}
}

func failed(err error, message string) Result {
	return Result{Success: false, Message: message, Err: err}
}

// Snapshot is an immutable view of the store taken right after a mutation.
type Snapshot struct {
	Version uint64
	Items   []domain.LineItem
	Coupon  *domain.Coupon
}

// Available returns the lines with a positive stock ceiling.
func (s Snapshot) Available() []domain.LineItem {
	out := make([]domain.LineItem, 0, len(s.Items))
	for _, it := range s.Items {
		if it.Available() {
			out = append(out, it)
		}
	}
	return out
}

type Store struct {
	mu      sync.RWMutex
	items   []domain.LineItem
	coupon  *domain.Coupon
	version uint64
	clears  uint64

	subsMu sync.RWMutex
	subs   map[int]func(Snapshot)
	nextID int
}

func NewStore() *Store {
	return &Store{subs: make(map[int]func(Snapshot))}
}

// Subscribe registers fn to receive a snapshot after every mutation. Delivery happens
// outside the store lock; use Snapshot.Version to discard out-of-order deliveries.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// AddItem adds one unit of product in the given configuration. knownStock overrides the
// product's own stock figure when non-nil.
func (s *Store) AddItem(p domain.Product, variantID string, knownStock *int, selectedSize string) Result {
	ceiling := domain.UnboundedStock
	switch {
	case knownStock != nil:
		ceiling = *knownStock
	case p.Stock != nil:
		ceiling = *p.Stock
	}

	key := domain.Key{ProductID: p.ID, VariantID: variantID, SelectedSize: selectedSize}

	s.mu.Lock()
	if i := s.indexOf(key); i >= 0 {
		existing := &s.items[i]
		limit := min(ceiling, existing.StockCeiling)
		if existing.Quantity >= limit {
			s.mu.Unlock()
			return failed(domain.ErrStockExhausted, exhaustedMessage(limit))
		}
		existing.Quantity = min(existing.Quantity+1, limit)
	} else {
		if ceiling < 1 {
			s.mu.Unlock()
			return failed(domain.ErrStockExhausted, exhaustedMessage(ceiling))
		}
		s.items = append(s.items, domain.LineItem{
			ProductID:    p.ID,
			VariantID:    variantID,
			SelectedSize: selectedSize,
			Quantity:     1,
			UnitPrice:    p.EffectivePrice(),
			StockCeiling: ceiling,
			Title:        p.Title,
			SKU:          p.SKU,
			ImageRef:     p.ImageRef,
			CategoryRef:  p.CategoryRef,
		})
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return succeeded()
}

// UpdateQuantity sets the quantity exactly. It refuses rather than clamps.
func (s *Store) UpdateQuantity(key domain.Key, qty int) Result {
	if qty < 1 {
		return failed(domain.ErrBelowMinimum, "Quantity must be at least 1")
	}

	s.mu.Lock()
	i := s.indexOf(key)
	if i < 0 {
		s.mu.Unlock()
		return failed(domain.ErrItemNotFound, "Item is no longer in the cart")
	}
	if qty > s.items[i].StockCeiling {
		ceiling := s.items[i].StockCeiling
		s.mu.Unlock()
		return failed(domain.ErrStockExhausted, exhaustedMessage(ceiling))
	}
	s.items[i].Quantity = qty
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return succeeded()
}

func (s *Store) Increment(key domain.Key) Result {
	item, ok := s.Item(key)
	if !ok {
		return failed(domain.ErrItemNotFound, "Item is no longer in the cart")
	}
	return s.UpdateQuantity(key, item.Quantity+1)
}

func (s *Store) Decrement(key domain.Key) Result {
	item, ok := s.Item(key)
	if !ok {
		return failed(domain.ErrItemNotFound, "Item is no longer in the cart")
	}
	return s.UpdateQuantity(key, item.Quantity-1)
}

// RemoveItem drops the line if present. Removing an absent key is a no-op.
func (s *Store) RemoveItem(key domain.Key) {
	s.mu.Lock()
	i := s.indexOf(key)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// UpdateStockCeiling rewrites the ceiling on every size of productID/variantID and
// returns how many lines changed. Quantity is left alone.
func (s *Store) UpdateStockCeiling(productID, variantID string, ceiling int) int {
	if ceiling < 0 {
		ceiling = 0
	}

	s.mu.Lock()
	changed := 0
	for i := range s.items {
		it := &s.items[i]
		if it.ProductID == productID && it.VariantID == variantID && it.StockCeiling != ceiling {
			it.StockCeiling = ceiling
			changed++
		}
	}
	if changed == 0 {
		s.mu.Unlock()
		return 0
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return changed
}

// ClampToStock lowers any quantity above its ceiling to the ceiling. Lines with a zero
// ceiling are left as they are; they are excluded from pricing and checkout instead.
func (s *Store) ClampToStock() int {
	s.mu.Lock()
	clamped := 0
	for i := range s.items {
		it := &s.items[i]
		if it.Available() && it.Overstocked() {
			it.Quantity = it.StockCeiling
			clamped++
		}
	}
	if clamped == 0 {
		s.mu.Unlock()
		return 0
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return clamped
}

// SetItems replaces the whole collection. Duplicate keys keep the first occurrence.
func (s *Store) SetItems(items []domain.LineItem) {
	deduped := make([]domain.LineItem, 0, len(items))
	seen := make(map[domain.Key]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.Key()]; dup {
			continue
		}
		seen[it.Key()] = struct{}{}
		deduped = append(deduped, it)
	}

	s.mu.Lock()
	s.items = deduped
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// Clear empties the cart and drops the active coupon.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.coupon = nil
	s.clears++
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
}

func (s *Store) ApplyCoupon(c domain.Coupon) {
	s.mu.Lock()
	s.coupon = &c
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// ClearEpoch changes every time Clear runs.
func (s *Store) ClearEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clears
}

// ApplyCouponSince sets c only if Clear has not run since epoch was read.
func (s *Store) ApplyCouponSince(epoch uint64, c domain.Coupon) bool {
	s.mu.Lock()
	if s.clears != epoch {
		s.mu.Unlock()
		return false
	}
	s.coupon = &c
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
	return true
}

func (s *Store) RemoveCoupon() {
	s.mu.Lock()
	if s.coupon == nil {
		s.mu.Unlock()
		return
	}
	s.coupon = nil
	snap := s.commitLocked()
	s.mu.Unlock()

	s.publish(snap)
}

func (s *Store) Coupon() *domain.Coupon {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.coupon == nil {
		return nil
	}
	c := *s.coupon
	return &c
}

func (s *Store) Item(key domain.Key) (domain.LineItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(key); i >= 0 {
		return s.items[i], true
	}
	return domain.LineItem{}, false
}

func (s *Store) Items() []domain.LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.LineItem(nil), s.items...)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// ProductIDs returns each distinct product id in insertion order.
func (s *Store) ProductIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.items))
	ids := make([]string, 0, len(s.items))
	for _, it := range s.items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}

func (s *Store) indexOf(key domain.Key) int {
	for i := range s.items {
		if s.items[i].Key() == key {
			return i
		}
	}
	return -1
}

func (s *Store) commitLocked() Snapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version: s.version,
		Items:   append([]domain.LineItem(nil), s.items...),
	}
	if s.coupon != nil {
		c := *s.coupon
		snap.Coupon = &c
	}
	return snap
}

func (s *Store) publish(snap Snapshot) {
	s.subsMu.RLock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func exhaustedMessage(ceiling int) string {
	if ceiling <= 0 {
		return "This item is out of stock"
	}
	return fmt.Sprintf("Only %d left in stock", ceiling)
}
