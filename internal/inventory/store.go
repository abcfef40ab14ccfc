// Package inventory is an in-memory stand-in for the storefront API: product stock,
// a coupon book and order intake. `storefront backend` serves it over HTTP.
package inventory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyOrder        = errors.New("order has no items")
)

// CouponRule is a coupon the backend accepts. MinTotal of zero means no minimum.
type CouponRule struct {
	Code     string            `yaml:"code"`
	Type     domain.CouponType `yaml:"type"`
	Value    float64           `yaml:"value"`
	MinTotal float64           `yaml:"min_total"`
	Message  string            `yaml:"message"`
}

// CouponError is a rejection with the message shown to the shopper.
type CouponError struct {
	Message string
}

func (e *CouponError) Error() string { return e.Message }

type Order struct {
	ID        string              `json:"id"`
	Request   domain.OrderRequest `json:"request"`
	Status    string              `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

type product struct {
	info     domain.Product
	stock    int
	variants map[string]int
	order    []string // variant ids in insertion order
}

// MemoryStore holds the catalog, coupon book and accepted orders.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*product
	coupons  map[string]CouponRule // upper-cased code -> rule
	orders   map[string]*Order     // order id -> order
	byKey    map[string]string     // idempotency key -> order id
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*product),
		coupons:  make(map[string]CouponRule),
		orders:   make(map[string]*Order),
		byKey:    make(map[string]string),
		now:      time.Now,
	}
}

// SetProduct adds or replaces a product with its product-level and variant stock.
func (s *MemoryStore) SetProduct(p domain.Product, stock int, variants ...domain.VariantStock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &product{info: p, stock: stock, variants: make(map[string]int, len(variants))}
	for _, v := range variants {
		if _, dup := entry.variants[v.ID]; !dup {
			entry.order = append(entry.order, v.ID)
		}
		entry.variants[v.ID] = v.Stock
	}
	s.products[p.ID] = entry
}

// SetStock overwrites stock for a product, or for one of its variants when variantID
// is not empty.
func (s *MemoryStore) SetStock(productID, variantID string, stock int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	if variantID == "" {
		p.stock = stock
		return nil
	}
	if _, exists := p.variants[variantID]; !exists {
		p.order = append(p.order, variantID)
	}
	p.variants[variantID] = stock
	return nil
}

func (s *MemoryStore) Product(productID string) (domain.Product, domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return domain.Product{}, domain.StockLevel{}, ErrProductNotFound
	}
	return p.info, p.level(), nil
}

func (s *MemoryStore) AddCoupon(rule CouponRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[strings.ToUpper(rule.Code)] = rule
}

// ValidateCoupon checks code against the coupon book for a cart worth cartTotal.
// Codes are matched case-insensitively.
func (s *MemoryStore) ValidateCoupon(code string, cartTotal float64) (domain.Coupon, error) {
	s.mu.RLock()
	rule, ok := s.coupons[strings.ToUpper(strings.TrimSpace(code))]
	s.mu.RUnlock()

	if !ok {
		return domain.Coupon{}, &CouponError{Message: "Invalid coupon code"}
	}
	if rule.MinTotal > 0 && cartTotal < rule.MinTotal {
		return domain.Coupon{}, &CouponError{Message: fmt.Sprintf("Minimum order of %.2f required", rule.MinTotal)}
	}
	return domain.Coupon{Code: rule.Code, Type: rule.Type, Value: rule.Value, Message: rule.Message}, nil
}

// PlaceOrder accepts req and deducts stock. A repeated idempotency key returns the
// original order without deducting again.
func (s *MemoryStore) PlaceOrder(req domain.OrderRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if id, ok := s.byKey[req.IdempotencyKey]; ok {
			return s.orders[id], nil
		}
	}

	// First pass: validate every line has enough stock
	for _, it := range req.Items {
		p, ok := s.products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if p.available(it.VariantID) < s.requested(req.Items, it.ProductID, it.VariantID) {
			return nil, fmt.Errorf("%w for %s", ErrInsufficientStock, it.ProductID)
		}
	}

	// Second pass: deduct
	for _, it := range req.Items {
		s.products[it.ProductID].deduct(it.VariantID, it.Quantity)
	}

	order := &Order{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    "created",
		CreatedAt: s.now(),
	}
	s.orders[order.ID] = order
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = order.ID
	}
	return order, nil
}

// Orders lists accepted orders, oldest first.
func (s *MemoryStore) Orders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// requested sums quantities across sizes of the same product and variant.
func (s *MemoryStore) requested(items []domain.LineItem, productID, variantID string) int {
	total := 0
	for _, it := range items {
		if it.ProductID == productID && it.VariantID == variantID {
			total += it.Quantity
		}
	}
	return total
}

func (p *product) level() domain.StockLevel {
	level := domain.StockLevel{Stock: p.stock}
	for _, id := range p.order {
		level.Variants = append(level.Variants, domain.VariantStock{ID: id, Stock: p.variants[id]})
	}
	return level
}

func (p *product) available(variantID string) int {
	if n, ok := p.variants[variantID]; ok {
		return n
	}
	return p.stock
}

func (p *product) deduct(variantID string, qty int) {
	if _, ok := p.variants[variantID]; ok {
		p.variants[variantID] -= qty
		return
	}
	p.stock -= qty
}
