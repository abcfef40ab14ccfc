// Package checkout builds the order payload from the cart and submits it once per
// confirmed hold.
package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/fjod/go_cart/storefront/internal/reconcile"
	"github.com/rs/zerolog"
)

// OrderCreator is the order-creation collaborator.
type OrderCreator interface {
	CreateOrder(ctx context.Context, order domain.OrderRequest) (domain.OrderConfirmation, error)
}

type Submitter struct {
	store   *cart.Store
	orders  OrderCreator
	metrics *metrics.Metrics
	log     zerolog.Logger
	timeout time.Duration

	mu        sync.Mutex
	shipping  domain.Shipping
	confirmed map[string]domain.OrderConfirmation // by idempotency key
	last      *domain.OrderConfirmation
}

func NewSubmitter(store *cart.Store, orders OrderCreator, m *metrics.Metrics, log zerolog.Logger, timeout time.Duration) *Submitter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Submitter{
		store:     store,
		orders:    orders,
		metrics:   m,
		log:       log.With().Str("component", "checkout").Logger(),
		timeout:   timeout,
		confirmed: make(map[string]domain.OrderConfirmation),
	}
}

func (s *Submitter) SetShipping(sh domain.Shipping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipping = sh
}

func (s *Submitter) Shipping() domain.Shipping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shipping
}

// LastConfirmation returns the most recent successful order, if any.
func (s *Submitter) LastConfirmation() (domain.OrderConfirmation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return domain.OrderConfirmation{}, false
	}
	return *s.last, true
}

// Confirmed reports whether idempotencyKey already produced an order here.
func (s *Submitter) Confirmed(idempotencyKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.confirmed[idempotencyKey]
	return ok
}

// Build clamps overstocked lines, drops unavailable ones and assembles the payload.
// Only available lines are sent and priced.
func (s *Submitter) Build(idempotencyKey string) (domain.OrderRequest, error) {
	if clamped := s.store.ClampToStock(); clamped > 0 {
		s.log.Info().Int("lines", clamped).Msg("clamped overstocked lines before checkout")
	}

	snap := s.store.Snapshot()
	available, unavailable := reconcile.Partition(snap.Items)
	if len(available) == 0 {
		return domain.OrderRequest{}, domain.ErrEmptyCart
	}
	if len(unavailable) > 0 {
		s.log.Info().Int("lines", len(unavailable)).Msg("excluding out of stock lines from order")
	}

	shipping := s.Shipping()
	if !shipping.Complete() {
		return domain.OrderRequest{}, domain.ErrShippingIncomplete
	}

	order := domain.OrderRequest{
		Items:          available,
		Shipping:       shipping,
		PaymentStatus:  domain.PaymentStatusPaid,
		IdempotencyKey: idempotencyKey,
		Totals:         pricing.Compute(available, snap.Coupon),
	}
	if snap.Coupon != nil {
		order.CouponCode = snap.Coupon.Code
	}
	return order, nil
}

// Submit sends the order for sessionID. A key that already produced an order is not
// sent again. The cart is cleared only after the collaborator accepts the order.
func (s *Submitter) Submit(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if _, ok := s.confirmed[sessionID]; ok {
		s.mu.Unlock()
		s.log.Info().Str("session_id", sessionID).Msg("duplicate submission ignored")
		return nil
	}
	s.mu.Unlock()

	order, err := s.Build(sessionID)
	if err != nil {
		s.metrics.Submissions.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conf, err := s.orders.CreateOrder(reqCtx, order)
	if err != nil {
		s.metrics.Submissions.WithLabelValues("failed").Inc()
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("order submission failed")
		return fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, err)
	}

	s.mu.Lock()
	s.confirmed[sessionID] = conf
	s.last = &conf
	s.mu.Unlock()

	s.store.Clear()
	s.metrics.Submissions.WithLabelValues("ok").Inc()
	s.log.Info().
		Str("session_id", sessionID).
		Str("order_id", conf.OrderID).
		Float64("total", order.Totals.Total).
		Msg("order submitted")
	return nil
}
