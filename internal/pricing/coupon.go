package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/rs/zerolog"
)

// CouponValidator is the coupon-validation collaborator.
type CouponValidator interface {
	ValidateCoupon(ctx context.Context, code string, cartTotal float64) (domain.Coupon, error)
}

// CouponService validates codes against the live subtotal and applies the server's
// answer to the store. When responses overlap, the most recently issued request wins.
type CouponService struct {
	store     *cart.Store
	validator CouponValidator
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu      sync.Mutex
	issued  uint64
	applied uint64
	closed  bool
}

func NewCouponService(store *cart.Store, validator CouponValidator, m *metrics.Metrics, log zerolog.Logger) *CouponService {
	return &CouponService{
		store:     store,
		validator: validator,
		metrics:   m,
		log:       log.With().Str("component", "coupons").Logger(),
	}
}

// Apply validates code and, on success, makes the returned coupon active. Any failure
// clears the previously active coupon. ErrStaleResponse means a newer Apply, Remove or
// a cart Clear superseded this request and its result was dropped.
func (s *CouponService) Apply(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Coupon{}, &domain.CouponRejectedError{Message: "Please enter a coupon code"}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Coupon{}, domain.ErrStaleResponse
	}
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	epoch := s.store.ClearEpoch()
	cartTotal := Subtotal(s.store.Items())
	coupon, err := s.validator.ValidateCoupon(ctx, code, cartTotal)
	if err == nil && !coupon.Type.Valid() {
		err = fmt.Errorf("validate coupon %q: unknown coupon type %q", code, coupon.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.applied > seq {
		s.log.Debug().Str("code", code).Uint64("seq", seq).Msg("dropping superseded coupon response")
		return domain.Coupon{}, domain.ErrStaleResponse
	}
	s.applied = seq

	if err != nil {
		s.store.RemoveCoupon()
		var rejected *domain.CouponRejectedError
		if errors.As(err, &rejected) {
			s.metrics.CouponValidations.WithLabelValues("rejected").Inc()
			return domain.Coupon{}, err
		}
		s.metrics.CouponValidations.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).Str("code", code).Msg("coupon validation failed")
		return domain.Coupon{}, fmt.Errorf("failed to validate coupon: %w", err)
	}

	// a cart cleared mid-validation makes the cartTotal it was checked against stale
	if !s.store.ApplyCouponSince(epoch, coupon) {
		s.log.Debug().Str("code", code).Uint64("seq", seq).Msg("cart cleared during validation, dropping coupon")
		return domain.Coupon{}, domain.ErrStaleResponse
	}
	s.metrics.CouponValidations.WithLabelValues("accepted").Inc()
	return coupon, nil
}

// Remove drops the active coupon and invalidates any in-flight validation.
func (s *CouponService) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	s.applied = s.issued
	s.store.RemoveCoupon()
}

// Close makes every outstanding and future response a no-op.
func (s *CouponService) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
