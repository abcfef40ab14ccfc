package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	mu     sync.Mutex
	orders []domain.OrderRequest
	err    error
}

func (f *fakeOrders) CreateOrder(_ context.Context, order domain.OrderRequest) (domain.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
	if f.err != nil {
		return domain.OrderConfirmation{}, f.err
	}
	return domain.OrderConfirmation{OrderID: "order-1", Status: "created"}, nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

var shipping = domain.Shipping{
	FullName:   "Ada Lovelace",
	Phone:      "+44 20 7946 0000",
	Address:    "12 Market Street",
	City:       "London",
	PostalCode: "SW1Y 4JU",
	Country:    "GB",
}

func setup(t *testing.T) (*cart.Store, *fakeOrders, *Submitter, *metrics.Metrics) {
	t.Helper()
	store := cart.NewStore()
	store.SetItems([]domain.LineItem{
		{ProductID: "p-1", VariantID: "red", SelectedSize: "M", Quantity: 2, UnitPrice: 100, StockCeiling: 5, Title: "Linen Shirt", SKU: "LS-RED-M"},
		{ProductID: "p-3", VariantID: "std", Quantity: 1, UnitPrice: 80, StockCeiling: 0, Title: "Sold Out Scarf"},
		{ProductID: "p-2", VariantID: "std", Quantity: 1, UnitPrice: 50, StockCeiling: 3, Title: "Canvas Tote"},
	})
	store.ApplyCoupon(domain.Coupon{Code: "SAVE10", Type: domain.CouponPercentage, Value: 10})

	orders := &fakeOrders{}
	m := metrics.Discard()
	s := NewSubmitter(store, orders, m, zerolog.Nop(), 0)
	s.SetShipping(shipping)
	return store, orders, s, m
}

func TestSubmit_OrderPayload(t *testing.T) {
	_, orders, s, _ := setup(t)

	require.NoError(t, s.Submit(context.Background(), "3f1c2a9e-5b7d-4e21-9a0c-1d2e3f4a5b6c"))
	require.Equal(t, 1, orders.count())

	payload, err := json.MarshalIndent(orders.orders[0], "", "  ")
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "order_payload", append(payload, '\n'))
}

func TestSubmit_SuccessClearsCart(t *testing.T) {
	store, _, s, m := setup(t)

	require.NoError(t, s.Submit(context.Background(), "session-1"))

	assert.Equal(t, 0, store.Len())
	assert.Nil(t, store.Coupon())
	conf, ok := s.LastConfirmation()
	require.True(t, ok)
	assert.Equal(t, "order-1", conf.OrderID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("ok")))
}

func TestSubmit_FailureKeepsCart(t *testing.T) {
	store, orders, s, m := setup(t)
	orders.err = errors.New("orders service unavailable")

	err := s.Submit(context.Background(), "session-1")
	require.ErrorIs(t, err, domain.ErrSubmissionFailed)
	assert.ErrorContains(t, err, "orders service unavailable")

	assert.Equal(t, 3, store.Len())
	assert.NotNil(t, store.Coupon())
	_, ok := s.LastConfirmation()
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("failed")))
}

func TestSubmit_DuplicateKeyIsNotResent(t *testing.T) {
	store, orders, s, _ := setup(t)

	require.NoError(t, s.Submit(context.Background(), "session-1"))
	store.SetItems([]domain.LineItem{{ProductID: "p-9", VariantID: "v", Quantity: 1, UnitPrice: 1, StockCeiling: 1}})

	require.NoError(t, s.Submit(context.Background(), "session-1"))
	assert.Equal(t, 1, orders.count())
	assert.Equal(t, 1, store.Len())
}

func TestSubmit_EmptyCart(t *testing.T) {
	store, orders, s, m := setup(t)
	store.SetItems([]domain.LineItem{{ProductID: "p-3", VariantID: "std", Quantity: 1, UnitPrice: 80, StockCeiling: 0}})

	err := s.Submit(context.Background(), "session-1")
	require.ErrorIs(t, err, domain.ErrSubmissionFailed)
	require.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Equal(t, 0, orders.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("rejected")))
}

func TestSubmit_IncompleteShipping(t *testing.T) {
	_, orders, s, _ := setup(t)
	s.SetShipping(domain.Shipping{FullName: "Ada Lovelace"})

	err := s.Submit(context.Background(), "session-1")
	require.ErrorIs(t, err, domain.ErrShippingIncomplete)
	assert.Equal(t, 0, orders.count())
}

func TestBuild_ClampsOverstockedLines(t *testing.T) {
	store, _, s, _ := setup(t)
	store.UpdateStockCeiling("p-1", "red", 1)

	order, err := s.Build("k")
	require.NoError(t, err)

	require.Len(t, order.Items, 2)
	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.Equal(t, domain.Totals{Subtotal: 150, Discount: 15, Total: 135}, order.Totals)

	item, _ := store.Item(domain.Key{ProductID: "p-1", VariantID: "red", SelectedSize: "M"})
	assert.Equal(t, 1, item.Quantity, "the clamp is written back to the cart")
}

func TestBuild_NoCoupon(t *testing.T) {
	store, _, s, _ := setup(t)
	store.RemoveCoupon()

	order, err := s.Build("k")
	require.NoError(t, err)
	assert.Empty(t, order.CouponCode)
	assert.Equal(t, domain.Totals{Subtotal: 250, Total: 250}, order.Totals)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "k", order.IdempotencyKey)
}
