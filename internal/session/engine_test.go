package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/clock"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/gesture"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu       sync.Mutex
	stock    map[string]int
	coupons  map[string]domain.Coupon
	orderErr error
	orders   []domain.OrderRequest
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		stock:   map[string]int{"shirt": 10, "tote": 3},
		coupons: map[string]domain.Coupon{"SAVE10": {Code: "SAVE10", Type: domain.CouponPercentage, Value: 10}},
	}
}

func (f *fakeAPI) Stock(_ context.Context, productID string) (domain.StockLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.stock[productID]
	if !ok {
		return domain.StockLevel{}, errors.New("unknown product")
	}
	return domain.StockLevel{Stock: n}, nil
}

func (f *fakeAPI) ValidateCoupon(_ context.Context, code string, _ float64) (domain.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[code]
	if !ok {
		return domain.Coupon{}, &domain.CouponRejectedError{Code: code, Message: "Invalid coupon code"}
	}
	return c, nil
}

func (f *fakeAPI) CreateOrder(_ context.Context, order domain.OrderRequest) (domain.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, order)
	if f.orderErr != nil {
		return domain.OrderConfirmation{}, f.orderErr
	}
	return domain.OrderConfirmation{OrderID: "order-1", Status: "created"}, nil
}

func (f *fakeAPI) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeAPI) setOrderErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orderErr = err
}

func testConfig() Config {
	return Config{
		Gesture: gesture.Config{
			HoldDuration:  time.Second,
			Cooldown:      time.Second,
			ConfirmDelay:  100 * time.Millisecond,
			ResetDelay:    500 * time.Millisecond,
			FrameInterval: 10 * time.Millisecond,
		},
		ReconcileTimeout: time.Second,
		SubmitTimeout:    time.Second,
		PersistTimeout:   time.Second,
	}
}

type fixture struct {
	api   *fakeAPI
	repo  *repository.MemoryRepository
	clock *clock.Manual
	m     *metrics.Metrics
	deps  Deps
}

func newFixture() *fixture {
	f := &fixture{
		api:   newFakeAPI(),
		repo:  repository.NewMemoryRepository(),
		clock: clock.NewManual(epoch),
		m:     metrics.Discard(),
	}
	f.deps = Deps{API: f.api, Repo: f.repo, Metrics: f.m, Clock: f.clock, Log: zerolog.Nop()}
	return f
}

func (f *fixture) engine(t *testing.T, id string) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), id, testConfig(), f.deps)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

var shipping = domain.Shipping{FullName: "Ada Lovelace", Address: "12 Market Street", City: "London"}

func addShirt(t *testing.T, e *Engine) {
	t.Helper()
	require.True(t, e.Store.AddItem(domain.Product{ID: "shirt", Title: "Shirt", Price: 100}, "white", nil, "M").Success)
}

func completeHold(t *testing.T, f *fixture, e *Engine) {
	t.Helper()
	require.True(t, e.Hold.Start())
	f.clock.Advance(time.Second)
	f.clock.Advance(100 * time.Millisecond)
}

func TestEngine_RestoresPersistedLinesWithoutCoupon(t *testing.T) {
	f := newFixture()
	items := []domain.LineItem{{ProductID: "shirt", VariantID: "white", Quantity: 2, UnitPrice: 100, StockCeiling: 50}}
	require.NoError(t, f.repo.Save(context.Background(), repository.SlotKey("shopper-1"), items))

	e := f.engine(t, "shopper-1")
	e.Wait()

	got := e.Store.Items()
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Quantity)
	assert.Equal(t, 10, got[0].StockCeiling, "restored ceilings are refreshed")
	assert.Nil(t, e.Store.Coupon())
}

func TestEngine_PersistsMutations(t *testing.T) {
	f := newFixture()
	e := f.engine(t, "shopper-1")

	addShirt(t, e)
	addShirt(t, e)
	e.Wait()

	saved, err := f.repo.Load(context.Background(), repository.SlotKey("shopper-1"))
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, 2, saved[0].Quantity)

	e.Store.Clear()
	e.Wait()
	_, err = f.repo.Load(context.Background(), repository.SlotKey("shopper-1"))
	assert.ErrorIs(t, err, domain.ErrSlotNotFound)
}

func TestEngine_HoldDisabledWhileNothingAvailable(t *testing.T) {
	f := newFixture()
	e := f.engine(t, "shopper-1")

	assert.True(t, e.Hold.Snapshot().Disabled)
	assert.False(t, e.Hold.Start())

	addShirt(t, e)
	assert.False(t, e.Hold.Snapshot().Disabled)
}

func TestEngine_HoldSubmitsOrderAndClearsCart(t *testing.T) {
	f := newFixture()
	e := f.engine(t, "shopper-1")
	addShirt(t, e)
	e.Wait()
	_, err := e.Coupons.Apply(context.Background(), "SAVE10")
	require.NoError(t, err)
	e.SetShipping(shipping)
	sessionID := e.Hold.SessionID()

	completeHold(t, f, e)

	require.Equal(t, 1, f.api.orderCount())
	order := f.api.orders[0]
	assert.Equal(t, sessionID, order.IdempotencyKey)
	assert.Equal(t, "SAVE10", order.CouponCode)
	assert.Equal(t, domain.Totals{Subtotal: 100, Discount: 10, Total: 90}, order.Totals)

	assert.Equal(t, 0, e.Store.Len())
	assert.True(t, e.Checkout.Confirmed(sessionID))
	assert.True(t, e.Hold.Snapshot().Disabled, "an empty cart disarms the control")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.HoldOutcomes.WithLabelValues(string(gesture.EventSucceeded))))

	e.Wait()
	_, err = f.repo.Load(context.Background(), repository.SlotKey("shopper-1"))
	assert.ErrorIs(t, err, domain.ErrSlotNotFound)
}

func TestEngine_FailedSubmissionKeepsCartAndRearms(t *testing.T) {
	f := newFixture()
	f.api.setOrderErr(errors.New("orders unavailable"))
	e := f.engine(t, "shopper-1")
	addShirt(t, e)
	e.SetShipping(shipping)
	first := e.Hold.SessionID()

	completeHold(t, f, e)

	assert.Equal(t, 1, e.Store.Len())
	snap := e.Hold.Snapshot()
	assert.Equal(t, gesture.Processing, snap.State)
	assert.Contains(t, snap.LastError, "orders unavailable")

	f.clock.Advance(500 * time.Millisecond)
	assert.Equal(t, gesture.Idle, e.Hold.State())
	assert.NotEqual(t, first, e.Hold.SessionID())

	f.api.setOrderErr(nil)
	completeHold(t, f, e)
	assert.Equal(t, 2, f.api.orderCount())
	assert.Equal(t, 0, e.Store.Len())
}

func TestEngine_CloseStopsReacting(t *testing.T) {
	f := newFixture()
	e := f.engine(t, "shopper-1")
	addShirt(t, e)
	e.Wait()

	e.Close()
	assert.False(t, e.Hold.Start())
	_, err := e.Coupons.Apply(context.Background(), "SAVE10")
	assert.ErrorIs(t, err, domain.ErrStaleResponse)

	saved, err := f.repo.Load(context.Background(), repository.SlotKey("shopper-1"))
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestCartView_MarksOutOfStockAndPricesAvailableOnly(t *testing.T) {
	f := newFixture()
	f.api.stock = map[string]int{"shirt": 5, "tote": 0}
	e := f.engine(t, "shopper-1")
	e.Store.SetItems([]domain.LineItem{
		{ProductID: "shirt", VariantID: "white", Quantity: 2, UnitPrice: 100, StockCeiling: 5},
		{ProductID: "tote", VariantID: "std", Quantity: 1, UnitPrice: 50, StockCeiling: 0},
		{ProductID: "belt", VariantID: "std", Quantity: 4, UnitPrice: 10, StockCeiling: 2},
	})
	e.Wait()

	view := e.View()
	require.Len(t, view.Items, 3)
	assert.False(t, view.Items[0].OutOfStock)
	assert.Equal(t, 200.0, view.Items[0].LineTotal)
	assert.True(t, view.Items[1].OutOfStock)
	assert.True(t, view.Items[2].Overstocked)
	assert.Equal(t, domain.Totals{Subtotal: 240, Total: 240}, view.Totals)
}
