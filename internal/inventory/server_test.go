package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*MemoryStore, *httptest.Server) {
	t.Helper()
	store := newSeededStore(t)
	srv := httptest.NewServer(NewHandler(store, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return store, srv
}

func TestGetProduct(t *testing.T) {
	_, srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/products/id/canvas-tote")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Canvas Tote", body["title"])
	assert.Equal(t, 40.0, body["stock"])
	assert.Equal(t, 19.5, body["sale_price"])
}

func TestGetProduct_NotFound(t *testing.T) {
	_, srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/products/id/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, map[string]string{"message": "Product not found", "code": "not_found"}, body)
}

func TestCreateOrder_RequiresPaidStatus(t *testing.T) {
	_, srv := setupServer(t)

	body := `{"items":[{"product_id":"canvas-tote","variant_id":"std","quantity":1}],"paymentStatus":"pending","idempotencyKey":"k"}`
	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, "paymentStatus must be paid", errResp.Message)
}

func TestCreateOrder_InvalidJSON(t *testing.T) {
	_, srv := setupServer(t)

	resp, err := http.Post(srv.URL+"/orders", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// The storefront client talks to the backend end to end.
func TestClientAgainstBackend(t *testing.T) {
	store, srv := setupServer(t)
	client := catalog.NewClient(catalog.Config{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	ctx := context.Background()

	level, err := client.Stock(ctx, "linen-shirt")
	require.NoError(t, err)
	assert.Equal(t, 2, level.For("navy"))

	_, err = client.Stock(ctx, "ghost")
	var apiErr *catalog.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	coupon, err := client.ValidateCoupon(ctx, "fiveoff", 30)
	require.NoError(t, err)
	assert.Equal(t, domain.CouponFixed, coupon.Type)

	_, err = client.ValidateCoupon(ctx, "BIGSPENDER", 30)
	var rejected *domain.CouponRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Minimum order of 200.00 required", rejected.Message)

	conf, err := client.CreateOrder(ctx, domain.OrderRequest{
		Items:          []domain.LineItem{{ProductID: "linen-shirt", VariantID: "navy", Quantity: 2, UnitPrice: 59, StockCeiling: 2}},
		Shipping:       domain.Shipping{FullName: "A", Address: "B", City: "C"},
		PaymentStatus:  domain.PaymentStatusPaid,
		IdempotencyKey: "k-1",
		Totals:         domain.Totals{Subtotal: 118, Total: 118},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, conf.OrderID)
	assert.Equal(t, "created", conf.Status)

	level, err = client.Stock(ctx, "linen-shirt")
	require.NoError(t, err)
	assert.Equal(t, 0, level.For("navy"))

	_, err = client.CreateOrder(ctx, domain.OrderRequest{
		Items:          []domain.LineItem{{ProductID: "linen-shirt", VariantID: "navy", Quantity: 1}},
		PaymentStatus:  domain.PaymentStatusPaid,
		IdempotencyKey: "k-2",
	})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	require.Len(t, store.Orders(), 1)
	assert.Equal(t, "k-1", store.Orders()[0].Request.IdempotencyKey)
}
