// Package catalog is the client for the storefront's generic JSON API: product stock,
// coupon validation and order creation.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const maxResponseBytes = 1 << 20 // 1MB

// APIError is a non-2xx reply from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying later could succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type Config struct {
	BaseURL          string
	Timeout          time.Duration
	BreakerTimeout   time.Duration
	FailureThreshold uint32
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	sfg     singleflight.Group // collapses concurrent stock lookups for one product
	log     zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log.With().Str("component", "catalog").Logger(),
	}

	threshold := cfg.FailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "storefront-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("circuit breaker state changed")
		},
	})
	return c
}

// Stock returns the authoritative stock for productID. Concurrent callers for one product
// share a single request, bounded by the client timeout rather than any one caller's ctx.
func (c *Client) Stock(ctx context.Context, productID string) (domain.StockLevel, error) {
	ch := c.sfg.DoChan(productID, func() (interface{}, error) {
		body, err := c.do(context.WithoutCancel(ctx), http.MethodGet, "/products/id/"+url.PathEscape(productID), nil)
		if err != nil {
			return nil, err
		}
		var level domain.StockLevel
		if err := json.Unmarshal(body, &level); err != nil {
			return nil, fmt.Errorf("unmarshal stock for %s failed: %w", productID, err)
		}
		return level, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.StockLevel{}, fmt.Errorf("get stock for %s: %w", productID, res.Err)
		}
		return res.Val.(domain.StockLevel), nil
	case <-ctx.Done():
		return domain.StockLevel{}, fmt.Errorf("get stock for %s: %w", productID, ctx.Err())
	}
}

type validateCouponRequest struct {
	Code      string  `json:"code"`
	CartTotal float64 `json:"cartTotal"`
}

// ValidateCoupon asks the API whether code applies to a cart worth cartTotal. A 4xx reply
// becomes a *domain.CouponRejectedError carrying the server's message unchanged.
func (c *Client) ValidateCoupon(ctx context.Context, code string, cartTotal float64) (domain.Coupon, error) {
	body, err := c.do(ctx, http.MethodPost, "/coupons/validate", validateCouponRequest{Code: code, CartTotal: cartTotal})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			msg := apiErr.Message
			if msg == "" {
				msg = "Invalid coupon code"
			}
			return domain.Coupon{}, &domain.CouponRejectedError{Code: code, Message: msg}
		}
		return domain.Coupon{}, fmt.Errorf("validate coupon: %w", err)
	}

	var coupon domain.Coupon
	if err := json.Unmarshal(body, &coupon); err != nil {
		return domain.Coupon{}, fmt.Errorf("unmarshal coupon failed: %w", err)
	}
	if coupon.Code == "" {
		coupon.Code = code
	}
	return coupon, nil
}

// CreateOrder submits an order.
func (c *Client) CreateOrder(ctx context.Context, order domain.OrderRequest) (domain.OrderConfirmation, error) {
	body, err := c.do(ctx, http.MethodPost, "/orders", order)
	if err != nil {
		return domain.OrderConfirmation{}, fmt.Errorf("create order: %w", err)
	}

	var conf domain.OrderConfirmation
	if len(body) > 0 {
		if err := json.Unmarshal(body, &conf); err != nil {
			return domain.OrderConfirmation{}, fmt.Errorf("unmarshal order confirmation failed: %w", err)
		}
	}
	return conf, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var bodyReader io.Reader
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
		}
		return body, nil
	})
}

// errorMessage pulls a human-readable message out of an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}
