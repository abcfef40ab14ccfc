package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/reconcile"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/rs/zerolog"
)

// Sessions resolves a shopper id to its engine.
type Sessions interface {
	Get(ctx context.Context, shopperID string) (*session.Engine, error)
}

type CartHandler struct {
	sessions Sessions
	timeout  time.Duration
	log      zerolog.Logger
}

func NewCartHandler(sessions Sessions, timeout time.Duration, log zerolog.Logger) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		timeout:  timeout,
		log:      log,
	}
}

type AddItemRequestDTO struct {
	Product      domain.Product `json:"product"`
	VariantID    string         `json:"variant_id"`
	SelectedSize string         `json:"selected_size,omitempty"`
	KnownStock   *int           `json:"known_stock,omitempty"`
}

type UpdateQuantityRequestDTO struct {
	domain.Key
	Quantity int `json:"quantity"`
}

type ApplyCouponRequestDTO struct {
	Code string `json:"code"`
}

type RefreshResponseDTO struct {
	Report reconcile.Report `json:"report"`
	Cart   session.CartView `json:"cart"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, e.View())
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Product.ID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product.id is required")
		return
	}

	res := e.Store.AddItem(req.Product, req.VariantID, req.KnownStock, req.SelectedSize)
	if !res.Success {
		respondResult(w, res)
		return
	}
	respondJSON(w, http.StatusCreated, e.View())
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if res := e.Store.UpdateQuantity(req.Key, req.Quantity); !res.Success {
		respondResult(w, res)
		return
	}
	respondJSON(w, http.StatusOK, e.View())
}

// RemoveItem takes the line key from the query: product_id, variant_id and size.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	key := domain.Key{
		ProductID:    q.Get("product_id"),
		VariantID:    q.Get("variant_id"),
		SelectedSize: q.Get("size"),
	}
	if key.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	e.Store.RemoveItem(key)
	respondJSON(w, http.StatusOK, e.View())
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	e.Store.Clear()
	respondJSON(w, http.StatusOK, e.View())
}

func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	e, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req ApplyCouponRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	_, err := e.Coupons.Apply(ctx, req.Code)
	var rejected *domain.CouponRejectedError
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, e.View())
	case errors.As(err, &rejected):
		respondError(w, http.StatusUnprocessableEntity, "coupon_rejected", rejected.Message)
	case errors.Is(err, domain.ErrStaleResponse):
		respondError(w, http.StatusConflict, "superseded", "a newer coupon request replaced this one")
	default:
		h.log.Error().Err(err).Str("shopper_id", e.ID).Msg("coupon validation failed")
		respondError(w, http.StatusBadGateway, "upstream_error", "coupon validation is unavailable")
	}
}

func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	e.Coupons.Remove()
	respondJSON(w, http.StatusOK, e.View())
}

func (h *CartHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	e, ok := h.engine(w, r)
	if !ok {
		return
	}

	report := e.Refresh(ctx)
	respondJSON(w, http.StatusOK, RefreshResponseDTO{Report: report, Cart: e.View()})
}

// engine resolves the caller's engine or writes the error response.
func (h *CartHandler) engine(w http.ResponseWriter, r *http.Request) (*session.Engine, bool) {
	return resolveEngine(w, r, h.sessions, h.log)
}

func resolveEngine(w http.ResponseWriter, r *http.Request, sessions Sessions, log zerolog.Logger) (*session.Engine, bool) {
	shopperID := getShopperID(r.Context())
	if shopperID == "" {
		respondError(w, http.StatusUnauthorized, "missing_session", "X-Session-ID header is required")
		return nil, false
	}

	e, err := sessions.Get(r.Context(), shopperID)
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			respondError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
			return nil, false
		}
		log.Error().Err(err).Str("shopper_id", shopperID).Msg("failed to load session")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return nil, false
	}
	return e, true
}

// respondResult maps a refused cart mutation to a status code.
func respondResult(w http.ResponseWriter, res cart.Result) {
	switch {
	case errors.Is(res.Err, domain.ErrStockExhausted):
		respondError(w, http.StatusConflict, "stock_exhausted", res.Message)
	case errors.Is(res.Err, domain.ErrBelowMinimum):
		respondError(w, http.StatusBadRequest, "below_minimum", res.Message)
	case errors.Is(res.Err, domain.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "not_found", res.Message)
	default:
		respondError(w, http.StatusBadRequest, "rejected", res.Message)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
