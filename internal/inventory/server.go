package inventory

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// ErrorResponse is the body of every non-2xx reply; Message is shown to shoppers as is.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// productView is the GET /products/id/{id} body: catalog fields plus stock.
type productView struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	SKU         string                `json:"sku,omitempty"`
	Price       float64               `json:"price"`
	SalePrice   *float64              `json:"sale_price,omitempty"`
	Stock       int                   `json:"stock"`
	Variants    []domain.VariantStock `json:"variants,omitempty"`
	ImageRef    string                `json:"image_ref,omitempty"`
	CategoryRef string                `json:"category_ref,omitempty"`
}

type validateCouponRequest struct {
	Code      string  `json:"code"`
	CartTotal float64 `json:"cartTotal"`
}

type Handler struct {
	store *MemoryStore
	log   zerolog.Logger
}

func NewHandler(store *MemoryStore, log zerolog.Logger) *Handler {
	return &Handler{store: store, log: log.With().Str("component", "backend").Logger()}
}

// Router mounts the collaborator endpoints the storefront client calls.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/products/id/{id}", h.GetProduct)
	r.Post("/coupons/validate", h.ValidateCoupon)
	r.Post("/orders", h.CreateOrder)
	r.Get("/orders", h.ListOrders)
	return r
}

// GET /products/id/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, level, err := h.store.Product(chi.URLParam(r, "id"))
	if errors.Is(err, ErrProductNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "Product not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, productView{
		ID:          p.ID,
		Title:       p.Title,
		SKU:         p.SKU,
		Price:       p.Price,
		SalePrice:   p.SalePrice,
		Stock:       level.Stock,
		Variants:    level.Variants,
		ImageRef:    p.ImageRef,
		CategoryRef: p.CategoryRef,
	})
}

// POST /coupons/validate
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	coupon, err := h.store.ValidateCoupon(req.Code, req.CartTotal)
	if err != nil {
		var rejected *CouponError
		if errors.As(err, &rejected) {
			respondError(w, http.StatusBadRequest, "coupon_rejected", rejected.Message)
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, coupon)
}

// POST /orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.PaymentStatus != domain.PaymentStatusPaid {
		respondError(w, http.StatusBadRequest, "payment_required", "paymentStatus must be paid")
		return
	}

	order, err := h.store.PlaceOrder(req)
	switch {
	case errors.Is(err, ErrEmptyOrder):
		respondError(w, http.StatusBadRequest, "empty_order", err.Error())
		return
	case errors.Is(err, ErrProductNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	case errors.Is(err, ErrInsufficientStock):
		respondError(w, http.StatusConflict, "insufficient_stock", err.Error())
		return
	case err != nil:
		h.log.Error().Err(err).Msg("failed to place order")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	h.log.Info().
		Str("order_id", order.ID).
		Str("idempotency_key", req.IdempotencyKey).
		Float64("total", req.Totals.Total).
		Msg("order accepted")
	respondJSON(w, http.StatusCreated, domain.OrderConfirmation{
		OrderID:   order.ID,
		Status:    order.Status,
		CreatedAt: order.CreatedAt,
	})
}

// GET /orders
func (h *Handler) ListOrders(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.store.Orders())
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Message: message, Code: code})
}
