package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/gesture"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type CheckoutHandler struct {
	sessions Sessions
	log      zerolog.Logger
}

func NewCheckoutHandler(sessions Sessions, log zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{sessions: sessions, log: log}
}

// HoldEventDTO is the body of a hold signal. Key is used by key-down and key-up,
// Reason by end.
type HoldEventDTO struct {
	Key    string         `json:"key,omitempty"`
	Reason gesture.Reason `json:"reason,omitempty"`
}

type HoldResponseDTO struct {
	Accepted     bool                      `json:"accepted"`
	Hold         gesture.Snapshot          `json:"hold"`
	Confirmation *domain.OrderConfirmation `json:"confirmation,omitempty"`
}

var endReasons = map[gesture.Reason]bool{
	gesture.ReasonPointerUp:      true,
	gesture.ReasonPointerLeave:   true,
	gesture.ReasonTouchCancel:    true,
	gesture.ReasonVisibilityLost: true,
	gesture.ReasonKeyUp:          true,
}

func (h *CheckoutHandler) SetShipping(w http.ResponseWriter, r *http.Request) {
	e, ok := resolveEngine(w, r, h.sessions, h.log)
	if !ok {
		return
	}

	var req domain.Shipping
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if !req.Complete() {
		respondError(w, http.StatusBadRequest, "incomplete_shipping", "full_name, address and city are required")
		return
	}

	e.SetShipping(req)
	respondJSON(w, http.StatusOK, req)
}

// HoldSignal feeds one input signal to the hold control: start, end, key-down or key-up.
func (h *CheckoutHandler) HoldSignal(w http.ResponseWriter, r *http.Request) {
	e, ok := resolveEngine(w, r, h.sessions, h.log)
	if !ok {
		return
	}

	// the body is optional
	var req HoldEventDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var accepted bool
	switch chi.URLParam(r, "action") {
	case "start":
		accepted = e.Hold.Start()
	case "end":
		reason := req.Reason
		if reason == "" {
			reason = gesture.ReasonPointerUp
		}
		if !endReasons[reason] {
			respondError(w, http.StatusBadRequest, "invalid_reason", "unknown end reason")
			return
		}
		accepted = e.Hold.End(reason)
	case "key-down":
		accepted = e.Hold.KeyDown(req.Key)
	case "key-up":
		accepted = e.Hold.KeyUp(req.Key)
	default:
		respondError(w, http.StatusNotFound, "not_found", "unknown hold action")
		return
	}

	respondJSON(w, http.StatusOK, holdResponse(e, accepted))
}

func (h *CheckoutHandler) GetHold(w http.ResponseWriter, r *http.Request) {
	e, ok := resolveEngine(w, r, h.sessions, h.log)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, holdResponse(e, false))
}

func holdResponse(e *session.Engine, accepted bool) HoldResponseDTO {
	resp := HoldResponseDTO{Accepted: accepted, Hold: e.Hold.Snapshot()}
	if conf, ok := e.Checkout.LastConfirmation(); ok {
		resp.Confirmation = &conf
	}
	return resp
}
