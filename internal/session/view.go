package session

import (
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/pricing"
)

// LineView is a cart line as the UI renders it. Unavailable lines stay listed with
// OutOfStock set but are left out of the totals.
type LineView struct {
	domain.LineItem
	OutOfStock  bool    `json:"out_of_stock"`
	Overstocked bool    `json:"overstocked,omitempty"`
	LineTotal   float64 `json:"line_total"`
}

type CartView struct {
	Version uint64         `json:"version"`
	Items   []LineView     `json:"items"`
	Coupon  *domain.Coupon `json:"coupon,omitempty"`
	Totals  domain.Totals  `json:"totals"`
}

// NewCartView prices snap over its available lines.
func NewCartView(snap cart.Snapshot) CartView {
	view := CartView{
		Version: snap.Version,
		Items:   make([]LineView, 0, len(snap.Items)),
		Coupon:  snap.Coupon,
		Totals:  pricing.Compute(snap.Available(), snap.Coupon),
	}
	for _, it := range snap.Items {
		view.Items = append(view.Items, LineView{
			LineItem:    it,
			OutOfStock:  !it.Available(),
			Overstocked: it.Available() && it.Overstocked(),
			LineTotal:   it.Subtotal(),
		})
	}
	return view
}

// View renders the engine's current cart.
func (e *Engine) View() CartView {
	return NewCartView(e.Store.Snapshot())
}
