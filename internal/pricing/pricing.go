// Package pricing turns cart lines and a coupon into totals, and acquires coupons
// from the validation collaborator.
package pricing

import (
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Subtotal sums unit price times quantity over available lines only.
func Subtotal(items []domain.LineItem) float64 {
	return subtotal(items).InexactFloat64()
}

// Compute derives subtotal, discount and total. It has no side effects.
//
// A percentage coupon on a zero subtotal discounts its raw value, and a fixed coupon is
// not capped at the subtotal, so Total can go negative.
func Compute(items []domain.LineItem, coupon *domain.Coupon) domain.Totals {
	sub := subtotal(items)
	discount := decimal.Zero

	if coupon != nil {
		value := decimal.NewFromFloat(coupon.Value)
		switch coupon.Type {
		case domain.CouponPercentage:
			if sub.IsZero() {
				discount = value
			} else {
				discount = sub.Mul(value).Div(hundred)
			}
		case domain.CouponFixed:
			discount = value
		}
	}

	return domain.Totals{
		Subtotal: sub.InexactFloat64(),
		Discount: discount.InexactFloat64(),
		Total:    sub.Sub(discount).InexactFloat64(),
	}
}

func subtotal(items []domain.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		if !it.Available() {
			continue
		}
		line := decimal.NewFromFloat(it.UnitPrice).Mul(decimal.NewFromInt(int64(it.Quantity)))
		sum = sum.Add(line)
	}
	return sum
}
