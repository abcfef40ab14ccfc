package domain

import (
	"errors"
	"fmt"
)

var (
	ErrStockExhausted     = errors.New("not enough stock for the requested quantity")
	ErrBelowMinimum       = errors.New("quantity must be at least 1")
	ErrItemNotFound       = errors.New("item not found in cart")
	ErrCouponRejected     = errors.New("coupon rejected")
	ErrStockLookupFailed  = errors.New("stock lookup failed")
	ErrSubmissionFailed   = errors.New("order submission failed")
	ErrStaleResponse      = errors.New("response superseded by a newer request")
	ErrEmptyCart          = errors.New("cart has no available items, nothing to checkout")
	ErrSlotNotFound       = errors.New("cart slot not found")
	ErrShippingIncomplete = errors.New("shipping details are incomplete")
)

// CouponRejectedError carries the server's rejection reason verbatim.
type CouponRejectedError struct {
	Code    string
	Message string
}

func (e *CouponRejectedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("coupon rejected: %s", e.Message)
	}
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Message)
}

func (e *CouponRejectedError) Is(target error) bool {
	return target == ErrCouponRejected
}
