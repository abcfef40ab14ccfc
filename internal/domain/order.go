package domain

import "time"

const PaymentStatusPaid = "paid"

type Shipping struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

func (s Shipping) Complete() bool {
	return s.FullName != "" && s.Address != "" && s.City != ""
}

type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}

// OrderRequest is the body sent to the order-creation collaborator.
type OrderRequest struct {
	Items          []LineItem `json:"items"`
	Shipping       Shipping   `json:"shipping"`
	PaymentStatus  string     `json:"paymentStatus"`
	CouponCode     string     `json:"couponCode,omitempty"`
	IdempotencyKey string     `json:"idempotencyKey"`
	Totals         Totals     `json:"totals"`
}

type OrderConfirmation struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
