package domain

type CouponType string

const (
	CouponPercentage CouponType = "percentage"
	CouponFixed      CouponType = "fixed"
)

func (t CouponType) Valid() bool {
	return t == CouponPercentage || t == CouponFixed
}

// Coupon is the server-authoritative discount descriptor. It is never persisted.
type Coupon struct {
	Code    string     `json:"code"`
	Type    CouponType `json:"type"`
	Value   float64    `json:"value"`
	Message string     `json:"message,omitempty"`
}
