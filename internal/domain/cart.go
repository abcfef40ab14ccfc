package domain

import "math"

// UnboundedStock is the ceiling used when neither the caller nor the product
// reports a stock figure.
const UnboundedStock = math.MaxInt32

// Key identifies one cart line. No two lines in a cart share a Key.
type Key struct {
	ProductID    string `json:"product_id" bson:"product_id"`
	VariantID    string `json:"variant_id" bson:"variant_id"`
	SelectedSize string `json:"selected_size,omitempty" bson:"selected_size,omitempty"`
}

type LineItem struct {
	ProductID    string  `json:"product_id" bson:"product_id"`
	VariantID    string  `json:"variant_id" bson:"variant_id"`
	SelectedSize string  `json:"selected_size,omitempty" bson:"selected_size,omitempty"`
	Quantity     int     `json:"quantity" bson:"quantity"`
	UnitPrice    float64 `json:"unit_price" bson:"unit_price"`
	StockCeiling int     `json:"stock_ceiling" bson:"stock_ceiling"`
	Title        string  `json:"title,omitempty" bson:"title,omitempty"`
	SKU          string  `json:"sku,omitempty" bson:"sku,omitempty"`
	ImageRef     string  `json:"image_ref,omitempty" bson:"image_ref,omitempty"`
	CategoryRef  string  `json:"category_ref,omitempty" bson:"category_ref,omitempty"`
}

func (i LineItem) Key() Key {
	return Key{ProductID: i.ProductID, VariantID: i.VariantID, SelectedSize: i.SelectedSize}
}

// Available reports whether the line can be priced and checked out.
func (i LineItem) Available() bool {
	return i.StockCeiling > 0
}

// Overstocked is true after an external stock decrease left quantity above the ceiling.
func (i LineItem) Overstocked() bool {
	return i.Quantity > i.StockCeiling
}

// Subtotal returns unit price times quantity.
func (i LineItem) Subtotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}
