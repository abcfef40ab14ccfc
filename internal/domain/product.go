package domain

// Product is the catalog view a shopper adds to the cart from.
type Product struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	SKU         string   `json:"sku,omitempty"`
	Price       float64  `json:"price"`
	SalePrice   *float64 `json:"sale_price,omitempty"`
	Stock       *int     `json:"stock,omitempty"`
	ImageRef    string   `json:"image_ref,omitempty"`
	CategoryRef string   `json:"category_ref,omitempty"`
}

// EffectivePrice is the sale price when one exists, else the list price.
func (p Product) EffectivePrice() float64 {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.Price
}

// VariantStock is the per-variant stock figure a product lookup may carry.
type VariantStock struct {
	ID    string `json:"id"`
	Stock int    `json:"stock"`
}

// StockLevel is the authoritative stock reply for one product.
type StockLevel struct {
	Stock    int            `json:"stock"`
	Variants []VariantStock `json:"variants,omitempty"`
}

// For returns the stock for variantID, falling back to the product-level figure.
func (s StockLevel) For(variantID string) int {
	for _, v := range s.Variants {
		if v.ID == variantID {
			return v.Stock
		}
	}
	return s.Stock
}
