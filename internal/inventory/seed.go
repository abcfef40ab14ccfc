package inventory

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

type Seed struct {
	Products []SeedProduct `yaml:"products"`
	Coupons  []CouponRule  `yaml:"coupons"`
}

type SeedProduct struct {
	ID        string                `yaml:"id"`
	Title     string                `yaml:"title"`
	SKU       string                `yaml:"sku"`
	Price     float64               `yaml:"price"`
	SalePrice *float64              `yaml:"sale_price"`
	Stock     int                   `yaml:"stock"`
	Variants  []domain.VariantStock `yaml:"variants"`
	ImageRef  string                `yaml:"image_ref"`
	Category  string                `yaml:"category"`
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	for _, c := range seed.Coupons {
		if !c.Type.Valid() {
			return Seed{}, fmt.Errorf("parse seed: coupon %s has unknown type %q", c.Code, c.Type)
		}
	}
	return seed, nil
}

// LoadSeed reads the seed at path, or the built-in catalog when path is empty.
func LoadSeed(path string) (Seed, error) {
	if path == "" {
		return ParseSeed(defaultSeed)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// Apply loads every product and coupon of seed into s.
func (seed Seed) Apply(s *MemoryStore) {
	for _, p := range seed.Products {
		s.SetProduct(domain.Product{
			ID:          p.ID,
			Title:       p.Title,
			SKU:         p.SKU,
			Price:       p.Price,
			SalePrice:   p.SalePrice,
			ImageRef:    p.ImageRef,
			CategoryRef: p.Category,
		}, p.Stock, p.Variants...)
	}
	for _, c := range seed.Coupons {
		s.AddCoupon(c)
	}
}
