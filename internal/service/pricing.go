package service

import "fmt"

// PriceForDuration charges whole started minutes, never less than one.
func PriceForDuration(durationSeconds *int, pricePerMinute int64) int64 {
	minutes := int64(1)
	if durationSeconds != nil && *durationSeconds > 60 {
		minutes = (int64(*durationSeconds) + 59) / 60
	}
	return minutes * pricePerMinute
}

// Pricing resolves product ids to per-minute prices.
type Pricing struct {
	products map[string]int64
}

func NewPricing(products map[string]int64) *Pricing {
	return &Pricing{products: products}
}

func (p *Pricing) Quote(productID string, durationSeconds *int) (int64, error) {
	price, ok := p.products[productID]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: unknown product %q", ErrValidation, productID)
	}
	return PriceForDuration(durationSeconds, price), nil
}
