package domain

import "encoding/json"

// Product is the catalog's product detail as seen by the cart. The catalog
// owns it; the cart only reads it during reconciliation.
type Product struct {
	ID              int64     `json:"id"`
	Slug            string    `json:"slug"`
	FulfillmentType string    `json:"fulfillment_type"`
	Variants        []Variant `json:"skus"`
}

// Variant is one purchasable SKU of a product.
type Variant struct {
	ID                 int64           `json:"id"`
	Code               string          `json:"sku_code"`
	Attributes         json.RawMessage `json:"spec_values"`
	Active             bool            `json:"is_active"`
	ManualStockTotal   int64           `json:"manual_stock_total"`
	ManualStockLocked  int64           `json:"manual_stock_locked"`
	ManualStockSold    int64           `json:"manual_stock_sold"`
	AutoStockAvailable int64           `json:"auto_stock_available"`
}

// ActiveVariants returns the variants currently on sale.
func (p *Product) ActiveVariants() []Variant {
	active := make([]Variant, 0, len(p.Variants))
	for _, v := range p.Variants {
		if v.Active {
			active = append(active, v)
		}
	}
	return active
}

// AttributeMap decodes the variant's attributes when they form a JSON object.
func (v Variant) AttributeMap() (map[string]any, bool) {
	if len(v.Attributes) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(v.Attributes, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}
