package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	MinQuantity = 1
	MaxQuantity = 99

	// UnlimitedManualStock is the manual total a catalog reports for a variant
	// without a manual stock cap.
	UnlimitedManualStock int64 = -1
)

const (
	FulfillmentAuto   = "auto"
	FulfillmentManual = "manual"
)

// Cart is the persisted collection of line items, in insertion order.
type Cart struct {
	Items []LineItem
}

// LineItem is one cart row for a (product, variant) pair. The JSON layout is
// the persisted cart layout shared with the storefront.
type LineItem struct {
	ProductID         int64             `json:"productId"`
	VariantID         int64             `json:"skuId"`
	VariantCode       string            `json:"skuCode,omitempty"`
	VariantAttributes map[string]any    `json:"skuSpecValues,omitempty"`
	Slug              string            `json:"slug"`
	Title             map[string]string `json:"title"`
	PriceAmount       string            `json:"priceAmount"`
	Image             string            `json:"image,omitempty"`
	Quantity          int               `json:"quantity"`
	PurchaseType      string            `json:"purchaseType,omitempty"`
	FulfillmentType   string            `json:"fulfillmentType,omitempty"`
	ManualFormSchema  json.RawMessage   `json:"manualFormSchema,omitempty"`

	Stock StockSnapshot `json:"-"`

	// Extra keeps persisted fields this service does not know about so they
	// survive a load/save cycle.
	Extra map[string]json.RawMessage `json:"-"`
}

// StockSnapshot is the cached view of the catalog's stock for the item's
// variant. Nil counters mean "never observed".
type StockSnapshot struct {
	ManualTotal   *int64    `json:"skuManualStockTotal,omitempty"`
	ManualLocked  *int64    `json:"skuManualStockLocked,omitempty"`
	ManualSold    *int64    `json:"skuManualStockSold,omitempty"`
	AutoAvailable *int64    `json:"skuAutoStockAvailable,omitempty"`
	Enforced      *bool     `json:"skuStockEnforced,omitempty"`
	SnapshotAt    time.Time `json:"skuStockSnapshotAt,omitzero"`
}

// ItemPatch is a partial update of a line item; nil fields are left alone.
// Identity fields are not patchable.
type ItemPatch struct {
	VariantCode       *string
	VariantAttributes map[string]any
	Slug              *string
	Title             map[string]string
	PriceAmount       *string
	Image             *string
	PurchaseType      *string
	FulfillmentType   *string
	ManualFormSchema  json.RawMessage

	ManualTotal   *int64
	ManualLocked  *int64
	ManualSold    *int64
	AutoAvailable *int64
	Enforced      *bool
	SnapshotAt    *time.Time
}

// StockLimit returns how many units the cached snapshot allows. limited is
// false when stock is not enforced or the variant has unlimited manual stock.
func (i LineItem) StockLimit() (limit int64, limited bool) {
	s := i.Stock
	if s.Enforced == nil || !*s.Enforced {
		return 0, false
	}
	if i.FulfillmentType == FulfillmentAuto {
		return deref(s.AutoAvailable), true
	}
	total := deref(s.ManualTotal)
	if total == UnlimitedManualStock {
		return 0, false
	}
	remaining := total - deref(s.ManualLocked) - deref(s.ManualSold)
	return max(remaining, 0), true
}

// LocalizedTitle picks the title for locale, falling back to fallback and then
// to any available translation.
func (i LineItem) LocalizedTitle(locale, fallback string) string {
	if t, ok := i.Title[locale]; ok && t != "" {
		return t
	}
	if t, ok := i.Title[fallback]; ok && t != "" {
		return t
	}
	for _, t := range i.Title {
		if t != "" {
			return t
		}
	}
	return ""
}

type lineItemJSON LineItem

// MarshalJSON writes the known fields flattened with the stock snapshot,
// layered over any preserved unknown fields.
func (i LineItem) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(i.Extra)+16)
	for k, v := range i.Extra {
		out[k] = v
	}
	if err := mergeInto(out, lineItemJSON(i)); err != nil {
		return nil, err
	}
	if err := mergeInto(out, i.Stock); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func mergeInto(dst map[string]json.RawMessage, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal line item: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("flatten line item: %w", err)
	}
	for k, v := range fields {
		dst[k] = v
	}
	return nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// Int64, Bool and String return pointers for building snapshots and patches.
func Int64(v int64) *int64    { return &v }
func Bool(v bool) *bool       { return &v }
func String(v string) *string { return &v }
