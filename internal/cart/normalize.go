package cart

import (
	"encoding/json"
	"maps"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/identity"
)

// normalizeItem enforces the identity and stock invariants. It is idempotent.
func normalizeItem(item domain.LineItem) domain.LineItem {
	item.ProductID = identity.NormalizeProductID(item.ProductID)
	item.VariantID = identity.NormalizeVariantID(item.VariantID)
	item.Quantity = clampQuantity(item.Quantity)

	item.Stock.ManualTotal = normalizeManualTotal(item.Stock.ManualTotal)
	item.Stock.ManualLocked = normalizeCounter(item.Stock.ManualLocked)
	item.Stock.ManualSold = normalizeCounter(item.Stock.ManualSold)
	item.Stock.AutoAvailable = normalizeCounter(item.Stock.AutoAvailable)
	if !item.Stock.SnapshotAt.IsZero() {
		item.Stock.SnapshotAt = item.Stock.SnapshotAt.UTC()
	}
	return item
}

func normalizeCounter(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return domain.Int64(max(*v, 0))
}

// normalizeManualTotal keeps the unlimited sentinel and clamps everything else.
func normalizeManualTotal(v *int64) *int64 {
	if v != nil && *v == domain.UnlimitedManualStock {
		return domain.Int64(domain.UnlimitedManualStock)
	}
	return normalizeCounter(v)
}

func applyPatch(item domain.LineItem, p domain.ItemPatch) domain.LineItem {
	if p.VariantCode != nil {
		item.VariantCode = *p.VariantCode
	}
	if p.VariantAttributes != nil {
		item.VariantAttributes = maps.Clone(p.VariantAttributes)
	}
	if p.Slug != nil {
		item.Slug = *p.Slug
	}
	if p.Title != nil {
		item.Title = maps.Clone(p.Title)
	}
	if p.PriceAmount != nil {
		item.PriceAmount = *p.PriceAmount
	}
	if p.Image != nil {
		item.Image = *p.Image
	}
	if p.PurchaseType != nil {
		item.PurchaseType = *p.PurchaseType
	}
	if p.FulfillmentType != nil {
		item.FulfillmentType = *p.FulfillmentType
	}
	if p.ManualFormSchema != nil {
		item.ManualFormSchema = append(json.RawMessage(nil), p.ManualFormSchema...)
	}

	if p.ManualTotal != nil {
		item.Stock.ManualTotal = domain.Int64(*p.ManualTotal)
	}
	if p.ManualLocked != nil {
		item.Stock.ManualLocked = domain.Int64(*p.ManualLocked)
	}
	if p.ManualSold != nil {
		item.Stock.ManualSold = domain.Int64(*p.ManualSold)
	}
	if p.AutoAvailable != nil {
		item.Stock.AutoAvailable = domain.Int64(*p.AutoAvailable)
	}
	if p.Enforced != nil {
		item.Stock.Enforced = domain.Bool(*p.Enforced)
	}
	if p.SnapshotAt != nil {
		item.Stock.SnapshotAt = *p.SnapshotAt
	}
	return item
}

// cloneItem copies the reference-typed fields so callers never share state
// with the store.
func cloneItem(item domain.LineItem) domain.LineItem {
	item.VariantAttributes = maps.Clone(item.VariantAttributes)
	item.Title = maps.Clone(item.Title)
	item.Extra = maps.Clone(item.Extra)
	if item.ManualFormSchema != nil {
		item.ManualFormSchema = append(json.RawMessage(nil), item.ManualFormSchema...)
	}
	s := &item.Stock
	s.ManualTotal = clonePtr(s.ManualTotal)
	s.ManualLocked = clonePtr(s.ManualLocked)
	s.ManualSold = clonePtr(s.ManualSold)
	s.AutoAvailable = clonePtr(s.AutoAvailable)
	s.Enforced = clonePtr(s.Enforced)
	return item
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func mergeExtra(existing, incoming map[string]json.RawMessage) map[string]json.RawMessage {
	if len(existing) == 0 {
		return incoming
	}
	out := maps.Clone(existing)
	maps.Copy(out, incoming)
	return out
}
