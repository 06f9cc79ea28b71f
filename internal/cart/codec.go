package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/identity"
)

// knownFields are consumed while decoding; everything else lands in Extra.
// Stock fields are also accepted in snake_case, the catalog's spelling.
var knownFields = map[string]struct{}{
	"productId": {}, "skuId": {}, "skuCode": {}, "skuSpecValues": {}, "slug": {},
	"title": {}, "priceAmount": {}, "image": {}, "quantity": {}, "purchaseType": {},
	"fulfillmentType": {}, "manualFormSchema": {},
	"skuManualStockTotal": {}, "sku_manual_stock_total": {},
	"skuManualStockLocked": {}, "sku_manual_stock_locked": {},
	"skuManualStockSold": {}, "sku_manual_stock_sold": {},
	"skuAutoStockAvailable": {}, "sku_auto_stock_available": {},
	"skuStockEnforced": {}, "sku_stock_enforced": {},
	"skuStockSnapshotAt": {}, "sku_stock_snapshot_at": {},
}

// decodeItems parses a persisted cart. A payload that is not a JSON array is an
// error; individual entries that are not objects or have no positive product
// id are skipped and counted.
func decodeItems(raw []byte) ([]domain.LineItem, int, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, 0, fmt.Errorf("unmarshal cart failed: %w", err)
	}

	items := make([]domain.LineItem, 0, len(entries))
	dropped := 0
	for _, entry := range entries {
		item, ok := decodeItem(entry)
		if !ok {
			dropped++
			continue
		}
		items = append(items, item)
	}
	return items, dropped, nil
}

func decodeItem(entry json.RawMessage) (domain.LineItem, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
		return domain.LineItem{}, false
	}

	productID := identity.NormalizeProductID(looseValue(fields["productId"]))
	if productID <= 0 {
		return domain.LineItem{}, false
	}

	item := domain.LineItem{
		ProductID:         productID,
		VariantID:         identity.NormalizeVariantID(looseValue(fields["skuId"])),
		VariantCode:       looseString(fields["skuCode"]),
		VariantAttributes: looseObject(fields["skuSpecValues"]),
		Slug:              looseString(fields["slug"]),
		Title:             looseTitle(fields["title"]),
		PriceAmount:       looseString(fields["priceAmount"]),
		Image:             looseString(fields["image"]),
		Quantity:          looseQuantity(fields["quantity"]),
		PurchaseType:      looseString(fields["purchaseType"]),
		FulfillmentType:   looseString(fields["fulfillmentType"]),
		Stock: domain.StockSnapshot{
			ManualTotal:   normalizeManualTotal(looseCounter(pick(fields, "skuManualStockTotal", "sku_manual_stock_total"))),
			ManualLocked:  normalizeCounter(looseCounter(pick(fields, "skuManualStockLocked", "sku_manual_stock_locked"))),
			ManualSold:    normalizeCounter(looseCounter(pick(fields, "skuManualStockSold", "sku_manual_stock_sold"))),
			AutoAvailable: normalizeCounter(looseCounter(pick(fields, "skuAutoStockAvailable", "sku_auto_stock_available"))),
			Enforced:      looseBool(pick(fields, "skuStockEnforced", "sku_stock_enforced")),
			SnapshotAt:    looseTime(pick(fields, "skuStockSnapshotAt", "sku_stock_snapshot_at")),
		},
	}
	if schema := fields["manualFormSchema"]; !isNull(schema) {
		item.ManualFormSchema = schema
	}

	for k, v := range fields {
		if _, known := knownFields[k]; known {
			continue
		}
		if item.Extra == nil {
			item.Extra = make(map[string]json.RawMessage)
		}
		item.Extra[k] = v
	}
	return item, true
}

// pick returns the first present, non-null value among keys.
func pick(fields map[string]json.RawMessage, keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := fields[k]; ok && !isNull(v) {
			return v
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func looseValue(raw json.RawMessage) any {
	if isNull(raw) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func looseString(raw json.RawMessage) string {
	switch v := looseValue(raw).(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func looseObject(raw json.RawMessage) map[string]any {
	m, _ := looseValue(raw).(map[string]any)
	return m
}

// looseTitle accepts a locale map or a bare string.
func looseTitle(raw json.RawMessage) map[string]string {
	switch v := looseValue(raw).(type) {
	case string:
		if v == "" {
			return nil
		}
		return map[string]string{"default": v}
	case map[string]any:
		title := make(map[string]string, len(v))
		for locale, text := range v {
			if s, ok := text.(string); ok {
				title[locale] = s
			}
		}
		return title
	default:
		return nil
	}
}

// looseCounter yields nil for absent, empty or non-numeric values and floors
// numeric ones.
func looseCounter(raw json.RawMessage) *int64 {
	var f float64
	switch v := looseValue(raw).(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	case bool:
		if v {
			f = 1
		}
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.MaxInt64 {
		return nil
	}
	return domain.Int64(int64(math.Floor(f)))
}

func looseQuantity(raw json.RawMessage) int {
	q := looseCounter(raw)
	if q == nil {
		return domain.MinQuantity
	}
	return clampQuantity(int(max(min(*q, domain.MaxQuantity), 0)))
}

// looseBool follows truthiness: absent, null and "" are unknown.
func looseBool(raw json.RawMessage) *bool {
	switch v := looseValue(raw).(type) {
	case nil:
		return nil
	case bool:
		return domain.Bool(v)
	case string:
		if v == "" {
			return nil
		}
		return domain.Bool(true)
	case json.Number:
		f, err := v.Float64()
		return domain.Bool(err == nil && f != 0)
	default:
		return domain.Bool(true)
	}
}

func looseTime(raw json.RawMessage) time.Time {
	s := strings.TrimSpace(looseString(raw))
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
