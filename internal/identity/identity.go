// Package identity derives the composite key that identifies a cart line.
package identity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalizeVariantID coerces raw to a variant id. Anything that is not a finite
// number collapses to 0 ("no variant"); fractions truncate toward zero and
// non-positive values become 0.
func NormalizeVariantID(raw any) int64 {
	switch v := raw.(type) {
	case int64:
		return max(v, 0)
	case int:
		return int64(max(v, 0))
	}
	return positive(toFloat(raw))
}

// NormalizeProductID applies the same coercion as NormalizeVariantID. A result
// of 0 means the product id is unusable.
func NormalizeProductID(raw any) int64 {
	return NormalizeVariantID(raw)
}

// Key returns "<productId>:<normalizedVariantId>".
func Key(productID, variantID int64) string {
	return fmt.Sprintf("%d:%d", productID, NormalizeVariantID(variantID))
}

func positive(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	if f <= 0 || f >= math.MaxInt64 {
		return 0
	}
	return int64(f)
}

func toFloat(raw any) float64 {
	switch v := raw.(type) {
	case nil:
		return 0
	case int32:
		return float64(v)
	case uint:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
