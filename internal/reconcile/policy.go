package reconcile

import (
	"fmt"
	"strings"

	"github.com/fjod/go_cart/storefront-cart/internal/domain"
)

// EnforcementPolicy decides, for manual-fulfillment products, whether the
// cached stock of the matched variant should block purchases, and how the
// variant's manual total is cached.
type EnforcementPolicy interface {
	Name() string
	ManualTotal(raw int64) int64
	ManualEnforced(variant domain.Variant, activeVariants int) bool
}

const (
	PolicySentinel = "sentinel"
	PolicyActivity = "activity"
)

// SentinelPolicy treats a manual total of -1 as unlimited stock and enforces
// every other total, including 0.
type SentinelPolicy struct{}

func (SentinelPolicy) Name() string { return PolicySentinel }

func (SentinelPolicy) ManualTotal(raw int64) int64 {
	if raw == domain.UnlimitedManualStock {
		return raw
	}
	return max(raw, 0)
}

func (p SentinelPolicy) ManualEnforced(v domain.Variant, _ int) bool {
	return p.ManualTotal(v.ManualStockTotal) != domain.UnlimitedManualStock
}

// ActivityPolicy has no unlimited sentinel. Manual stock is enforced when the
// variant has a positive total, carries a non-default code, or is one of
// several active variants.
type ActivityPolicy struct{}

func (ActivityPolicy) Name() string { return PolicyActivity }

func (ActivityPolicy) ManualTotal(raw int64) int64 {
	return max(raw, 0)
}

func (p ActivityPolicy) ManualEnforced(v domain.Variant, activeVariants int) bool {
	if p.ManualTotal(v.ManualStockTotal) > 0 {
		return true
	}
	code := normalizeCode(v.Code)
	if code != "" && code != "DEFAULT" {
		return true
	}
	return activeVariants > 1
}

// ParsePolicy resolves a configured policy name; empty selects SentinelPolicy.
func ParsePolicy(name string) (EnforcementPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicySentinel:
		return SentinelPolicy{}, nil
	case PolicyActivity:
		return ActivityPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown enforcement policy %q", name)
	}
}

// enforced applies the fulfillment-mode rule shared by every policy.
func enforced(policy EnforcementPolicy, fulfillment string, v domain.Variant, activeVariants int) bool {
	switch strings.TrimSpace(fulfillment) {
	case domain.FulfillmentAuto:
		return true
	case domain.FulfillmentManual:
		return policy.ManualEnforced(v, activeVariants)
	default:
		return false
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func counter(v int64) int64 {
	return max(v, 0)
}
