package cart

import (
	"fmt"

	"github.com/fjod/go_cart/storefront-cart/internal/identity"
	"github.com/fjod/go_cart/storefront-cart/internal/money"
)

// Quote prices the cart in cents. Items whose price cannot be parsed are
// listed in Unpriced and left out of the sums instead of counting as zero.
type Quote struct {
	SubtotalCents      int64
	FeeRateBasisPoints int64
	FeeCents           int64
	TotalCents         int64
	Unpriced           []string
}

func (q Quote) Subtotal() string { return money.CentsToAmount(q.SubtotalCents) }
func (q Quote) Fee() string      { return money.CentsToAmount(q.FeeCents) }
func (q Quote) Total() string    { return money.CentsToAmount(q.TotalCents) }
func (q Quote) FeeRate() string  { return money.BasisPointsToPercent(q.FeeRateBasisPoints) }

// Quote sums line totals and applies a fee expressed in basis points. It fails
// only when the sums leave the safe integer range.
func (s *Store) Quote(feeRateBasisPoints int64) (Quote, error) {
	q := Quote{FeeRateBasisPoints: feeRateBasisPoints}

	for _, item := range s.Items() {
		line, err := money.LineTotal(item.PriceAmount, item.Quantity)
		if err != nil {
			q.Unpriced = append(q.Unpriced, identity.Key(item.ProductID, item.VariantID))
			continue
		}
		sum, err := money.Add(q.SubtotalCents, line)
		if err != nil {
			return Quote{}, fmt.Errorf("cart subtotal: %w", err)
		}
		q.SubtotalCents = sum
	}

	fee, err := money.FeeFromBasisPoints(q.SubtotalCents, feeRateBasisPoints)
	if err != nil {
		return Quote{}, fmt.Errorf("cart fee: %w", err)
	}
	q.FeeCents = fee

	total, err := money.Add(q.SubtotalCents, fee)
	if err != nil {
		return Quote{}, fmt.Errorf("cart total: %w", err)
	}
	q.TotalCents = total
	return q, nil
}
