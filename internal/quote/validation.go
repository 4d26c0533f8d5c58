package quote

import (
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

func validateRFQItems(items []model.RFQItem) error {
	if len(items) == 0 {
		return apperr.Validation("rfq must have at least one item")
	}
	for i, it := range items {
		if it.Name == "" {
			return apperr.Validation("items[%d]: name is required", i)
		}
		if !it.Quantity.IsPositive() {
			return apperr.Validation("items[%d]: quantity must be > 0", i)
		}
		if !it.Unit.Valid() {
			return apperr.Validation("items[%d]: unknown unit %q", i, it.Unit)
		}
		if it.TargetPrice != nil && it.TargetPrice.IsNegative() {
			return apperr.Validation("items[%d]: target_price must be >= 0", i)
		}
	}
	return nil
}

// priceOfferItems validates offer lines and recomputes each subtotal as price * quantity.
// A caller-supplied non-zero subtotal must agree with the computed one.
func priceOfferItems(items []model.OfferItem, rfqItems int) ([]model.OfferItem, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("offer must have at least one item")
	}
	out := make([]model.OfferItem, 0, len(items))
	for i, it := range items {
		if it.Name == "" {
			return nil, apperr.Validation("items[%d]: name is required", i)
		}
		if !it.Quantity.IsPositive() {
			return nil, apperr.Validation("items[%d]: quantity must be > 0", i)
		}
		if !it.Unit.Valid() {
			return nil, apperr.Validation("items[%d]: unknown unit %q", i, it.Unit)
		}
		if it.Price.IsNegative() {
			return nil, apperr.Validation("items[%d]: price must be >= 0", i)
		}
		if it.RFQItemIndex != nil && (*it.RFQItemIndex < 0 || *it.RFQItemIndex >= rfqItems) {
			return nil, apperr.Validation("items[%d]: rfq_item_index %d out of range", i, *it.RFQItemIndex)
		}

		subtotal := it.Price.Mul(it.Quantity)
		if !it.Subtotal.IsZero() && !it.Subtotal.Equal(subtotal) {
			return nil, apperr.Validation("items[%d]: subtotal %s does not match price x quantity %s",
				i, it.Subtotal.String(), subtotal.String())
		}
		it.Subtotal = subtotal
		if it.RFQItemIndex != nil {
			idx := *it.RFQItemIndex
			it.RFQItemIndex = &idx
		}
		out = append(out, it)
	}
	return out, nil
}

// OfferTotal sums the item subtotals.
func OfferTotal(o model.Offer) decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal)
	}
	return total
}
