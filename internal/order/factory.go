// Package order derives the immutable Order snapshot of an accepted offer.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// Materialize copies the offer's lines into a confirmed Order.
// Subtotals are taken as-is; offers are priced and checked when they are created.
func Materialize(id, buyerOrgID string, offer model.Offer, at time.Time) model.Order {
	items := make([]model.OrderItem, 0, len(offer.Items))
	total := decimal.Zero
	for _, it := range offer.Items {
		items = append(items, model.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Unit:      it.Unit,
			Price:     it.Price,
			Subtotal:  it.Subtotal,
		})
		total = total.Add(it.Subtotal)
	}

	return model.Order{
		ID:            id,
		BuyerOrgID:    buyerOrgID,
		SupplierOrgID: offer.SupplierOrgID,
		OfferID:       offer.ID,
		Status:        model.OrderConfirmed,
		Currency:      offer.Currency,
		Items:         items,
		TotalAmount:   total,
		CreatedAt:     at,
	}
}
