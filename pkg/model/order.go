package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the commercial state of an order.
type OrderStatus string

const (
	OrderDraft      OrderStatus = "draft"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderInProgress OrderStatus = "in_progress"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderDraft, OrderConfirmed, OrderInProgress, OrderCompleted, OrderCancelled:
		return true
	default:
		return false
	}
}

// OrderItem is a line copied from the accepted offer.
type OrderItem struct {
	ProductID string          `json:"product_id,omitempty"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      Unit            `json:"unit"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Order is the immutable commercial snapshot of an accepted offer.
type Order struct {
	ID            string          `json:"id"`
	BuyerOrgID    string          `json:"buyer_org_id"`
	SupplierOrgID string          `json:"supplier_org_id"`
	OfferID       string          `json:"offer_id"`
	Status        OrderStatus     `json:"status"`
	Currency      Currency        `json:"currency"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CreatedAt     time.Time       `json:"created_at"`
}
