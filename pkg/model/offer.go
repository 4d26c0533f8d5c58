package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfferStatus is the lifecycle state of a supplier offer.
type OfferStatus string

const (
	OfferSent     OfferStatus = "sent"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Terminal reports whether no further transitions are allowed.
func (s OfferStatus) Terminal() bool {
	return s == OfferAccepted || s == OfferRejected
}

// OfferItem is a priced line of an offer. Subtotal is always Price * Quantity.
type OfferItem struct {
	RFQItemIndex *int            `json:"rfq_item_index,omitempty"`
	ProductID    string          `json:"product_id,omitempty"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         Unit            `json:"unit"`
	Price        decimal.Decimal `json:"price"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// Offer is a supplier's priced response to an RFQ.
type Offer struct {
	ID            string      `json:"id"`
	RFQID         string      `json:"rfq_id"`
	SupplierOrgID string      `json:"supplier_org_id"`
	Status        OfferStatus `json:"status"`
	Currency      Currency    `json:"currency"`
	Items         []OfferItem `json:"items"`
	Incoterms     string      `json:"incoterms,omitempty"`
	PaymentTerms  string      `json:"payment_terms,omitempty"`
	ValidUntil    *time.Time  `json:"valid_until,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
