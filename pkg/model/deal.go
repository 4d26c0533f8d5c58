package model

import "time"

// DealStatus is the commercial and financial state of a deal.
type DealStatus string

const (
	DealNegotiation   DealStatus = "negotiation"
	DealOrdered       DealStatus = "ordered"
	DealPaidPartially DealStatus = "paid_partially"
	DealPaid          DealStatus = "paid"
	DealClosed        DealStatus = "closed"
)

// Valid reports whether s is a known deal status.
func (s DealStatus) Valid() bool {
	switch s {
	case DealNegotiation, DealOrdered, DealPaidPartially, DealPaid, DealClosed:
		return true
	default:
		return false
	}
}

// LogisticsState is the delivery sub-state of a deal.
type LogisticsState struct {
	Current     string     `json:"current"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// Deal ties one RFQ/Offer/Order triple to its payment and logistics lifecycle.
type Deal struct {
	ID            string         `json:"id"`
	RFQID         string         `json:"rfq_id"`
	OfferID       string         `json:"offer_id"`
	OrderID       string         `json:"order_id"`
	BuyerOrgID    string         `json:"buyer_org_id"`
	SupplierOrgID string         `json:"supplier_org_id"`
	Status        DealStatus     `json:"status"`
	MainCurrency  Currency       `json:"main_currency"`
	Summary       map[string]any `json:"summary,omitempty"`
	Logistics     LogisticsState `json:"logistics"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Counterparty returns the other side of the deal relative to orgID.
// ok is false when orgID is not a party.
func (d Deal) Counterparty(orgID string) (string, bool) {
	switch orgID {
	case d.BuyerOrgID:
		return d.SupplierOrgID, true
	case d.SupplierOrgID:
		return d.BuyerOrgID, true
	default:
		return "", false
	}
}

// DealView is the aggregated read model of a deal.
type DealView struct {
	Deal     Deal      `json:"deal"`
	RFQ      RFQ       `json:"rfq"`
	Offer    Offer     `json:"offer"`
	Order    Order     `json:"order"`
	Payments []Payment `json:"payments"`
	Display  *Display  `json:"display,omitempty"`
}
