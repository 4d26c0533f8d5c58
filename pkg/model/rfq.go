package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RFQStatus is the lifecycle state of a request for quote.
type RFQStatus string

const (
	RFQDraft     RFQStatus = "draft"
	RFQSent      RFQStatus = "sent"
	RFQResponded RFQStatus = "responded"
	RFQClosed    RFQStatus = "closed"
)

// Valid reports whether s is a known RFQ status.
func (s RFQStatus) Valid() bool {
	switch s {
	case RFQDraft, RFQSent, RFQResponded, RFQClosed:
		return true
	default:
		return false
	}
}

// RFQItem is a single line of a buyer's ask.
type RFQItem struct {
	ProductID   string           `json:"product_id,omitempty"`
	Name        string           `json:"name"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Unit        Unit             `json:"unit"`
	TargetPrice *decimal.Decimal `json:"target_price,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

// RFQ is a buyer's request for quote addressed to a supplier.
type RFQ struct {
	ID            string    `json:"id"`
	BuyerOrgID    string    `json:"buyer_org_id"`
	SupplierOrgID string    `json:"supplier_org_id,omitempty"`
	Status        RFQStatus `json:"status"`
	Items         []RFQItem `json:"items"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Editable reports whether the buyer may still change the line items.
func (r RFQ) Editable() bool {
	return r.Status == RFQDraft || r.Status == RFQResponded
}

// Role is the side an organization plays in a trade listing.
type Role string

const (
	RoleBuyer    Role = "buyer"
	RoleSupplier Role = "supplier"
	RolePayer    Role = "payer"
	RolePayee    Role = "payee"
)
