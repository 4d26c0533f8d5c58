package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the state of an escrow payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	default:
		return false
	}
}

// Payment funds escrow for a deal and is later released to the payee.
type Payment struct {
	ID            string          `json:"id"`
	DealID        string          `json:"deal_id"`
	PayerOrgID    string          `json:"payer_org_id"`
	PayeeOrgID    string          `json:"payee_org_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      Currency        `json:"currency"`
	Status        PaymentStatus   `json:"status"`
	FXQuoteID     string          `json:"fx_quote_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}
