package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds an organization's funds in a single currency.
// Balance is spendable; BlockedAmount is held in escrow.
type Wallet struct {
	ID            string          `json:"id"`
	OrgID         string          `json:"org_id"`
	Currency      Currency        `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	BlockedAmount decimal.Decimal `json:"blocked_amount"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Total returns available plus blocked funds.
func (w Wallet) Total() decimal.Decimal {
	return w.Balance.Add(w.BlockedAmount)
}

// WalletOwner is the natural key of a wallet.
func WalletOwner(orgID string, currency Currency) string {
	return orgID + "|" + string(currency)
}
