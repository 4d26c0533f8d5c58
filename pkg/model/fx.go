package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FXQuote is a locked conversion rate: 1 From = Rate To.
type FXQuote struct {
	QuoteID   string          `json:"quote_id"`
	From      Currency        `json:"from_currency"`
	To        Currency        `json:"to_currency"`
	Rate      decimal.Decimal `json:"rate"`
	Amount    decimal.Decimal `json:"amount"`
	Converted decimal.Decimal `json:"converted"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the quote can no longer be used at t.
func (q FXQuote) Expired(t time.Time) bool {
	return !t.Before(q.ExpiresAt)
}

// FXRates is a table of rates relative to Base.
type FXRates struct {
	Base      Currency                   `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	Timestamp time.Time                  `json:"timestamp"`
}

// Display is an amount converted into a caller-selected currency for display only.
type Display struct {
	Currency Currency        `json:"currency"`
	Rate     decimal.Decimal `json:"rate"`
	Total    decimal.Decimal `json:"total"`
}
