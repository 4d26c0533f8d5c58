package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// CreateRFQRequest opens a draft RFQ.
type CreateRFQRequest struct {
	SupplierOrgID string          `json:"supplier_org_id,omitempty"`
	Items         []model.RFQItem `json:"items"`
}

func (r CreateRFQRequest) Validate() error {
	if len(r.Items) == 0 {
		return fmt.Errorf("items must not be empty")
	}
	return nil
}

// UpdateRFQRequest replaces the line items of an editable RFQ.
type UpdateRFQRequest struct {
	Items *[]model.RFQItem `json:"items"`
}

func (r UpdateRFQRequest) Validate() error {
	if r.Items == nil {
		return fmt.Errorf("items is required")
	}
	return nil
}

// CreateOfferRequest is a supplier's priced response to an RFQ.
type CreateOfferRequest struct {
	Currency     model.Currency    `json:"currency"`
	Items        []model.OfferItem `json:"items"`
	Incoterms    string            `json:"incoterms,omitempty"`
	PaymentTerms string            `json:"payment_terms,omitempty"`
	ValidUntil   *time.Time        `json:"valid_until,omitempty"`
}

func (r CreateOfferRequest) Validate() error {
	if !r.Currency.Valid() {
		return fmt.Errorf("currency must be one of RUB, CNY, USD")
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("items must not be empty")
	}
	return nil
}

// UpdateLogisticsRequest overwrites a deal's delivery sub-state.
type UpdateLogisticsRequest struct {
	Current     string     `json:"current"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

func (r UpdateLogisticsRequest) Validate() error {
	if strings.TrimSpace(r.Current) == "" {
		return fmt.Errorf("current is required")
	}
	return nil
}

// DepositRequest tops up the caller's wallet.
type DepositRequest struct {
	Currency model.Currency  `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

func (r DepositRequest) Validate() error {
	if !r.Currency.Valid() {
		return fmt.Errorf("currency must be one of RUB, CNY, USD")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be greater than 0")
	}
	return nil
}

// CreatePaymentRequest funds escrow for a deal.
type CreatePaymentRequest struct {
	DealID    string          `json:"deal_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  model.Currency  `json:"currency"`
	FXQuoteID string          `json:"fx_quote_id,omitempty"`
}

func (r CreatePaymentRequest) Validate() error {
	if strings.TrimSpace(r.DealID) == "" {
		return fmt.Errorf("deal_id is required")
	}
	if !r.Currency.Valid() {
		return fmt.Errorf("currency must be one of RUB, CNY, USD")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be greater than 0")
	}
	return nil
}

// FXQuoteRequest asks for a time-limited conversion quote.
type FXQuoteRequest struct {
	From   model.Currency  `json:"from_currency"`
	To     model.Currency  `json:"to_currency"`
	Amount decimal.Decimal `json:"amount"`
}

func (r FXQuoteRequest) Validate() error {
	if !r.From.Valid() || !r.To.Valid() {
		return fmt.Errorf("from_currency and to_currency must be one of RUB, CNY, USD")
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("amount must be greater than 0")
	}
	return nil
}
