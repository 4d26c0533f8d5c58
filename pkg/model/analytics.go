package model

import "github.com/shopspring/decimal"

// CostBreakdown splits a deal's estimated cost by category.
type CostBreakdown struct {
	ProductCost   decimal.Decimal `json:"product_cost"`
	LogisticsCost decimal.Decimal `json:"logistics_cost"`
	DutiesTaxes   decimal.Decimal `json:"duties_taxes"`
	FXCost        decimal.Decimal `json:"fx_cost"`
	Commissions   decimal.Decimal `json:"commissions"`
	OtherCost     decimal.Decimal `json:"other_cost"`
}

// Total sums every category.
func (b CostBreakdown) Total() decimal.Decimal {
	return b.ProductCost.Add(b.LogisticsCost).Add(b.DutiesTaxes).
		Add(b.FXCost).Add(b.Commissions).Add(b.OtherCost)
}

// UnitEconomics is the margin summary of one deal, in the order currency.
type UnitEconomics struct {
	DealID         string          `json:"deal_id"`
	Currency       Currency        `json:"currency"`
	Revenue        decimal.Decimal `json:"revenue"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	GrossMarginAbs decimal.Decimal `json:"gross_margin_abs"`
	GrossMarginPct decimal.Decimal `json:"gross_margin_pct"`
	CostBreakdown  CostBreakdown   `json:"cost_breakdown"`
	Notes          string          `json:"notes,omitempty"`
}
