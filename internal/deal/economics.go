package deal

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// CostShares are cost categories expressed as fractions of revenue.
type CostShares struct {
	Product     decimal.Decimal
	Logistics   decimal.Decimal
	Duties      decimal.Decimal
	FX          decimal.Decimal
	Commissions decimal.Decimal
	Other       decimal.Decimal
}

// DefaultCostShares is the flat estimate used until real cost data is tracked per deal.
var DefaultCostShares = CostShares{
	Product:     decimal.RequireFromString("0.7"),
	Logistics:   decimal.RequireFromString("0.1"),
	Duties:      decimal.RequireFromString("0.05"),
	FX:          decimal.RequireFromString("0.02"),
	Commissions: decimal.RequireFromString("0.01"),
	Other:       decimal.Zero,
}

var hundred = decimal.NewFromInt(100)

// Economics applies shares to the order total. A deal without revenue reports zeros.
func Economics(dealID string, order model.Order, shares CostShares) model.UnitEconomics {
	out := model.UnitEconomics{
		DealID:         dealID,
		Currency:       order.Currency,
		Revenue:        decimal.Zero,
		TotalCost:      decimal.Zero,
		GrossMarginAbs: decimal.Zero,
		GrossMarginPct: decimal.Zero,
		CostBreakdown: model.CostBreakdown{
			ProductCost: decimal.Zero, LogisticsCost: decimal.Zero, DutiesTaxes: decimal.Zero,
			FXCost: decimal.Zero, Commissions: decimal.Zero, OtherCost: decimal.Zero,
		},
	}
	revenue := order.TotalAmount
	if !revenue.IsPositive() {
		out.Notes = "no revenue for this deal"
		return out
	}

	b := model.CostBreakdown{
		ProductCost:   revenue.Mul(shares.Product),
		LogisticsCost: revenue.Mul(shares.Logistics),
		DutiesTaxes:   revenue.Mul(shares.Duties),
		FXCost:        revenue.Mul(shares.FX),
		Commissions:   revenue.Mul(shares.Commissions),
		OtherCost:     revenue.Mul(shares.Other),
	}
	out.Revenue = revenue
	out.CostBreakdown = b
	out.TotalCost = b.Total()
	out.GrossMarginAbs = revenue.Sub(out.TotalCost)
	out.GrossMarginPct = out.GrossMarginAbs.Div(revenue).Mul(hundred).Round(4)
	out.Notes = fmt.Sprintf("shares of order total: product %s%%, logistics %s%%, duties %s%%, fx %s%%, commissions %s%%",
		pct(shares.Product), pct(shares.Logistics), pct(shares.Duties), pct(shares.FX), pct(shares.Commissions))
	return out
}

func pct(share decimal.Decimal) string { return share.Mul(hundred).String() }

// UnitEconomics estimates the margin of a deal the caller is a party to.
func (t *Tracker) UnitEconomics(ctx context.Context, callerOrgID, dealID string) (*model.UnitEconomics, error) {
	d, err := t.Get(ctx, callerOrgID, dealID)
	if err != nil {
		return nil, err
	}
	o, err := t.store.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	ue := Economics(d.ID, *o, t.shares)
	return &ue, nil
}
