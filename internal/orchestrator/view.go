package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// DealView aggregates a deal with its rfq, offer, order and payments. When
// displayCurrency is set the order total is also converted for display.
func (o *Orchestrator) DealView(ctx context.Context, callerOrgID, dealID string, displayCurrency model.Currency) (*model.DealView, error) {
	d, err := o.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if _, ok := d.Counterparty(callerOrgID); callerOrgID != "" && !ok {
		return nil, apperr.Forbidden("get_deal", model.EntityDeal, dealID, "not a party to this deal")
	}
	if displayCurrency != "" && !displayCurrency.Valid() {
		return nil, apperr.Validation("unsupported display currency %q", displayCurrency)
	}

	rfq, err := o.store.GetRFQ(ctx, d.RFQID)
	if err != nil {
		return nil, err
	}
	offer, err := o.store.GetOffer(ctx, d.OfferID)
	if err != nil {
		return nil, err
	}
	ord, err := o.store.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	payments, err := o.store.ListPayments(ctx, store.FieldDeal, d.ID)
	if err != nil {
		return nil, err
	}

	view := &model.DealView{
		Deal:     *d,
		RFQ:      *rfq,
		Offer:    *offer,
		Order:    *ord,
		Payments: payments,
	}

	if displayCurrency != "" && o.fx != nil {
		rate, err := o.fx.Rate(ctx, ord.Currency, displayCurrency)
		if err != nil {
			// display conversion is best effort
			o.logger.Warn("orchestrator.deal_view.fx_failed",
				zap.String("deal_id", dealID),
				zap.String("display", displayCurrency.String()),
				zap.Error(err))
			return view, nil
		}
		view.Display = &model.Display{
			Currency: displayCurrency,
			Rate:     rate,
			Total:    ord.TotalAmount.Mul(rate).Round(2),
		}
	}
	return view, nil
}
