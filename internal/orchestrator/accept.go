package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/deal"
	"github.com/Checker-Finance/trade-escrow/internal/order"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// Accepted is the result of a successful offer acceptance.
type Accepted struct {
	Offer model.Offer `json:"offer"`
	Order model.Order `json:"order"`
	Deal  model.Deal  `json:"deal"`
}

// AcceptOffer turns a sent offer into an Order and a Deal in one transaction.
// Accepting twice fails with a conflict; nothing is duplicated.
func (o *Orchestrator) AcceptOffer(ctx context.Context, callerOrgID, offerID string) (res *Accepted, err error) {
	start := time.Now()
	defer func() {
		o.observe("accept_offer", start, err, zap.String("offer_id", offerID), zap.String("caller", callerOrgID))
	}()

	pre, err := o.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	keys := []string{store.OfferKey(offerID), store.RFQKey(pre.RFQID)}
	err = o.store.Atomically(ctx, keys, func(tx *store.Tx) error {
		offer, err := tx.GetOffer(offerID)
		if err != nil {
			return err
		}
		rfq, err := tx.GetRFQ(offer.RFQID)
		if err != nil {
			return err
		}
		if rfq.BuyerOrgID != callerOrgID {
			return apperr.Forbidden("accept_offer", model.EntityOffer, offerID, "only the rfq buyer may accept an offer")
		}
		if offer.Status != model.OfferSent {
			return apperr.Conflict("accept_offer", model.EntityOffer, offerID, string(offer.Status),
				"only sent offers can be accepted")
		}
		if rfq.Status == model.RFQClosed {
			return apperr.Conflict("accept_offer", model.EntityRFQ, rfq.ID, string(rfq.Status), "rfq is closed")
		}
		// Offer writes for this RFQ all hold its lock, so committed siblings are current.
		siblings, err := o.store.ListOffers(ctx, store.FieldRFQ, rfq.ID)
		if err != nil {
			return err
		}
		for _, s := range siblings {
			if s.ID != offer.ID && s.Status == model.OfferAccepted {
				return apperr.Conflict("accept_offer", model.EntityRFQ, rfq.ID, string(rfq.Status),
					"another offer on this rfq was already accepted")
			}
		}

		now := o.now()
		ord := order.Materialize(uuid.NewString(), rfq.BuyerOrgID, *offer, now)
		d := deal.Open(uuid.NewString(), *rfq, *offer, ord, now)
		offer.Status = model.OfferAccepted
		offer.UpdatedAt = now

		if err := tx.PutOrder(&ord); err != nil {
			return err
		}
		if err := tx.PutDeal(&d); err != nil {
			return err
		}
		if err := tx.PutOffer(offer); err != nil {
			return err
		}
		res = &Accepted{Offer: *offer, Order: ord, Deal: d}
		return nil
	})
	if err != nil {
		return nil, err
	}

	parties := []string{res.Deal.BuyerOrgID, res.Deal.SupplierOrgID}
	o.emit(ctx,
		model.NewTradeEvent(model.EntityOffer, res.Offer.ID, "offer.accepted", res.Offer, parties...),
		model.NewTradeEvent(model.EntityOrder, res.Order.ID, "order.created", res.Order, parties...),
		model.NewTradeEvent(model.EntityDeal, res.Deal.ID, "deal.opened", res.Deal, parties...),
	)
	o.logger.Info("orchestrator.offer_accepted",
		zap.String("offer_id", res.Offer.ID),
		zap.String("order_id", res.Order.ID),
		zap.String("deal_id", res.Deal.ID),
		zap.String("total", res.Order.TotalAmount.String()),
		zap.String("currency", res.Order.Currency.String()))
	return res, nil
}
