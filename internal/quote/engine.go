// Package quote owns RFQs and Offers and the transitions between their states.
package quote

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/eventbus"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// CreateRFQInput is the buyer's ask.
type CreateRFQInput struct {
	SupplierOrgID string
	Items         []model.RFQItem
}

// CreateOfferInput is the supplier's priced response.
type CreateOfferInput struct {
	Currency     model.Currency
	Items        []model.OfferItem
	Incoterms    string
	PaymentTerms string
	ValidUntil   *time.Time
}

// Engine implements the RFQ and Offer state machines.
type Engine struct {
	store  *store.Store
	sink   eventbus.Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine constructs a quote engine. A nil sink discards events.
func NewEngine(st *store.Store, sink eventbus.Sink, logger *zap.Logger) *Engine {
	if sink == nil {
		sink = eventbus.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  st,
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateRFQ stores a new draft RFQ owned by buyerOrgID.
func (e *Engine) CreateRFQ(ctx context.Context, buyerOrgID string, in CreateRFQInput) (*model.RFQ, error) {
	if buyerOrgID == "" {
		return nil, apperr.Validation("buyer org id is required")
	}
	if err := validateRFQItems(in.Items); err != nil {
		return nil, err
	}
	if in.SupplierOrgID == buyerOrgID {
		return nil, apperr.Validation("supplier must differ from buyer")
	}

	now := e.now()
	rfq := &model.RFQ{
		ID:            uuid.NewString(),
		BuyerOrgID:    buyerOrgID,
		SupplierOrgID: in.SupplierOrgID,
		Status:        model.RFQDraft,
		Items:         in.Items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := e.store.Atomically(ctx, []string{store.RFQKey(rfq.ID)}, func(tx *store.Tx) error {
		return tx.PutRFQ(rfq)
	})
	if err != nil {
		e.logger.Error("quote.create_rfq.failed", zap.String("buyer", buyerOrgID), zap.Error(err))
		return nil, err
	}

	e.logger.Info("quote.rfq_created",
		zap.String("rfq_id", rfq.ID),
		zap.String("buyer", buyerOrgID),
		zap.Int("items", len(rfq.Items)))
	e.emit(ctx, rfq, "rfq.created")
	return rfq, nil
}

// UpdateRFQ replaces the line items while the RFQ is editable. A nil items leaves them unchanged.
func (e *Engine) UpdateRFQ(ctx context.Context, callerOrgID, rfqID string, items *[]model.RFQItem) (*model.RFQ, error) {
	if items != nil {
		if err := validateRFQItems(*items); err != nil {
			return nil, err
		}
	}

	var rfq *model.RFQ
	err := e.store.Atomically(ctx, []string{store.RFQKey(rfqID)}, func(tx *store.Tx) error {
		var err error
		rfq, err = tx.GetRFQ(rfqID)
		if err != nil {
			return err
		}
		if rfq.BuyerOrgID != callerOrgID {
			return apperr.Forbidden("update_rfq", model.EntityRFQ, rfqID, "only the buyer may edit an rfq")
		}
		if !rfq.Editable() {
			return apperr.Conflict("update_rfq", model.EntityRFQ, rfqID, string(rfq.Status),
				"rfq can only be edited while draft or responded")
		}
		if items != nil {
			rfq.Items = *items
		}
		rfq.UpdatedAt = e.now()
		return tx.PutRFQ(rfq)
	})
	if err != nil {
		return nil, err
	}

	e.emit(ctx, rfq, "rfq.updated")
	return rfq, nil
}

// SendRFQ moves a draft or responded RFQ to sent. Sending a sent RFQ is a no-op;
// sending a closed one is a conflict.
func (e *Engine) SendRFQ(ctx context.Context, callerOrgID, rfqID string) (*model.RFQ, error) {
	var (
		rfq     *model.RFQ
		changed bool
	)
	err := e.store.Atomically(ctx, []string{store.RFQKey(rfqID)}, func(tx *store.Tx) error {
		var err error
		rfq, err = tx.GetRFQ(rfqID)
		if err != nil {
			return err
		}
		if rfq.BuyerOrgID != callerOrgID {
			return apperr.Forbidden("send_rfq", model.EntityRFQ, rfqID, "only the buyer may send an rfq")
		}
		switch rfq.Status {
		case model.RFQSent:
			return nil
		case model.RFQClosed:
			return apperr.Conflict("send_rfq", model.EntityRFQ, rfqID, string(rfq.Status), "rfq is closed")
		}
		rfq.Status = model.RFQSent
		rfq.UpdatedAt = e.now()
		changed = true
		return tx.PutRFQ(rfq)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.logger.Info("quote.rfq_sent", zap.String("rfq_id", rfqID))
		e.emit(ctx, rfq, "rfq.sent")
	}
	return rfq, nil
}

// CloseRFQ ends the RFQ lifecycle. Closing a closed RFQ is a no-op.
func (e *Engine) CloseRFQ(ctx context.Context, callerOrgID, rfqID string) (*model.RFQ, error) {
	var (
		rfq     *model.RFQ
		changed bool
	)
	err := e.store.Atomically(ctx, []string{store.RFQKey(rfqID)}, func(tx *store.Tx) error {
		var err error
		rfq, err = tx.GetRFQ(rfqID)
		if err != nil {
			return err
		}
		if rfq.BuyerOrgID != callerOrgID {
			return apperr.Forbidden("close_rfq", model.EntityRFQ, rfqID, "only the buyer may close an rfq")
		}
		if rfq.Status == model.RFQClosed {
			return nil
		}
		rfq.Status = model.RFQClosed
		rfq.UpdatedAt = e.now()
		changed = true
		return tx.PutRFQ(rfq)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.emit(ctx, rfq, "rfq.closed")
	}
	return rfq, nil
}

// CreateOffer records a supplier's offer against a sent RFQ and marks the RFQ responded.
func (e *Engine) CreateOffer(ctx context.Context, rfqID, supplierOrgID string, in CreateOfferInput) (*model.Offer, error) {
	if supplierOrgID == "" {
		return nil, apperr.Validation("supplier org id is required")
	}
	if !in.Currency.Valid() {
		return nil, apperr.Validation("unsupported currency %q", in.Currency)
	}

	var (
		offer *model.Offer
		rfq   *model.RFQ
	)
	err := e.store.Atomically(ctx, []string{store.RFQKey(rfqID)}, func(tx *store.Tx) error {
		var err error
		rfq, err = tx.GetRFQ(rfqID)
		if err != nil {
			return err
		}
		if rfq.BuyerOrgID == supplierOrgID {
			return apperr.Forbidden("create_offer", model.EntityRFQ, rfqID, "buyer cannot offer on its own rfq")
		}
		if rfq.SupplierOrgID != "" && rfq.SupplierOrgID != supplierOrgID {
			return apperr.Forbidden("create_offer", model.EntityRFQ, rfqID, "rfq is addressed to another supplier")
		}
		if rfq.Status != model.RFQSent {
			return apperr.Conflict("create_offer", model.EntityRFQ, rfqID, string(rfq.Status),
				"offers can only be made against a sent rfq")
		}

		items, err := priceOfferItems(in.Items, len(rfq.Items))
		if err != nil {
			return err
		}

		now := e.now()
		offer = &model.Offer{
			ID:            uuid.NewString(),
			RFQID:         rfqID,
			SupplierOrgID: supplierOrgID,
			Status:        model.OfferSent,
			Currency:      in.Currency,
			Items:         items,
			Incoterms:     in.Incoterms,
			PaymentTerms:  in.PaymentTerms,
			ValidUntil:    in.ValidUntil,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if rfq.SupplierOrgID == "" {
			rfq.SupplierOrgID = supplierOrgID
		}
		rfq.Status = model.RFQResponded
		rfq.UpdatedAt = now

		if err := tx.PutOffer(offer); err != nil {
			return err
		}
		return tx.PutRFQ(rfq)
	})
	if err != nil {
		e.logger.Warn("quote.create_offer.failed",
			zap.String("rfq_id", rfqID),
			zap.String("supplier", supplierOrgID),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("quote.offer_created",
		zap.String("offer_id", offer.ID),
		zap.String("rfq_id", rfqID),
		zap.String("total", OfferTotal(*offer).String()),
		zap.String("currency", offer.Currency.String()))
	e.sink.Emit(ctx, model.NewTradeEvent(model.EntityOffer, offer.ID, "offer.created", offer,
		rfq.BuyerOrgID, offer.SupplierOrgID))
	return offer, nil
}

// RejectOffer rejects a sent offer. Repeating the call is a no-op; an accepted offer cannot be rejected.
func (e *Engine) RejectOffer(ctx context.Context, callerOrgID, offerID string) (*model.Offer, error) {
	offer, err := e.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}

	var (
		rfq     *model.RFQ
		changed bool
	)
	keys := []string{store.OfferKey(offerID), store.RFQKey(offer.RFQID)}
	err = e.store.Atomically(ctx, keys, func(tx *store.Tx) error {
		var err error
		offer, err = tx.GetOffer(offerID)
		if err != nil {
			return err
		}
		rfq, err = tx.GetRFQ(offer.RFQID)
		if err != nil {
			return err
		}
		if rfq.BuyerOrgID != callerOrgID {
			return apperr.Forbidden("reject_offer", model.EntityOffer, offerID, "only the rfq buyer may reject an offer")
		}
		switch offer.Status {
		case model.OfferRejected:
			return nil
		case model.OfferAccepted:
			return apperr.Conflict("reject_offer", model.EntityOffer, offerID, string(offer.Status),
				"accepted offers are final")
		}
		offer.Status = model.OfferRejected
		offer.UpdatedAt = e.now()
		changed = true
		return tx.PutOffer(offer)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.sink.Emit(ctx, model.NewTradeEvent(model.EntityOffer, offer.ID, "offer.rejected", offer,
			rfq.BuyerOrgID, offer.SupplierOrgID))
	}
	return offer, nil
}

// GetRFQ returns an RFQ visible to orgID (its buyer or addressed supplier).
func (e *Engine) GetRFQ(ctx context.Context, orgID, rfqID string) (*model.RFQ, error) {
	rfq, err := e.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if orgID != "" && rfq.BuyerOrgID != orgID && rfq.SupplierOrgID != orgID {
		return nil, apperr.Forbidden("get_rfq", model.EntityRFQ, rfqID, "not a party to this rfq")
	}
	return rfq, nil
}

// ListRFQs lists the RFQs where orgID plays role, optionally filtered by status.
// An empty role lists both sides.
func (e *Engine) ListRFQs(ctx context.Context, orgID string, role model.Role, status model.RFQStatus) ([]model.RFQ, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("unknown rfq status %q", status)
	}
	var fields []string
	switch role {
	case model.RoleBuyer:
		fields = []string{store.FieldBuyer}
	case model.RoleSupplier:
		fields = []string{store.FieldSupplier}
	case "":
		fields = []string{store.FieldBuyer, store.FieldSupplier}
	default:
		return nil, apperr.Validation("role must be buyer or supplier")
	}

	seen := make(map[string]struct{})
	out := make([]model.RFQ, 0)
	for _, f := range fields {
		rfqs, err := e.store.ListRFQs(ctx, f, orgID)
		if err != nil {
			return nil, err
		}
		for _, r := range rfqs {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			if status != "" && r.Status != status {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out, nil
}

// GetOffer returns an offer visible to orgID (its supplier or the rfq buyer).
func (e *Engine) GetOffer(ctx context.Context, orgID, offerID string) (*model.Offer, error) {
	offer, err := e.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if orgID == "" || offer.SupplierOrgID == orgID {
		return offer, nil
	}
	rfq, err := e.store.GetRFQ(ctx, offer.RFQID)
	if err != nil {
		return nil, err
	}
	if rfq.BuyerOrgID != orgID {
		return nil, apperr.Forbidden("get_offer", model.EntityOffer, offerID, "not a party to this offer")
	}
	return offer, nil
}

// ListOffers lists the offers made against an RFQ, oldest first.
func (e *Engine) ListOffers(ctx context.Context, orgID, rfqID string) ([]model.Offer, error) {
	if _, err := e.GetRFQ(ctx, orgID, rfqID); err != nil {
		return nil, err
	}
	return e.store.ListOffers(ctx, store.FieldRFQ, rfqID)
}

func (e *Engine) emit(ctx context.Context, rfq *model.RFQ, transition string) {
	e.sink.Emit(ctx, model.NewTradeEvent(model.EntityRFQ, rfq.ID, transition, rfq,
		rfq.BuyerOrgID, rfq.SupplierOrgID))
}
