// Package deal owns the Deal aggregate: its status table and logistics sub-state.
package deal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/eventbus"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

const (
	StageProduction = "Production"
	StageDelivered  = "Delivered to warehouse"
)

// Open builds the deal for an accepted offer. It is persisted by the caller
// in the same transaction as the order.
func Open(id string, rfq model.RFQ, offer model.Offer, order model.Order, at time.Time) model.Deal {
	return model.Deal{
		ID:            id,
		RFQID:         rfq.ID,
		OfferID:       offer.ID,
		OrderID:       order.ID,
		BuyerOrgID:    rfq.BuyerOrgID,
		SupplierOrgID: offer.SupplierOrgID,
		Status:        model.DealOrdered,
		MainCurrency:  offer.Currency,
		Summary: map[string]any{
			"total_amount": order.TotalAmount.String(),
			"currency":     order.Currency.String(),
			"items":        len(order.Items),
			"incoterms":    offer.Incoterms,
		},
		Logistics: model.LogisticsState{Current: StageProduction},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Tracker serves deal reads, logistics updates and the external close.
type Tracker struct {
	store  *store.Store
	sink   eventbus.Sink
	logger *zap.Logger
	shares CostShares
	now    func() time.Time
}

func NewTracker(st *store.Store, sink eventbus.Sink, logger *zap.Logger) *Tracker {
	if sink == nil {
		sink = eventbus.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:  st,
		sink:   sink,
		logger: logger,
		shares: DefaultCostShares,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a deal the caller is a party to.
func (t *Tracker) Get(ctx context.Context, callerOrgID, dealID string) (*model.Deal, error) {
	d, err := t.store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if err := authorize(d, callerOrgID, "get_deal"); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns deals where orgID plays role (buyer, supplier or either), optionally by status.
func (t *Tracker) List(ctx context.Context, orgID string, role model.Role, status model.DealStatus) ([]model.Deal, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("unknown deal status %q", status)
	}
	fields, err := roleFields(role)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := make([]model.Deal, 0)
	for _, f := range fields {
		deals, err := t.store.ListDeals(ctx, f, orgID)
		if err != nil {
			return nil, err
		}
		for _, d := range deals {
			if _, dup := seen[d.ID]; dup || (status != "" && d.Status != status) {
				continue
			}
			seen[d.ID] = struct{}{}
			out = append(out, d)
		}
	}
	return out, nil
}

// GetOrder returns an order the caller is a party to.
func (t *Tracker) GetOrder(ctx context.Context, callerOrgID, orderID string) (*model.Order, error) {
	o, err := t.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if callerOrgID != "" && o.BuyerOrgID != callerOrgID && o.SupplierOrgID != callerOrgID {
		return nil, apperr.Forbidden("get_order", model.EntityOrder, orderID, "not a party to this order")
	}
	return o, nil
}

// ListOrders returns orders where orgID plays role, optionally by status.
func (t *Tracker) ListOrders(ctx context.Context, orgID string, role model.Role, status model.OrderStatus) ([]model.Order, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("unknown order status %q", status)
	}
	fields, err := roleFields(role)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := make([]model.Order, 0)
	for _, f := range fields {
		orders, err := t.store.ListOrders(ctx, f, orgID)
		if err != nil {
			return nil, err
		}
		for _, o := range orders {
			if _, dup := seen[o.ID]; dup || (status != "" && o.Status != status) {
				continue
			}
			seen[o.ID] = struct{}{}
			out = append(out, o)
		}
	}
	return out, nil
}

// Logistics returns the delivery sub-state of a deal.
func (t *Tracker) Logistics(ctx context.Context, callerOrgID, dealID string) (*model.LogisticsState, error) {
	d, err := t.Get(ctx, callerOrgID, dealID)
	if err != nil {
		return nil, err
	}
	return &d.Logistics, nil
}

// UpdateLogistics overwrites the logistics sub-state. Deal status is never touched.
func (t *Tracker) UpdateLogistics(ctx context.Context, callerOrgID, dealID string, state model.LogisticsState) (*model.Deal, error) {
	if state.Current == "" {
		return nil, apperr.Validation("logistics stage is required")
	}
	return t.mutate(ctx, callerOrgID, dealID, "update_logistics", "deal.logistics_updated", func(d *model.Deal) (bool, error) {
		d.Logistics = state
		return true, nil
	})
}

// SimulateDelivery marks the goods as delivered to the warehouse.
func (t *Tracker) SimulateDelivery(ctx context.Context, callerOrgID, dealID string) (*model.Deal, error) {
	at := t.now()
	return t.UpdateLogistics(ctx, callerOrgID, dealID, model.LogisticsState{
		Current:     StageDelivered,
		Delivered:   true,
		DeliveredAt: &at,
	})
}

// Close moves a paid deal to closed.
func (t *Tracker) Close(ctx context.Context, callerOrgID, dealID string) (*model.Deal, error) {
	return t.mutate(ctx, callerOrgID, dealID, "close_deal", "deal.closed", func(d *model.Deal) (bool, error) {
		if d.Status == model.DealClosed {
			return false, nil
		}
		return Transition(d, ActionClose)
	})
}

func (t *Tracker) mutate(ctx context.Context, callerOrgID, dealID, op, transition string,
	fn func(d *model.Deal) (bool, error)) (*model.Deal, error) {
	var (
		d       *model.Deal
		changed bool
	)
	err := t.store.Atomically(ctx, []string{store.DealKey(dealID)}, func(tx *store.Tx) error {
		var err error
		d, err = tx.GetDeal(dealID)
		if err != nil {
			return err
		}
		if err := authorize(d, callerOrgID, op); err != nil {
			return err
		}
		if changed, err = fn(d); err != nil || !changed {
			return err
		}
		d.UpdatedAt = t.now()
		return tx.PutDeal(d)
	})
	if err != nil {
		t.logger.Warn("deal."+op+".failed", zap.String("deal_id", dealID), zap.Error(err))
		return nil, err
	}
	if changed {
		t.logger.Info("deal."+op,
			zap.String("deal_id", dealID),
			zap.String("status", string(d.Status)),
			zap.String("logistics", d.Logistics.Current))
		t.sink.Emit(ctx, model.NewTradeEvent(model.EntityDeal, d.ID, transition, d, d.BuyerOrgID, d.SupplierOrgID))
	}
	return d, nil
}

func authorize(d *model.Deal, callerOrgID, op string) error {
	if callerOrgID == "" {
		return nil
	}
	if _, ok := d.Counterparty(callerOrgID); !ok {
		return apperr.Forbidden(op, model.EntityDeal, d.ID, "not a party to this deal")
	}
	return nil
}

func roleFields(role model.Role) ([]string, error) {
	switch role {
	case model.RoleBuyer:
		return []string{store.FieldBuyer}, nil
	case model.RoleSupplier:
		return []string{store.FieldSupplier}, nil
	case "":
		return []string{store.FieldBuyer, store.FieldSupplier}, nil
	default:
		return nil, apperr.Validation("role must be buyer or supplier")
	}
}
