package legacy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/pkg/eventbus"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// DBExecutor is the subset of pgxpool.Pool the writer needs.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const upsertOrder = `
	INSERT INTO activity.t_order (
		s_id_order,
		s_instrument_pair,
		dec_price,
		dec_quantity,
		s_side,
		s_status,
		s_type,
		s_id_client,
		dt_order,
		s_id_rfq,
		s_provider,
		s_notes,
		s_source,
		s_source_type,
		s_id_order_external,
		s_id_rfq_external
	)
	VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9,
		$10, $11, $12, $13, $14, $15, $16
	)
	ON CONFLICT (s_id_order)
	DO UPDATE SET
		s_status = EXCLUDED.s_status,
		dec_price = EXCLUDED.dec_price,
		dec_quantity = EXCLUDED.dec_quantity,
		dt_order = EXCLUDED.dt_order,
		s_notes = EXCLUDED.s_notes;
`

// ActivityWriter mirrors confirmed orders and settled escrow payments into the
// legacy activity.t_order reporting table.
type ActivityWriter struct {
	db     DBExecutor
	logger *zap.Logger
	source string
}

// NewActivityWriter constructs a writer. source tags every row (e.g. "trade-escrow").
func NewActivityWriter(db DBExecutor, logger *zap.Logger, source string) *ActivityWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityWriter{db: db, logger: logger, source: source}
}

// Attach subscribes the writer to order and payment events.
func (w *ActivityWriter) Attach(bus *eventbus.EventBus) {
	bus.SubscribeEntity(model.EntityOrder, "legacy.orders", w.Handle)
	bus.SubscribeEntity(model.EntityPayment, "legacy.payments", w.Handle)
}

// Handle writes the row for ev. Transitions without a reporting row are ignored.
func (w *ActivityWriter) Handle(ctx context.Context, ev model.TradeEvent) error {
	switch ev.Transition {
	case "order.created":
		var o model.Order
		if err := json.Unmarshal(ev.Payload, &o); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		return w.SyncOrder(ctx, &o)
	case "payment.released":
		var p model.Payment
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode payment: %w", err)
		}
		return w.SyncPayment(ctx, &p)
	default:
		return nil
	}
}

// SyncOrder upserts a B2B order. Quantity is the number of lines; price is the order total.
func (w *ActivityWriter) SyncOrder(ctx context.Context, o *model.Order) error {
	if o == nil {
		return nil
	}
	return w.upsert(ctx, o.ID, []any{
		o.ID,                // s_id_order
		o.Currency.String(), // s_instrument_pair
		o.TotalAmount,       // dec_price
		len(o.Items),        // dec_quantity
		"BUY",               // s_side
		string(o.Status),    // s_status
		"B2B",               // s_type
		o.BuyerOrgID,        // s_id_client
		o.CreatedAt,         // dt_order
		o.OfferID,           // s_id_rfq
		o.SupplierOrgID,     // s_provider
		"",                  // s_notes
		w.source,            // s_source
		"automated",         // s_source_type
		o.ID,                // s_id_order_external
		o.OfferID,           // s_id_rfq_external
	})
}

// SyncPayment upserts a settled escrow payment keyed by the payment id.
func (w *ActivityWriter) SyncPayment(ctx context.Context, p *model.Payment) error {
	if p == nil {
		return nil
	}
	executed := p.CreatedAt
	if p.CompletedAt != nil {
		executed = *p.CompletedAt
	}
	return w.upsert(ctx, p.ID, []any{
		p.ID,                // s_id_order
		p.Currency.String(), // s_instrument_pair
		p.Amount,            // dec_price
		1,                   // dec_quantity
		"PAY",               // s_side
		string(p.Status),    // s_status
		"ESCROW",            // s_type
		p.PayerOrgID,        // s_id_client
		executed,            // dt_order
		p.DealID,            // s_id_rfq
		p.PayeeOrgID,        // s_provider
		p.FXQuoteID,         // s_notes
		w.source,            // s_source
		"automated",         // s_source_type
		p.ID,                // s_id_order_external
		p.DealID,            // s_id_rfq_external
	})
}

func (w *ActivityWriter) upsert(ctx context.Context, id string, args []any) error {
	if _, err := w.db.Exec(ctx, upsertOrder, args...); err != nil {
		w.logger.Error("legacy.activity_sync_failed", zap.String("id", id), zap.Error(err))
		return err
	}
	w.logger.Debug("legacy.activity_sync_upsert", zap.String("id", id))
	return nil
}
