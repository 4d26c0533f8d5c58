package deal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/eventbus"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

func newTestTracker(t *testing.T, status model.DealStatus) (*Tracker, *store.Store, *eventbus.Recorder) {
	t.Helper()
	st := store.NewMemory(nil)
	rec := &eventbus.Recorder{}

	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	rfq := model.RFQ{ID: "rfq-1", BuyerOrgID: "org-b"}
	offer := model.Offer{ID: "offer-1", SupplierOrgID: "org-s", Currency: model.CurrencyUSD}
	order := model.Order{ID: "order-1", BuyerOrgID: "org-b", SupplierOrgID: "org-s", Currency: model.CurrencyUSD,
		TotalAmount: decimal.NewFromInt(50), Status: model.OrderConfirmed}
	d := Open("deal-1", rfq, offer, order, at)
	d.Status = status

	require.NoError(t, st.Atomically(context.Background(), nil, func(tx *store.Tx) error {
		if err := tx.PutOrder(&order); err != nil {
			return err
		}
		return tx.PutDeal(&d)
	}))
	return NewTracker(st, rec, nil), st, rec
}

func TestOpen(t *testing.T) {
	at := time.Now().UTC()
	d := Open("d", model.RFQ{ID: "r", BuyerOrgID: "b"}, model.Offer{ID: "o", SupplierOrgID: "s", Currency: model.CurrencyRUB},
		model.Order{ID: "ord", TotalAmount: decimal.NewFromInt(1100)}, at)

	assert.Equal(t, model.DealOrdered, d.Status)
	assert.Equal(t, "r", d.RFQID)
	assert.Equal(t, "o", d.OfferID)
	assert.Equal(t, "ord", d.OrderID)
	assert.Equal(t, "b", d.BuyerOrgID)
	assert.Equal(t, "s", d.SupplierOrgID)
	assert.Equal(t, model.CurrencyRUB, d.MainCurrency)
	assert.Equal(t, model.LogisticsState{Current: StageProduction}, d.Logistics)
	assert.Equal(t, "1100", d.Summary["total_amount"])
}

func TestUpdateLogistics_NeverChangesStatus(t *testing.T) {
	tr, _, rec := newTestTracker(t, model.DealPaidPartially)
	ctx := context.Background()

	d, err := tr.UpdateLogistics(ctx, "org-s", "deal-1", model.LogisticsState{Current: "In transit"})
	require.NoError(t, err)
	assert.Equal(t, "In transit", d.Logistics.Current)
	assert.Equal(t, model.DealPaidPartially, d.Status)

	d, err = tr.SimulateDelivery(ctx, "org-b", "deal-1")
	require.NoError(t, err)
	assert.Equal(t, StageDelivered, d.Logistics.Current)
	assert.True(t, d.Logistics.Delivered)
	require.NotNil(t, d.Logistics.DeliveredAt)
	assert.Equal(t, model.DealPaidPartially, d.Status)

	l, err := tr.Logistics(ctx, "org-b", "deal-1")
	require.NoError(t, err)
	assert.True(t, l.Delivered)

	assert.Equal(t, []string{"deal.logistics_updated", "deal.logistics_updated"}, rec.Transitions())
}

func TestUpdateLogistics_Errors(t *testing.T) {
	tr, _, _ := newTestTracker(t, model.DealOrdered)
	ctx := context.Background()

	_, err := tr.UpdateLogistics(ctx, "org-x", "deal-1", model.LogisticsState{Current: "x"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = tr.UpdateLogistics(ctx, "org-b", "missing", model.LogisticsState{Current: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = tr.UpdateLogistics(ctx, "org-b", "deal-1", model.LogisticsState{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestClose(t *testing.T) {
	tr, _, rec := newTestTracker(t, model.DealPaidPartially)
	ctx := context.Background()

	_, err := tr.Close(ctx, "org-b", "deal-1")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Empty(t, rec.Events())

	tr, _, rec = newTestTracker(t, model.DealPaid)
	d, err := tr.Close(ctx, "org-b", "deal-1")
	require.NoError(t, err)
	assert.Equal(t, model.DealClosed, d.Status)

	d, err = tr.Close(ctx, "org-b", "deal-1")
	require.NoError(t, err)
	assert.Equal(t, model.DealClosed, d.Status)
	assert.Equal(t, []string{"deal.closed"}, rec.Transitions())
}

func TestListAndGet(t *testing.T) {
	tr, _, _ := newTestTracker(t, model.DealOrdered)
	ctx := context.Background()

	deals, err := tr.List(ctx, "org-b", model.RoleBuyer, "")
	require.NoError(t, err)
	assert.Len(t, deals, 1)

	deals, err = tr.List(ctx, "org-b", model.RoleSupplier, "")
	require.NoError(t, err)
	assert.Empty(t, deals)

	deals, err = tr.List(ctx, "org-s", "", model.DealPaid)
	require.NoError(t, err)
	assert.Empty(t, deals)

	_, err = tr.List(ctx, "org-s", "", "bogus")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = tr.Get(ctx, "org-x", "deal-1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	orders, err := tr.ListOrders(ctx, "org-s", model.RoleSupplier, model.OrderConfirmed)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	o, err := tr.GetOrder(ctx, "org-b", "order-1")
	require.NoError(t, err)
	assert.True(t, o.TotalAmount.Equal(decimal.NewFromInt(50)))

	_, err = tr.GetOrder(ctx, "org-x", "order-1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
