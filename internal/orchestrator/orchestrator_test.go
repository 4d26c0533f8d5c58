package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/escrow"
	"github.com/Checker-Finance/trade-escrow/internal/fx"
	"github.com/Checker-Finance/trade-escrow/internal/quote"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/eventbus"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

const (
	buyer    = "org-buyer"
	supplier = "org-supplier"
)

type harness struct {
	store  *store.Store
	quotes *quote.Engine
	ledger *escrow.Ledger
	fx     *fx.Service
	orch   *Orchestrator
	events *eventbus.Recorder
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory(nil)
	rec := &eventbus.Recorder{}
	ledger := escrow.NewLedger(st, map[model.Currency]decimal.Decimal{}, nil)
	fxs := fx.NewService(fx.StaticRates{}, fx.NewMemoryQuoteStore(), nil)
	return &harness{
		store:  st,
		quotes: quote.NewEngine(st, rec, nil),
		ledger: ledger,
		fx:     fxs,
		orch:   New(st, ledger, fxs, rec, nil),
		events: rec,
	}
}

// offer creates a sent RFQ and answers it with the two-line 1100 RUB offer.
func (h *harness) offer(t *testing.T) *model.Offer {
	t.Helper()
	ctx := context.Background()
	rfq, err := h.quotes.CreateRFQ(ctx, buyer, quote.CreateRFQInput{Items: []model.RFQItem{
		{Name: "Steel pipe", Quantity: dec(100), Unit: model.UnitPiece},
		{Name: "Flange", Quantity: dec(20), Unit: model.UnitPiece},
	}})
	require.NoError(t, err)
	_, err = h.quotes.SendRFQ(ctx, buyer, rfq.ID)
	require.NoError(t, err)

	offer, err := h.quotes.CreateOffer(ctx, rfq.ID, supplier, quote.CreateOfferInput{
		Currency: model.CurrencyRUB,
		Items: []model.OfferItem{
			{Name: "Steel pipe", Quantity: dec(100), Unit: model.UnitPiece, Price: dec(10)},
			{Name: "Flange", Quantity: dec(20), Unit: model.UnitPiece, Price: dec(5)},
		},
	})
	require.NoError(t, err)
	return offer
}

func (h *harness) deal(t *testing.T) *Accepted {
	t.Helper()
	res, err := h.orch.AcceptOffer(context.Background(), buyer, h.offer(t).ID)
	require.NoError(t, err)
	return res
}

func (h *harness) wallet(t *testing.T, org string) model.Wallet {
	t.Helper()
	w, err := h.ledger.EnsureWallet(context.Background(), org, model.CurrencyRUB)
	require.NoError(t, err)
	return *w
}

func (h *harness) fund(t *testing.T, org string, amount int64) {
	t.Helper()
	_, err := h.orch.Deposit(context.Background(), org, model.CurrencyRUB, dec(amount))
	require.NoError(t, err)
}

func TestScenario_TwoItemOfferFullCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)

	assert.True(t, res.Order.TotalAmount.Equal(dec(1100)))
	assert.Equal(t, model.OrderConfirmed, res.Order.Status)
	assert.Equal(t, model.DealOrdered, res.Deal.Status)
	assert.Equal(t, model.OfferAccepted, res.Offer.Status)
	assert.Equal(t, res.Order.ID, res.Deal.OrderID)
	assert.Equal(t, "Production", res.Deal.Logistics.Current)

	h.fund(t, buyer, 5000)
	payeeBefore := h.wallet(t, supplier)

	p, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: res.Order.TotalAmount, Currency: model.CurrencyRUB})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, p.Status)
	assert.Equal(t, supplier, p.PayeeOrgID)

	payer := h.wallet(t, buyer)
	assert.True(t, payer.Balance.Equal(dec(3900)))
	assert.True(t, payer.BlockedAmount.Equal(dec(1100)))

	d, err := h.store.GetDeal(ctx, res.Deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealPaidPartially, d.Status)

	released, err := h.orch.ReleasePayment(ctx, buyer, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, released.Status)
	require.NotNil(t, released.CompletedAt)

	payer = h.wallet(t, buyer)
	payee := h.wallet(t, supplier)
	assert.True(t, payer.BlockedAmount.IsZero())
	assert.True(t, payer.Balance.Equal(dec(3900)))
	assert.True(t, payee.Balance.Equal(payeeBefore.Balance.Add(dec(1100))))

	d, err = h.store.GetDeal(ctx, res.Deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealPaid, d.Status)

	violations, err := h.ledger.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	assert.Equal(t, []string{
		"rfq.created", "rfq.sent", "offer.created",
		"offer.accepted", "order.created", "deal.opened",
		"wallet.deposited",
		"payment.created", "deal.status_changed",
		"payment.released", "deal.status_changed",
	}, h.events.Transitions())
}

func TestAcceptOffer_SingleAcceptance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	offer := h.offer(t)

	_, err := h.orch.AcceptOffer(ctx, buyer, offer.ID)
	require.NoError(t, err)

	_, err = h.orch.AcceptOffer(ctx, buyer, offer.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	orders, err := h.store.ListOrders(ctx, store.FieldOffer, offer.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	deals, err := h.store.ListDeals(ctx, store.FieldBuyer, buyer)
	require.NoError(t, err)
	assert.Len(t, deals, 1)
}

func TestAcceptOffer_ConcurrentOnlyOneWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	offer := h.offer(t)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.AcceptOffer(ctx, buyer, offer.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	deals, err := h.store.ListDeals(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, deals, 1)
}

func TestAcceptOffer_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.AcceptOffer(ctx, buyer, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	offer := h.offer(t)
	_, err = h.orch.AcceptOffer(ctx, supplier, offer.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.quotes.RejectOffer(ctx, buyer, offer.ID)
	require.NoError(t, err)
	_, err = h.orch.AcceptOffer(ctx, buyer, offer.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	orders, err := h.store.ListOrders(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, orders, "failed acceptance leaves no order behind")
}

func TestAcceptOffer_SecondOfferOnSameRFQ(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.offer(t)

	_, err := h.quotes.SendRFQ(ctx, buyer, first.RFQID)
	require.NoError(t, err)
	second, err := h.quotes.CreateOffer(ctx, first.RFQID, supplier, quote.CreateOfferInput{
		Currency: model.CurrencyRUB,
		Items:    []model.OfferItem{{Name: "Pipe", Quantity: dec(1), Unit: model.UnitPiece, Price: dec(1)}},
	})
	require.NoError(t, err)

	_, err = h.orch.AcceptOffer(ctx, buyer, first.ID)
	require.NoError(t, err)
	_, err = h.orch.AcceptOffer(ctx, buyer, second.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCreatePayment_InsufficientFundsLeavesWalletUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 1000)
	before := h.wallet(t, buyer)

	_, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(1100), Currency: model.CurrencyRUB})
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)

	after := h.wallet(t, buyer)
	assert.True(t, before.Balance.Equal(after.Balance))
	assert.True(t, before.BlockedAmount.Equal(after.BlockedAmount))

	d, err := h.store.GetDeal(ctx, res.Deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealOrdered, d.Status, "failed payment does not move the deal")

	ps, err := h.store.ListPayments(ctx, store.FieldDeal, res.Deal.ID)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestCreatePayment_Conservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 2000)

	before := h.wallet(t, buyer)
	_, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(300), Currency: model.CurrencyRUB})
	require.NoError(t, err)
	after := h.wallet(t, buyer)

	assert.True(t, after.Total().Equal(before.Total()), "available+blocked is preserved")
	assert.True(t, after.Balance.Equal(before.Balance.Sub(dec(300))))
	assert.True(t, after.BlockedAmount.Equal(before.BlockedAmount.Add(dec(300))))
}

func TestCreatePayment_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)

	tests := []struct {
		name  string
		payer string
		in    CreatePaymentInput
		want  error
	}{
		{"zero amount", buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(0), Currency: model.CurrencyRUB}, apperr.ErrValidation},
		{"negative amount", buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(-5), Currency: model.CurrencyRUB}, apperr.ErrValidation},
		{"bad currency", buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(5), Currency: "EUR"}, apperr.ErrValidation},
		{"unknown deal", buyer, CreatePaymentInput{DealID: "nope", Amount: dec(5), Currency: model.CurrencyRUB}, apperr.ErrNotFound},
		{"stranger", "org-x", CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(5), Currency: model.CurrencyRUB}, apperr.ErrForbidden},
		{"unknown fx quote", buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(5), Currency: model.CurrencyRUB, FXQuoteID: "q"}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.CreatePayment(ctx, tt.payer, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreatePayment_MissingRFQ(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 5000)

	require.NoError(t, h.store.Atomically(ctx, []string{store.DealKey(res.Deal.ID)}, func(tx *store.Tx) error {
		d, err := tx.GetDeal(res.Deal.ID)
		if err != nil {
			return err
		}
		d.RFQID = "rfq-gone"
		return tx.PutDeal(d)
	}))

	_, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(1100), Currency: model.CurrencyRUB})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	w := h.wallet(t, buyer)
	assert.True(t, w.Balance.Equal(dec(5000)))
	assert.True(t, w.BlockedAmount.IsZero())
	payments, err := h.ledger.PaymentsForDeal(ctx, res.Deal.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	d, err := h.store.GetDeal(ctx, res.Deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealOrdered, d.Status)
}

func TestCreatePayment_WithFXQuote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 5000)

	q, err := h.fx.Quote(ctx, model.CurrencyUSD, model.CurrencyRUB, dec(11))
	require.NoError(t, err)
	p, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{
		DealID: res.Deal.ID, Amount: q.Converted, Currency: model.CurrencyRUB, FXQuoteID: q.QuoteID,
	})
	require.NoError(t, err)
	assert.Equal(t, q.QuoteID, p.FXQuoteID)
	assert.True(t, p.Amount.Equal(dec(1100)))

	wrongLeg, err := h.fx.Quote(ctx, model.CurrencyRUB, model.CurrencyUSD, dec(1))
	require.NoError(t, err)
	_, err = h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{
		DealID: res.Deal.ID, Amount: dec(1), Currency: model.CurrencyRUB, FXQuoteID: wrongLeg.QuoteID,
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreatePayment_DealStateGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 5000)

	p, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(1100), Currency: model.CurrencyRUB})
	require.NoError(t, err)
	_, err = h.orch.ReleasePayment(ctx, buyer, p.ID)
	require.NoError(t, err)

	before := h.wallet(t, buyer)
	_, err = h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(10), Currency: model.CurrencyRUB})
	assert.ErrorIs(t, err, apperr.ErrInvalidDealStateForPayment)

	after := h.wallet(t, buyer)
	assert.True(t, before.Balance.Equal(after.Balance))
	d, err := h.store.GetDeal(ctx, res.Deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealPaid, d.Status, "paid deal never regresses")
}

func TestReleasePayment_Twice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 1100)

	p, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(1100), Currency: model.CurrencyRUB})
	require.NoError(t, err)
	_, err = h.orch.ReleasePayment(ctx, buyer, p.ID)
	require.NoError(t, err)

	h.events.Reset()
	payee := h.wallet(t, supplier)
	_, err = h.orch.ReleasePayment(ctx, buyer, p.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	assert.True(t, h.wallet(t, supplier).Balance.Equal(payee.Balance))
	d, err := h.store.GetDeal(ctx, res.Deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealPaid, d.Status)
	assert.Empty(t, h.events.Events())
}

func TestReleasePayment_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 500)

	_, err := h.orch.ReleasePayment(ctx, buyer, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	p, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(100), Currency: model.CurrencyRUB})
	require.NoError(t, err)
	_, err = h.orch.ReleasePayment(ctx, supplier, p.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestReleasePayment_InsufficientBlocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 500)

	p, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(100), Currency: model.CurrencyRUB})
	require.NoError(t, err)

	// corrupt the ledger behind the orchestrator's back
	require.NoError(t, h.store.Atomically(ctx, nil, func(tx *store.Tx) error {
		w, err := tx.WalletByOwner(buyer, model.CurrencyRUB)
		if err != nil {
			return err
		}
		w.BlockedAmount = dec(40)
		return tx.PutWallet(w)
	}))

	_, err = h.orch.ReleasePayment(ctx, buyer, p.ID)
	assert.ErrorIs(t, err, apperr.ErrInsufficientBlocked)

	got, err := h.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, got.Status)
}

func TestPartialPayments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 1100)

	p1, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(600), Currency: model.CurrencyRUB})
	require.NoError(t, err)
	p2, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(500), Currency: model.CurrencyRUB})
	require.NoError(t, err)

	_, err = h.orch.ReleasePayment(ctx, buyer, p1.ID)
	require.NoError(t, err)
	d, err := h.store.GetDeal(ctx, res.Deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealPaidPartially, d.Status, "one payment still pending")

	_, err = h.orch.ReleasePayment(ctx, buyer, p2.ID)
	require.NoError(t, err)
	d, err = h.store.GetDeal(ctx, res.Deal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealPaid, d.Status)

	assert.True(t, h.wallet(t, supplier).Balance.Equal(dec(1100)))
	assert.True(t, h.wallet(t, buyer).BlockedAmount.IsZero())
}

func TestCreatePayment_ConcurrentOnOneWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 1000)

	const n = 25 // 25 x 60 = 1500 > 1000, so only 16 can succeed
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		ok, declined int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(60), Currency: model.CurrencyRUB})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if apperr.KindOf(err) == apperr.KindInsufficientFunds {
				declined++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16, ok)
	assert.Equal(t, n-16, declined)

	w := h.wallet(t, buyer)
	assert.True(t, w.Balance.Equal(dec(40)), "balance %s", w.Balance)
	assert.True(t, w.BlockedAmount.Equal(dec(960)), "blocked %s", w.BlockedAmount)
	assert.False(t, w.Balance.IsNegative())

	violations, err := h.ledger.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestConcurrentReleaseAndPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 1000)

	var payments []*model.Payment
	for i := 0; i < 5; i++ {
		p, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(100), Currency: model.CurrencyRUB})
		require.NoError(t, err)
		payments = append(payments, p)
	}

	var wg sync.WaitGroup
	for _, p := range payments {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			_, _ = h.orch.ReleasePayment(ctx, buyer, id)
		}(p.ID)
		go func() {
			defer wg.Done()
			_, _ = h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(50), Currency: model.CurrencyRUB})
		}()
	}
	wg.Wait()

	violations, err := h.ledger.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	payer := h.wallet(t, buyer)
	payee := h.wallet(t, supplier)
	assert.True(t, payer.Total().Add(payee.Total()).Equal(dec(1000)), "funds are conserved")
}

func TestDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w, err := h.orch.Deposit(ctx, buyer, model.CurrencyCNY, dec(70))
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec(70)))

	_, err = h.orch.Deposit(ctx, buyer, model.CurrencyCNY, dec(0))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.orch.Deposit(ctx, "", model.CurrencyCNY, dec(1))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDealView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.deal(t)
	h.fund(t, buyer, 1100)
	_, err := h.orch.CreatePayment(ctx, buyer, CreatePaymentInput{DealID: res.Deal.ID, Amount: dec(1100), Currency: model.CurrencyRUB})
	require.NoError(t, err)

	v, err := h.orch.DealView(ctx, supplier, res.Deal.ID, model.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, res.Deal.ID, v.Deal.ID)
	assert.Equal(t, res.Order.ID, v.Order.ID)
	assert.Equal(t, res.Offer.ID, v.Offer.ID)
	assert.Equal(t, res.Deal.RFQID, v.RFQ.ID)
	assert.Len(t, v.Payments, 1)
	require.NotNil(t, v.Display)
	assert.True(t, v.Display.Total.Equal(dec(11)), "1100 RUB at 0.01 = 11 USD, got %s", v.Display.Total)

	plain, err := h.orch.DealView(ctx, buyer, res.Deal.ID, "")
	require.NoError(t, err)
	assert.Nil(t, plain.Display)

	_, err = h.orch.DealView(ctx, "org-x", res.Deal.ID, "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = h.orch.DealView(ctx, buyer, res.Deal.ID, "EUR")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
