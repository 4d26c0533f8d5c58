package escrow

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestLedger(t *testing.T) (*Ledger, *store.Store) {
	t.Helper()
	st := store.NewMemory(nil)
	return NewLedger(st, DemoSeeds, nil), st
}

func TestParseSeeds(t *testing.T) {
	seeds, err := ParseSeeds("  ")
	require.NoError(t, err)
	assert.Empty(t, seeds)

	seeds, err = ParseSeeds("usd:250, CNY:10.5")
	require.NoError(t, err)
	assert.True(t, seeds[model.CurrencyUSD].Equal(d(250)))
	assert.True(t, seeds[model.CurrencyCNY].Equal(decimal.RequireFromString("10.5")))
	assert.True(t, seeds[model.CurrencyRUB].IsZero())

	for _, bad := range []string{"RUB", "EUR:1", "RUB:abc", "RUB:-1"} {
		_, err := ParseSeeds(bad)
		assert.Error(t, err, bad)
	}
}

func TestEnsureWallet_SeedsAndIsIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	rub, err := l.EnsureWallet(ctx, "org-a", model.CurrencyRUB)
	require.NoError(t, err)
	assert.True(t, rub.Balance.Equal(d(1_000_000)))
	assert.True(t, rub.BlockedAmount.IsZero())

	usd, err := l.EnsureWallet(ctx, "org-a", model.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, usd.Balance.IsZero())

	again, err := l.EnsureWallet(ctx, "org-a", model.CurrencyRUB)
	require.NoError(t, err)
	assert.Equal(t, rub.ID, again.ID)

	_, err = l.EnsureWallet(ctx, "org-a", "EUR")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEnsureWallet_UnseededStartsEmpty(t *testing.T) {
	l := NewLedger(store.NewMemory(nil), nil, nil)

	w, err := l.EnsureWallet(context.Background(), "org-a", model.CurrencyRUB)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
	assert.True(t, w.BlockedAmount.IsZero())
}

func TestEnsureWallet_ConcurrentCreatesOne(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 32)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := l.EnsureWallet(ctx, "org-race", model.CurrencyCNY)
			if err == nil {
				ids[i] = w.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	ws, err := l.ListWallets(ctx, "org-race")
	require.NoError(t, err)
	assert.Len(t, ws, 1)
}

func TestBlock(t *testing.T) {
	w := &model.Wallet{ID: "w", Currency: model.CurrencyRUB, Balance: d(100)}

	err := Block(w, d(150))
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.True(t, w.Balance.Equal(d(100)), "failed block leaves wallet unchanged")

	require.NoError(t, Block(w, d(40)))
	assert.True(t, w.Balance.Equal(d(60)))
	assert.True(t, w.BlockedAmount.Equal(d(40)))
	assert.True(t, w.Total().Equal(d(100)))

	assert.ErrorIs(t, Block(w, d(0)), apperr.ErrValidation)
}

func TestSettle(t *testing.T) {
	payer := &model.Wallet{ID: "p", Currency: model.CurrencyUSD, BlockedAmount: d(30)}
	payee := &model.Wallet{ID: "q", Currency: model.CurrencyUSD, Balance: d(5)}

	err := Settle(payer, payee, d(31))
	assert.ErrorIs(t, err, apperr.ErrInsufficientBlocked)

	require.NoError(t, Settle(payer, payee, d(30)))
	assert.True(t, payer.BlockedAmount.IsZero())
	assert.True(t, payee.Balance.Equal(d(35)))

	other := &model.Wallet{ID: "r", Currency: model.CurrencyRUB}
	assert.Error(t, Settle(payee, other, d(1)))
}

func TestCredit(t *testing.T) {
	w := &model.Wallet{Balance: d(1)}
	require.NoError(t, Credit(w, d(9)))
	assert.True(t, w.Balance.Equal(d(10)))
	assert.ErrorIs(t, Credit(w, d(-1)), apperr.ErrValidation)
}

func seedPayments(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.Atomically(context.Background(), nil, func(tx *store.Tx) error {
		for _, p := range []model.Payment{
			{ID: "p1", DealID: "d1", PayerOrgID: "org-b", PayeeOrgID: "org-s", Amount: d(10), Currency: model.CurrencyRUB, Status: model.PaymentPending},
			{ID: "p2", DealID: "d1", PayerOrgID: "org-b", PayeeOrgID: "org-s", Amount: d(20), Currency: model.CurrencyRUB, Status: model.PaymentCompleted},
			{ID: "p3", DealID: "d2", PayerOrgID: "org-s", PayeeOrgID: "org-b", Amount: d(5), Currency: model.CurrencyUSD, Status: model.PaymentPending},
		} {
			p := p
			if err := tx.PutPayment(&p); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestListPayments(t *testing.T) {
	l, st := newTestLedger(t)
	seedPayments(t, st)
	ctx := context.Background()

	all, err := l.ListPayments(ctx, PaymentFilter{OrgID: "org-b"})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	asPayer, err := l.ListPayments(ctx, PaymentFilter{OrgID: "org-b", Role: model.RolePayer})
	require.NoError(t, err)
	assert.Len(t, asPayer, 2)

	pending, err := l.ListPayments(ctx, PaymentFilter{OrgID: "org-b", Role: model.RolePayer, Status: model.PaymentPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "p1", pending[0].ID)

	byDeal, err := l.ListPayments(ctx, PaymentFilter{OrgID: "org-s", DealID: "d2"})
	require.NoError(t, err)
	require.Len(t, byDeal, 1)
	assert.Equal(t, "p3", byDeal[0].ID)

	_, err = l.ListPayments(ctx, PaymentFilter{OrgID: "org-b", Role: model.RoleBuyer})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = l.ListPayments(ctx, PaymentFilter{OrgID: "org-b", Status: "lost"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = l.GetPayment(ctx, "org-x", "p1")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	p, err := l.GetPayment(ctx, "org-s", "p1")
	require.NoError(t, err)
	assert.Equal(t, "org-b", p.PayerOrgID)
}

func TestAudit(t *testing.T) {
	l, st := newTestLedger(t)
	seedPayments(t, st)
	ctx := context.Background()

	require.NoError(t, st.Atomically(ctx, nil, func(tx *store.Tx) error {
		if err := tx.PutWallet(&model.Wallet{ID: "wb", OrgID: "org-b", Currency: model.CurrencyRUB, Balance: d(100), BlockedAmount: d(10)}); err != nil {
			return err
		}
		return tx.PutWallet(&model.Wallet{ID: "ws", OrgID: "org-s", Currency: model.CurrencyUSD, Balance: d(1), BlockedAmount: d(4)})
	}))

	violations, err := l.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "ws", violations[0].WalletID)
	assert.Equal(t, "blocked_equals_pending", violations[0].Rule)
	assert.True(t, violations[0].Expected.Equal(d(5)))
	assert.Contains(t, violations[0].String(), "org-s")
}

// raceBackend runs onPayments once, right before the first full payment scan.
type raceBackend struct {
	store.Backend
	once       sync.Once
	onPayments func()
}

func (b *raceBackend) List(ctx context.Context, kind, field, value string) ([][]byte, error) {
	if kind == store.KindPayment && field == "" {
		b.once.Do(b.onPayments)
	}
	return b.Backend.List(ctx, kind, field, value)
}

func TestAudit_IgnoresPaymentCommittedMidScan(t *testing.T) {
	ctx := context.Background()
	backend := &raceBackend{Backend: store.NewMemoryBackend()}
	st := store.New(backend, nil)
	l := NewLedger(st, DemoSeeds, nil)

	_, err := l.EnsureWallet(ctx, "org-b", model.CurrencyRUB)
	require.NoError(t, err)

	backend.onPayments = func() {
		err := st.Atomically(ctx, []string{store.WalletKey("org-b", model.CurrencyRUB)}, func(tx *store.Tx) error {
			w, err := tx.WalletByOwner("org-b", model.CurrencyRUB)
			if err != nil {
				return err
			}
			if err := Block(w, d(1100)); err != nil {
				return err
			}
			if err := tx.PutWallet(w); err != nil {
				return err
			}
			return tx.PutPayment(&model.Payment{ID: "p-mid", DealID: "d1", PayerOrgID: "org-b", PayeeOrgID: "org-s",
				Amount: d(1100), Currency: model.CurrencyRUB, Status: model.PaymentPending})
		})
		require.NoError(t, err)
	}

	violations, err := l.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)

	ws, err := st.ListWallets(ctx, store.FieldOrg, "org-b")
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.True(t, ws[0].BlockedAmount.Equal(d(1100)))

	// a real drift is still reported once the ledger is quiet
	require.NoError(t, st.Atomically(ctx, nil, func(tx *store.Tx) error {
		w := ws[0]
		w.BlockedAmount = d(900)
		return tx.PutWallet(&w)
	}))
	violations, err = l.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "blocked_equals_pending", violations[0].Rule)
	assert.True(t, violations[0].Expected.Equal(d(1100)))
	assert.True(t, violations[0].Actual.Equal(d(900)))
}
