// Package escrow owns wallet balances and the arithmetic of moving funds
// from available to blocked to released.
package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// DemoSeeds gives every new RUB wallet a demo balance, as the bootstrap flow expects.
// Only demo deployments use it; otherwise new wallets start empty.
var DemoSeeds = map[model.Currency]decimal.Decimal{
	model.CurrencyRUB: decimal.NewFromInt(1_000_000),
}

// ParseSeeds reads "RUB:1000000,USD:500". An empty string yields no seeds.
func ParseSeeds(s string) (map[model.Currency]decimal.Decimal, error) {
	out := make(map[model.Currency]decimal.Decimal)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cur, amt, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("seed %q: want CURRENCY:AMOUNT", part)
		}
		c, valid := model.ParseCurrency(cur)
		if !valid {
			return nil, fmt.Errorf("seed %q: unsupported currency", part)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(amt))
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", part, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("seed %q: amount must be >= 0", part)
		}
		out[c] = d
	}
	return out, nil
}

// Ledger resolves wallets and serves payment and wallet reads.
// Balance mutations happen inside store transactions owned by the orchestrator.
type Ledger struct {
	store  *store.Store
	seeds  map[model.Currency]decimal.Decimal
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger builds a ledger. seeds sets the opening balance of new wallets per
// currency; nil opens every wallet at zero.
func NewLedger(st *store.Store, seeds map[model.Currency]decimal.Decimal, logger *zap.Logger) *Ledger {
	if seeds == nil {
		seeds = map[model.Currency]decimal.Decimal{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: st, seeds: seeds, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureWallet returns the (orgID, currency) wallet, creating it on first use.
func (l *Ledger) EnsureWallet(ctx context.Context, orgID string, currency model.Currency) (*model.Wallet, error) {
	if orgID == "" {
		return nil, apperr.Validation("org id is required")
	}
	if !currency.Valid() {
		return nil, apperr.Validation("unsupported currency %q", currency)
	}
	var w *model.Wallet
	err := l.store.Atomically(ctx, []string{store.WalletKey(orgID, currency)}, func(tx *store.Tx) error {
		var err error
		w, err = l.EnsureWalletTx(tx, orgID, currency)
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// EnsureWalletTx is EnsureWallet for a caller already holding the wallet's lock.
func (l *Ledger) EnsureWalletTx(tx *store.Tx, orgID string, currency model.Currency) (*model.Wallet, error) {
	w, err := tx.WalletByOwner(orgID, currency)
	if err == nil {
		return w, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	now := l.now()
	w = &model.Wallet{
		ID:            uuid.NewString(),
		OrgID:         orgID,
		Currency:      currency,
		Balance:       l.seeds[currency],
		BlockedAmount: decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.PutWallet(w); err != nil {
		return nil, err
	}
	l.logger.Info("escrow.wallet_created",
		zap.String("org", orgID),
		zap.String("currency", currency.String()),
		zap.String("seed", w.Balance.String()))
	return w, nil
}

// Block moves amount from available to blocked.
func Block(w *model.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Validation("amount must be > 0")
	}
	if w.Balance.LessThan(amount) {
		return apperr.New(apperr.KindInsufficientFunds, "create_payment", model.EntityWallet, w.ID, "",
			fmt.Sprintf("available %s is less than %s %s", w.Balance.String(), amount.String(), w.Currency))
	}
	w.Balance = w.Balance.Sub(amount)
	w.BlockedAmount = w.BlockedAmount.Add(amount)
	return nil
}

// Settle releases amount from the payer's blocked funds into the payee's available balance.
func Settle(payer, payee *model.Wallet, amount decimal.Decimal) error {
	if payer.Currency != payee.Currency {
		return fmt.Errorf("escrow: settle across currencies %s/%s", payer.Currency, payee.Currency)
	}
	if payer.BlockedAmount.LessThan(amount) {
		return apperr.New(apperr.KindInsufficientBlocked, "release_payment", model.EntityWallet, payer.ID, "",
			fmt.Sprintf("blocked %s is less than %s %s", payer.BlockedAmount.String(), amount.String(), payer.Currency))
	}
	payer.BlockedAmount = payer.BlockedAmount.Sub(amount)
	payee.Balance = payee.Balance.Add(amount)
	return nil
}

// Credit adds amount to the available balance.
func Credit(w *model.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Validation("amount must be > 0")
	}
	w.Balance = w.Balance.Add(amount)
	return nil
}

// PaymentFilter narrows ListPayments. Role is payer, payee or empty for either.
type PaymentFilter struct {
	OrgID  string
	Role   model.Role
	Status model.PaymentStatus
	DealID string
}

// GetPayment returns a payment visible to the caller (payer or payee).
func (l *Ledger) GetPayment(ctx context.Context, callerOrgID, paymentID string) (*model.Payment, error) {
	p, err := l.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if callerOrgID != "" && p.PayerOrgID != callerOrgID && p.PayeeOrgID != callerOrgID {
		return nil, apperr.Forbidden("get_payment", model.EntityPayment, paymentID, "not a party to this payment")
	}
	return p, nil
}

// ListPayments returns the payments matching f, oldest first.
func (l *Ledger) ListPayments(ctx context.Context, f PaymentFilter) ([]model.Payment, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("unknown payment status %q", f.Status)
	}
	var fields []string
	switch f.Role {
	case model.RolePayer:
		fields = []string{store.FieldPayer}
	case model.RolePayee:
		fields = []string{store.FieldPayee}
	case "":
		fields = []string{store.FieldPayer, store.FieldPayee}
	default:
		return nil, apperr.Validation("role must be payer or payee")
	}
	if f.OrgID == "" {
		return nil, apperr.Validation("org id is required")
	}

	seen := make(map[string]struct{})
	out := make([]model.Payment, 0)
	for _, field := range fields {
		ps, err := l.store.ListPayments(ctx, field, f.OrgID)
		if err != nil {
			return nil, err
		}
		for _, p := range ps {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			if f.Status != "" && p.Status != f.Status {
				continue
			}
			if f.DealID != "" && p.DealID != f.DealID {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out, nil
}

// PaymentsForDeal lists every payment on a deal.
func (l *Ledger) PaymentsForDeal(ctx context.Context, dealID string) ([]model.Payment, error) {
	return l.store.ListPayments(ctx, store.FieldDeal, dealID)
}

// ListWallets returns the wallets of orgID.
func (l *Ledger) ListWallets(ctx context.Context, orgID string) ([]model.Wallet, error) {
	return l.store.ListWallets(ctx, store.FieldOrg, orgID)
}
