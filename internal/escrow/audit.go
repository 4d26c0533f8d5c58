package escrow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// Violation describes a wallet that breaks a ledger invariant.
type Violation struct {
	WalletID string          `json:"wallet_id"`
	OrgID    string          `json:"org_id"`
	Currency model.Currency  `json:"currency"`
	Rule     string          `json:"rule"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s/%s: %s (expected %s, actual %s)",
		v.WalletID, v.OrgID, v.Currency, v.Rule, v.Expected.String(), v.Actual.String())
}

// Audit scans every wallet and checks that balances are non-negative and that
// blocked funds equal the sum of the owner's pending payments in that currency.
// The scan reads without locks; each flagged wallet is re-read under its wallet
// lock together with its owner's payments, and only findings that still hold
// are reported.
func (l *Ledger) Audit(ctx context.Context) ([]Violation, error) {
	wallets, err := l.store.ListWallets(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("audit wallets: %w", err)
	}
	payments, err := l.store.ListPayments(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("audit payments: %w", err)
	}

	pending := make(map[string]decimal.Decimal)
	for _, p := range payments {
		if p.Status != model.PaymentPending {
			continue
		}
		k := model.WalletOwner(p.PayerOrgID, p.Currency)
		pending[k] = pending[k].Add(p.Amount)
	}

	var out []Violation
	for _, w := range wallets {
		if len(checkWallet(w, pending[model.WalletOwner(w.OrgID, w.Currency)])) == 0 {
			continue
		}
		confirmed, err := l.recheck(ctx, w.OrgID, w.Currency)
		if err != nil {
			return nil, err
		}
		out = append(out, confirmed...)
	}
	return out, nil
}

// recheck evaluates one wallet while holding its lock, so no payment on it can
// commit between reading the wallet and reading the payments.
func (l *Ledger) recheck(ctx context.Context, orgID string, currency model.Currency) ([]Violation, error) {
	var out []Violation
	err := l.store.Atomically(ctx, []string{store.WalletKey(orgID, currency)}, func(tx *store.Tx) error {
		w, err := tx.WalletByOwner(orgID, currency)
		if err != nil {
			return err
		}
		payments, err := l.store.ListPayments(tx.Context(), store.FieldPayer, orgID)
		if err != nil {
			return err
		}
		pending := decimal.Zero
		for _, p := range payments {
			if p.Status == model.PaymentPending && p.Currency == currency {
				pending = pending.Add(p.Amount)
			}
		}
		out = checkWallet(*w, pending)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit recheck %s: %w", model.WalletOwner(orgID, currency), err)
	}
	return out, nil
}

func checkWallet(w model.Wallet, pending decimal.Decimal) []Violation {
	var out []Violation
	if w.Balance.IsNegative() {
		out = append(out, Violation{WalletID: w.ID, OrgID: w.OrgID, Currency: w.Currency,
			Rule: "balance_non_negative", Expected: decimal.Zero, Actual: w.Balance})
	}
	if w.BlockedAmount.IsNegative() {
		out = append(out, Violation{WalletID: w.ID, OrgID: w.OrgID, Currency: w.Currency,
			Rule: "blocked_non_negative", Expected: decimal.Zero, Actual: w.BlockedAmount})
	}
	if !w.BlockedAmount.Equal(pending) {
		out = append(out, Violation{WalletID: w.ID, OrgID: w.OrgID, Currency: w.Currency,
			Rule: "blocked_equals_pending", Expected: pending, Actual: w.BlockedAmount})
	}
	return out
}
