package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/deal"
	"github.com/Checker-Finance/trade-escrow/internal/escrow"
	"github.com/Checker-Finance/trade-escrow/internal/metrics"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// CreatePaymentInput funds escrow for a deal.
type CreatePaymentInput struct {
	DealID    string
	Amount    decimal.Decimal
	Currency  model.Currency
	FXQuoteID string
}

// CreatePayment blocks amount on the payer's wallet, records a pending payment
// and advances the deal, all in one transaction.
func (o *Orchestrator) CreatePayment(ctx context.Context, payerOrgID string, in CreatePaymentInput) (p *model.Payment, err error) {
	start := time.Now()
	defer func() {
		o.observe("create_payment", start, err,
			zap.String("deal_id", in.DealID),
			zap.String("payer", payerOrgID),
			zap.String("amount", in.Amount.String()))
	}()

	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be > 0")
	}
	if !in.Currency.Valid() {
		return nil, apperr.Validation("unsupported currency %q", in.Currency)
	}

	pre, err := o.store.GetDeal(ctx, in.DealID)
	if err != nil {
		return nil, err
	}
	payeeOrgID, ok := pre.Counterparty(payerOrgID)
	if !ok {
		return nil, apperr.Forbidden("create_payment", model.EntityDeal, in.DealID, "payer is not a party to this deal")
	}

	if in.FXQuoteID != "" {
		if o.fx == nil {
			return nil, apperr.NotFound("fx_quote", in.FXQuoteID)
		}
		q, err := o.fx.Lookup(ctx, in.FXQuoteID)
		if err != nil {
			return nil, err
		}
		if q.To != in.Currency {
			return nil, apperr.Validation("fx quote %s converts to %s, payment is in %s", q.QuoteID, q.To, in.Currency)
		}
	}

	var (
		d             *model.Deal
		statusChanged bool
	)
	keys := []string{
		store.DealKey(in.DealID),
		store.WalletKey(payerOrgID, in.Currency),
		store.WalletKey(payeeOrgID, in.Currency),
	}
	err = o.store.Atomically(ctx, keys, func(tx *store.Tx) error {
		var err error
		d, err = tx.GetDeal(in.DealID)
		if err != nil {
			return err
		}
		rfq, err := tx.GetRFQ(d.RFQID)
		if err != nil {
			return err
		}
		payee, ok := rfqCounterparty(rfq, payerOrgID)
		if !ok {
			return apperr.Forbidden("create_payment", model.EntityRFQ, rfq.ID, "payer is not a party to this rfq")
		}
		if payee != payeeOrgID {
			return apperr.Conflict("create_payment", model.EntityDeal, d.ID, string(d.Status),
				"deal and rfq disagree on the counterparty")
		}
		if statusChanged, err = deal.Transition(d, deal.ActionFund); err != nil {
			return err
		}

		payerWallet, err := o.ledger.EnsureWalletTx(tx, payerOrgID, in.Currency)
		if err != nil {
			return err
		}
		if err := escrow.Block(payerWallet, in.Amount); err != nil {
			return err
		}
		payeeWallet, err := o.ledger.EnsureWalletTx(tx, payee, in.Currency)
		if err != nil {
			return err
		}

		now := o.now()
		payerWallet.UpdatedAt = now
		d.UpdatedAt = now
		p = &model.Payment{
			ID:         uuid.NewString(),
			DealID:     d.ID,
			PayerOrgID: payerOrgID,
			PayeeOrgID: payee,
			Amount:     in.Amount,
			Currency:   in.Currency,
			Status:     model.PaymentPending,
			FXQuoteID:  in.FXQuoteID,
			CreatedAt:  now,
		}

		for _, put := range []func() error{
			func() error { return tx.PutWallet(payerWallet) },
			func() error { return tx.PutWallet(payeeWallet) },
			func() error { return tx.PutPayment(p) },
			func() error { return tx.PutDeal(d) },
		} {
			if err := put(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	amount, _ := p.Amount.Float64()
	metrics.AddEscrow(p.Currency.String(), "blocked", amount)

	parties := []string{p.PayerOrgID, p.PayeeOrgID}
	o.emit(ctx, model.NewTradeEvent(model.EntityPayment, p.ID, "payment.created", p, parties...))
	if statusChanged {
		o.emit(ctx, model.NewTradeEvent(model.EntityDeal, d.ID, "deal.status_changed", d, parties...))
	}
	o.logger.Info("orchestrator.payment_created",
		zap.String("payment_id", p.ID),
		zap.String("deal_id", p.DealID),
		zap.String("amount", p.Amount.String()),
		zap.String("currency", p.Currency.String()),
		zap.String("deal_status", string(d.Status)))
	return p, nil
}

// ReleasePayment moves a pending payment's funds from the payer's blocked
// balance to the payee's available balance and completes the payment.
func (o *Orchestrator) ReleasePayment(ctx context.Context, callerOrgID, paymentID string) (p *model.Payment, err error) {
	start := time.Now()
	defer func() {
		o.observe("release_payment", start, err, zap.String("payment_id", paymentID), zap.String("caller", callerOrgID))
	}()

	pre, err := o.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if pre.PayerOrgID != callerOrgID {
		return nil, apperr.Forbidden("release_payment", model.EntityPayment, paymentID, "only the payer may release a payment")
	}

	var (
		d             *model.Deal
		statusChanged bool
	)
	keys := []string{
		store.PaymentKey(paymentID),
		store.DealKey(pre.DealID),
		store.WalletKey(pre.PayerOrgID, pre.Currency),
		store.WalletKey(pre.PayeeOrgID, pre.Currency),
	}
	err = o.store.Atomically(ctx, keys, func(tx *store.Tx) error {
		var err error
		p, err = tx.GetPayment(paymentID)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentPending {
			return apperr.New(apperr.KindInvalidState, "release_payment", model.EntityPayment, p.ID,
				string(p.Status), "only pending payments can be released")
		}
		d, err = tx.GetDeal(p.DealID)
		if err != nil {
			return err
		}

		others, err := tx.PaymentsByDeal(d.ID)
		if err != nil {
			return err
		}
		action := deal.ActionRelease
		for _, other := range others {
			if other.ID != p.ID && other.Status == model.PaymentPending {
				action = deal.ActionReleasePartial
				break
			}
		}
		if statusChanged, err = deal.Transition(d, action); err != nil {
			return err
		}

		payerWallet, err := tx.WalletByOwner(p.PayerOrgID, p.Currency)
		if store.IsNotFound(err) {
			return apperr.New(apperr.KindInsufficientBlocked, "release_payment", model.EntityWallet,
				model.WalletOwner(p.PayerOrgID, p.Currency), "", "payer wallet does not exist")
		}
		if err != nil {
			return err
		}
		payeeWallet, err := o.ledger.EnsureWalletTx(tx, p.PayeeOrgID, p.Currency)
		if err != nil {
			return err
		}
		if err := escrow.Settle(payerWallet, payeeWallet, p.Amount); err != nil {
			return err
		}

		now := o.now()
		payerWallet.UpdatedAt = now
		payeeWallet.UpdatedAt = now
		d.UpdatedAt = now
		p.Status = model.PaymentCompleted
		p.CompletedAt = &now

		for _, put := range []func() error{
			func() error { return tx.PutWallet(payerWallet) },
			func() error { return tx.PutWallet(payeeWallet) },
			func() error { return tx.PutPayment(p) },
			func() error { return tx.PutDeal(d) },
		} {
			if err := put(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	amount, _ := p.Amount.Float64()
	metrics.AddEscrow(p.Currency.String(), "released", amount)

	parties := []string{p.PayerOrgID, p.PayeeOrgID}
	o.emit(ctx, model.NewTradeEvent(model.EntityPayment, p.ID, "payment.released", p, parties...))
	if statusChanged {
		o.emit(ctx, model.NewTradeEvent(model.EntityDeal, d.ID, "deal.status_changed", d, parties...))
	}
	o.logger.Info("orchestrator.payment_released",
		zap.String("payment_id", p.ID),
		zap.String("deal_id", p.DealID),
		zap.String("deal_status", string(d.Status)))
	return p, nil
}

// Deposit tops up the available balance of an organization's wallet.
func (o *Orchestrator) Deposit(ctx context.Context, orgID string, currency model.Currency, amount decimal.Decimal) (w *model.Wallet, err error) {
	start := time.Now()
	defer func() {
		o.observe("deposit", start, err, zap.String("org", orgID), zap.String("currency", currency.String()))
	}()

	if orgID == "" {
		return nil, apperr.Validation("org id is required")
	}
	if !currency.Valid() {
		return nil, apperr.Validation("unsupported currency %q", currency)
	}
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be > 0")
	}

	err = o.store.Atomically(ctx, []string{store.WalletKey(orgID, currency)}, func(tx *store.Tx) error {
		var err error
		w, err = o.ledger.EnsureWalletTx(tx, orgID, currency)
		if err != nil {
			return err
		}
		if err := escrow.Credit(w, amount); err != nil {
			return err
		}
		w.UpdatedAt = o.now()
		return tx.PutWallet(w)
	})
	if err != nil {
		return nil, err
	}

	f, _ := amount.Float64()
	metrics.AddEscrow(currency.String(), "deposited", f)
	o.emit(ctx, model.NewTradeEvent(model.EntityWallet, w.ID, "wallet.deposited", w, orgID))
	return w, nil
}

func rfqCounterparty(rfq *model.RFQ, orgID string) (string, bool) {
	switch orgID {
	case rfq.BuyerOrgID:
		return rfq.SupplierOrgID, rfq.SupplierOrgID != ""
	case rfq.SupplierOrgID:
		return rfq.BuyerOrgID, true
	default:
		return "", false
	}
}
