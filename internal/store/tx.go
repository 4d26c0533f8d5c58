package store

import (
	"context"
	"errors"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// Tx stages writes for Store.Atomically. Reads observe the transaction's own
// staged writes first. A Tx must not be used after its callback returns.
type Tx struct {
	ctx    context.Context
	store  *Store
	staged map[string]Document
	order  []string
}

func stageKey(kind, id string) string { return kind + "/" + id }

// Context returns the context the transaction was started with.
func (tx *Tx) Context() context.Context { return tx.ctx }

func (tx *Tx) put(v any) error {
	d, err := documentOf(v)
	if err != nil {
		return err
	}
	k := stageKey(d.Kind, d.ID)
	if _, ok := tx.staged[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.staged[k] = d
	return nil
}

func txGet[T any](tx *Tx, kind, id string) (*T, error) {
	if d, ok := tx.staged[stageKey(kind, id)]; ok {
		return decode[T](kind, id, d.Data)
	}
	return get[T](tx.ctx, tx.store.backend, kind, id)
}

func (tx *Tx) PutRFQ(r *model.RFQ) error         { return tx.put(r) }
func (tx *Tx) PutOffer(o *model.Offer) error     { return tx.put(o) }
func (tx *Tx) PutOrder(o *model.Order) error     { return tx.put(o) }
func (tx *Tx) PutDeal(d *model.Deal) error       { return tx.put(d) }
func (tx *Tx) PutWallet(w *model.Wallet) error   { return tx.put(w) }
func (tx *Tx) PutPayment(p *model.Payment) error { return tx.put(p) }

func (tx *Tx) GetRFQ(id string) (*model.RFQ, error) { return txGet[model.RFQ](tx, KindRFQ, id) }
func (tx *Tx) GetOffer(id string) (*model.Offer, error) {
	return txGet[model.Offer](tx, KindOffer, id)
}
func (tx *Tx) GetOrder(id string) (*model.Order, error) {
	return txGet[model.Order](tx, KindOrder, id)
}
func (tx *Tx) GetDeal(id string) (*model.Deal, error) { return txGet[model.Deal](tx, KindDeal, id) }
func (tx *Tx) GetPayment(id string) (*model.Payment, error) {
	return txGet[model.Payment](tx, KindPayment, id)
}

// WalletByOwner resolves (orgID, currency), preferring a wallet staged in this transaction.
func (tx *Tx) WalletByOwner(orgID string, currency model.Currency) (*model.Wallet, error) {
	owner := model.WalletOwner(orgID, currency)
	for _, k := range tx.order {
		d := tx.staged[k]
		if d.Kind == KindWallet && d.Index[FieldOwner] == owner {
			return decode[model.Wallet](KindWallet, d.ID, d.Data)
		}
	}
	w, err := tx.store.WalletByOwner(tx.ctx, orgID, currency)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// PaymentsByDeal lists a deal's payments with staged writes applied.
func (tx *Tx) PaymentsByDeal(dealID string) ([]model.Payment, error) {
	persisted, err := list[model.Payment](tx.ctx, tx.store.backend, KindPayment, FieldDeal, dealID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Payment, 0, len(persisted))
	for _, p := range persisted {
		if _, ok := tx.staged[stageKey(KindPayment, p.ID)]; ok {
			continue
		}
		out = append(out, p)
	}
	for _, k := range tx.order {
		d := tx.staged[k]
		if d.Kind != KindPayment || d.Index[FieldDeal] != dealID {
			continue
		}
		p, err := decode[model.Payment](KindPayment, d.ID, d.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// IsNotFound reports whether err is a missing-entity failure.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
