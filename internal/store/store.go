package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// Document kinds.
const (
	KindRFQ     = "rfq"
	KindOffer   = "offer"
	KindOrder   = "order"
	KindDeal    = "deal"
	KindWallet  = "wallet"
	KindPayment = "payment"
)

// Secondary index fields.
const (
	FieldBuyer    = "buyer_org_id"
	FieldSupplier = "supplier_org_id"
	FieldRFQ      = "rfq_id"
	FieldOffer    = "offer_id"
	FieldOrder    = "order_id"
	FieldDeal     = "deal_id"
	FieldOrg      = "org_id"
	FieldOwner    = "owner"
	FieldPayer    = "payer_org_id"
	FieldPayee    = "payee_org_id"
)

// Lock keys. Any mutation of an entity must hold its key.
func RFQKey(id string) string     { return "rfq:" + id }
func OfferKey(id string) string   { return "offer:" + id }
func DealKey(id string) string    { return "deal:" + id }
func PaymentKey(id string) string { return "payment:" + id }
func WalletKey(orgID string, currency model.Currency) string {
	return "wallet:" + model.WalletOwner(orgID, currency)
}

// Store is the typed entity repository shared by every trade component.
type Store struct {
	backend Backend
	locks   *Locker
	logger  *zap.Logger
}

// New wraps a backend. A nil logger is replaced with a no-op logger.
func New(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, locks: NewLocker(), logger: logger}
}

// NewMemory returns a store over a fresh in-memory backend.
func NewMemory(logger *zap.Logger) *Store {
	return New(NewMemoryBackend(), logger)
}

func (s *Store) HealthCheck(ctx context.Context) error { return s.backend.HealthCheck(ctx) }
func (s *Store) Close() error                          { return s.backend.Close() }

// Atomically locks keys, runs fn against a staging transaction and commits every
// staged write in a single backend call. Nothing is written when fn fails.
func (s *Store) Atomically(ctx context.Context, keys []string, fn func(tx *Tx) error) error {
	release, err := s.locks.Acquire(ctx, keys...)
	if err != nil {
		return fmt.Errorf("acquire locks: %w", err)
	}
	defer release()

	tx := &Tx{ctx: ctx, store: s, staged: make(map[string]Document)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.order) == 0 {
		return nil
	}

	docs := make([]Document, 0, len(tx.order))
	for _, k := range tx.order {
		docs = append(docs, tx.staged[k])
	}
	start := time.Now()
	if err := s.backend.Commit(ctx, docs); err != nil {
		s.logger.Error("store.commit.failed", zap.Int("docs", len(docs)), zap.Error(err))
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("store.commit.ok",
		zap.Int("docs", len(docs)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// --- document mapping ---

func documentOf(v any) (Document, error) {
	var d Document
	switch e := v.(type) {
	case *model.RFQ:
		d = Document{Kind: KindRFQ, ID: e.ID, Index: map[string]string{
			FieldBuyer: e.BuyerOrgID, FieldSupplier: e.SupplierOrgID,
		}}
	case *model.Offer:
		d = Document{Kind: KindOffer, ID: e.ID, Index: map[string]string{
			FieldRFQ: e.RFQID, FieldSupplier: e.SupplierOrgID,
		}}
	case *model.Order:
		d = Document{Kind: KindOrder, ID: e.ID, Index: map[string]string{
			FieldBuyer: e.BuyerOrgID, FieldSupplier: e.SupplierOrgID, FieldOffer: e.OfferID,
		}}
	case *model.Deal:
		d = Document{Kind: KindDeal, ID: e.ID, Index: map[string]string{
			FieldBuyer: e.BuyerOrgID, FieldSupplier: e.SupplierOrgID,
			FieldRFQ: e.RFQID, FieldOrder: e.OrderID,
		}}
	case *model.Wallet:
		d = Document{Kind: KindWallet, ID: e.ID, Index: map[string]string{
			FieldOrg: e.OrgID, FieldOwner: model.WalletOwner(e.OrgID, e.Currency),
		}}
	case *model.Payment:
		d = Document{Kind: KindPayment, ID: e.ID, Index: map[string]string{
			FieldDeal: e.DealID, FieldPayer: e.PayerOrgID, FieldPayee: e.PayeeOrgID,
		}}
	default:
		return Document{}, fmt.Errorf("store: unsupported entity %T", v)
	}
	if d.ID == "" {
		return Document{}, fmt.Errorf("store: %s without id", d.Kind)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("encode %s %s: %w", d.Kind, d.ID, err)
	}
	d.Data = data
	return d, nil
}

func decode[T any](kind, id string, data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return &v, nil
}

func get[T any](ctx context.Context, b Backend, kind, id string) (*T, error) {
	data, err := b.Get(ctx, kind, id)
	if errors.Is(err, ErrNoDocument) {
		return nil, apperr.NotFound(kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return decode[T](kind, id, data)
}

func list[T any](ctx context.Context, b Backend, kind, field, value string) ([]T, error) {
	raw, err := b.List(ctx, kind, field, value)
	if err != nil {
		return nil, fmt.Errorf("list %s by %s: %w", kind, field, err)
	}
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		v, err := decode[T](kind, "", data)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// --- reads ---

func (s *Store) GetRFQ(ctx context.Context, id string) (*model.RFQ, error) {
	return get[model.RFQ](ctx, s.backend, KindRFQ, id)
}

func (s *Store) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	return get[model.Offer](ctx, s.backend, KindOffer, id)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return get[model.Order](ctx, s.backend, KindOrder, id)
}

func (s *Store) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	return get[model.Deal](ctx, s.backend, KindDeal, id)
}

func (s *Store) GetWallet(ctx context.Context, id string) (*model.Wallet, error) {
	return get[model.Wallet](ctx, s.backend, KindWallet, id)
}

func (s *Store) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	return get[model.Payment](ctx, s.backend, KindPayment, id)
}

// ListRFQs returns RFQs whose field equals value, oldest first. An empty field lists all.
func (s *Store) ListRFQs(ctx context.Context, field, value string) ([]model.RFQ, error) {
	out, err := list[model.RFQ](ctx, s.backend, KindRFQ, field, value)
	sort.SliceStable(out, func(i, j int) bool { return before(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, err
}

func (s *Store) ListOffers(ctx context.Context, field, value string) ([]model.Offer, error) {
	out, err := list[model.Offer](ctx, s.backend, KindOffer, field, value)
	sort.SliceStable(out, func(i, j int) bool { return before(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, err
}

func (s *Store) ListOrders(ctx context.Context, field, value string) ([]model.Order, error) {
	out, err := list[model.Order](ctx, s.backend, KindOrder, field, value)
	sort.SliceStable(out, func(i, j int) bool { return before(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, err
}

func (s *Store) ListDeals(ctx context.Context, field, value string) ([]model.Deal, error) {
	out, err := list[model.Deal](ctx, s.backend, KindDeal, field, value)
	sort.SliceStable(out, func(i, j int) bool { return before(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, err
}

func (s *Store) ListWallets(ctx context.Context, field, value string) ([]model.Wallet, error) {
	out, err := list[model.Wallet](ctx, s.backend, KindWallet, field, value)
	sort.SliceStable(out, func(i, j int) bool { return before(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, err
}

func (s *Store) ListPayments(ctx context.Context, field, value string) ([]model.Payment, error) {
	out, err := list[model.Payment](ctx, s.backend, KindPayment, field, value)
	sort.SliceStable(out, func(i, j int) bool { return before(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, err
}

// WalletByOwner returns the wallet for (orgID, currency) or NotFound.
func (s *Store) WalletByOwner(ctx context.Context, orgID string, currency model.Currency) (*model.Wallet, error) {
	owner := model.WalletOwner(orgID, currency)
	ws, err := list[model.Wallet](ctx, s.backend, KindWallet, FieldOwner, owner)
	if err != nil {
		return nil, err
	}
	if len(ws) == 0 {
		return nil, apperr.NotFound(KindWallet, owner)
	}
	return &ws[0], nil
}

func before(ta time.Time, ida string, tb time.Time, idb string) bool {
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return ida < idb
}
