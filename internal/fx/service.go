package fx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// QuoteTTL is how long a quoted rate stays usable.
const QuoteTTL = 15 * time.Minute

// Service answers rate and quote requests on top of a RateSource.
type Service struct {
	source RateSource
	quotes QuoteStore
	logger *zap.Logger
	now    func() time.Time
}

func NewService(source RateSource, quotes QuoteStore, logger *zap.Logger) *Service {
	if source == nil {
		source = StaticRates{}
	}
	if quotes == nil {
		quotes = NewMemoryQuoteStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{source: source, quotes: quotes, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Rates returns the rate table for base.
func (s *Service) Rates(ctx context.Context, base model.Currency) (*model.FXRates, error) {
	if !base.Valid() {
		return nil, apperr.Validation("unsupported currency %q", base)
	}
	rates, err := s.source.Rates(ctx, base)
	if err != nil {
		s.logger.Warn("fx.rates.failed", zap.String("base", base.String()), zap.Error(err))
		return nil, err
	}
	return &model.FXRates{Base: base, Rates: rates, Timestamp: s.now()}, nil
}

// Rate returns how many units of to one unit of from buys. Unknown pairs fall back to 1.
func (s *Service) Rate(ctx context.Context, from, to model.Currency) (decimal.Decimal, error) {
	if !from.Valid() || !to.Valid() {
		return decimal.Zero, apperr.Validation("unsupported currency pair %s/%s", from, to)
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	rates, err := s.source.Rates(ctx, from)
	if err != nil {
		return decimal.Zero, err
	}
	rate, ok := rates[to.String()]
	if !ok || !rate.IsPositive() {
		s.logger.Warn("fx.rate.fallback",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		return decimal.NewFromInt(1), nil
	}
	return rate, nil
}

// Quote locks the current rate for QuoteTTL.
func (s *Service) Quote(ctx context.Context, from, to model.Currency, amount decimal.Decimal) (*model.FXQuote, error) {
	if amount.IsNegative() {
		return nil, apperr.Validation("amount must be >= 0")
	}
	rate, err := s.Rate(ctx, from, to)
	if err != nil {
		return nil, err
	}
	q := model.FXQuote{
		QuoteID:   uuid.NewString(),
		From:      from,
		To:        to,
		Rate:      rate,
		Amount:    amount,
		Converted: amount.Mul(rate).Round(2),
		ExpiresAt: s.now().Add(QuoteTTL),
	}
	if err := s.quotes.Put(ctx, q, QuoteTTL); err != nil {
		s.logger.Error("fx.quote.store_failed", zap.String("quote_id", q.QuoteID), zap.Error(err))
		return nil, err
	}
	s.logger.Info("fx.quote_created",
		zap.String("quote_id", q.QuoteID),
		zap.String("pair", from.String()+to.String()),
		zap.String("rate", rate.String()))
	return &q, nil
}

// Lookup returns a live quote, or NotFound once it has expired.
func (s *Service) Lookup(ctx context.Context, quoteID string) (*model.FXQuote, error) {
	q, err := s.quotes.Get(ctx, quoteID)
	if errors.Is(err, ErrQuoteNotFound) {
		return nil, apperr.NotFound("fx_quote", quoteID)
	}
	if err != nil {
		return nil, err
	}
	if q.Expired(s.now()) {
		return nil, apperr.NotFound("fx_quote", quoteID)
	}
	return q, nil
}
