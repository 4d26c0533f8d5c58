// Package orchestrator coordinates the multi-entity trade transitions: offer
// acceptance and the escrow payment cycle. It is the only writer of orders,
// deals and wallet balances.
package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/internal/escrow"
	"github.com/Checker-Finance/trade-escrow/internal/metrics"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/eventbus"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// FXLookup resolves quotes referenced by payments and display rates.
type FXLookup interface {
	Lookup(ctx context.Context, quoteID string) (*model.FXQuote, error)
	Rate(ctx context.Context, from, to model.Currency) (decimal.Decimal, error)
}

// Orchestrator runs the trade transitions that span several aggregates.
type Orchestrator struct {
	store  *store.Store
	ledger *escrow.Ledger
	fx     FXLookup
	sink   eventbus.Sink
	logger *zap.Logger
	now    func() time.Time
}

// New wires an orchestrator. fx may be nil, in which case payments cannot
// reference FX quotes and deal views carry no display conversion.
func New(st *store.Store, ledger *escrow.Ledger, fx FXLookup, sink eventbus.Sink, logger *zap.Logger) *Orchestrator {
	if sink == nil {
		sink = eventbus.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:  st,
		ledger: ledger,
		fx:     fx,
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// observe records the outcome of one operation.
func (o *Orchestrator) observe(op string, start time.Time, err error, fields ...zap.Field) {
	metrics.ObserveDuration(metrics.OperationDuration, start, op)
	if err == nil {
		metrics.IncOperation(op, "ok")
		return
	}
	kind := string(apperr.KindOf(err))
	if kind == "" {
		kind = "internal"
		o.logger.Error("orchestrator."+op+".failed", append(fields, zap.Error(err))...)
	} else {
		o.logger.Warn("orchestrator."+op+".rejected", append(fields, zap.Error(err))...)
	}
	metrics.IncOperation(op, kind)
}

func (o *Orchestrator) emit(ctx context.Context, events ...model.TradeEvent) {
	for _, ev := range events {
		o.sink.Emit(ctx, ev)
	}
}
