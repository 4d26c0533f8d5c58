package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/escrow"
	"github.com/Checker-Finance/trade-escrow/internal/metrics"
	"github.com/Checker-Finance/trade-escrow/pkg/eventbus"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// Auditor is the part of escrow.Ledger the job needs.
type Auditor interface {
	Audit(ctx context.Context) ([]escrow.Violation, error)
}

// LedgerAuditor periodically checks wallet invariants and raises a
// ledger.audit_failed event when any wallet breaks them.
type LedgerAuditor struct {
	logger   *zap.Logger
	ledger   Auditor
	sink     eventbus.Sink
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewLedgerAuditor constructs the background job.
func NewLedgerAuditor(logger *zap.Logger, ledger Auditor, sink eventbus.Sink, interval time.Duration) *LedgerAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = eventbus.Nop{}
	}
	return &LedgerAuditor{
		logger:   logger,
		ledger:   ledger,
		sink:     sink,
		interval: interval,
		stopCh:   make(chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the audit loop until Stop is called or ctx is cancelled.
func (a *LedgerAuditor) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("ledger_auditor.started", zap.Duration("interval", a.interval))

	for {
		select {
		case <-ticker.C:
			a.RunOnce(ctx)
		case <-a.stopCh:
			a.logger.Info("ledger_auditor.stopped", zap.String("reason", "manual stop"))
			return
		case <-ctx.Done():
			a.logger.Info("ledger_auditor.stopped", zap.String("reason", "context canceled"))
			return
		}
	}
}

// Stop halts the loop. Safe to call more than once.
func (a *LedgerAuditor) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// RunOnce executes one audit and returns what it found.
func (a *LedgerAuditor) RunOnce(ctx context.Context) []escrow.Violation {
	start := time.Now()

	violations, err := a.ledger.Audit(ctx)
	if err != nil {
		a.logger.Error("ledger_auditor.audit_failed", zap.Error(err))
		metrics.IncError("ledger_auditor", "audit_failed")
		return nil
	}
	metrics.SetLedgerAudit(len(violations), a.now())

	if len(violations) == 0 {
		a.logger.Debug("ledger_auditor.clean", zap.Duration("duration", time.Since(start)))
		return nil
	}

	for _, v := range violations {
		a.logger.Error("ledger_auditor.violation",
			zap.String("wallet_id", v.WalletID),
			zap.String("org_id", v.OrgID),
			zap.String("rule", v.Rule),
			zap.String("expected", v.Expected.String()),
			zap.String("actual", v.Actual.String()))
	}

	orgs := make([]string, 0, len(violations))
	for _, v := range violations {
		orgs = append(orgs, v.OrgID)
	}
	a.sink.Emit(ctx, model.NewTradeEvent(model.EntityLedger, "audit-"+a.now().Format(time.RFC3339), "ledger.audit_failed", violations, orgs...))
	return violations
}
