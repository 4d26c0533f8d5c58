package deal

import (
	"fmt"

	"github.com/Checker-Finance/trade-escrow/internal/apperr"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
)

// Action is a ledger or lifecycle event that can move a deal's status.
type Action string

const (
	// ActionFund is a successful escrow payment.
	ActionFund Action = "fund"
	// ActionReleasePartial is a release that leaves other payments pending on the deal.
	ActionReleasePartial Action = "release_partial"
	// ActionRelease is the release of the deal's last pending payment.
	ActionRelease Action = "release"
	// ActionClose is the external close of a fully paid deal.
	ActionClose Action = "close"
)

var transitions = map[Action]map[model.DealStatus]model.DealStatus{
	ActionFund: {
		model.DealOrdered:       model.DealPaidPartially,
		model.DealPaidPartially: model.DealPaidPartially,
	},
	ActionReleasePartial: {
		model.DealPaidPartially: model.DealPaidPartially,
		model.DealPaid:          model.DealPaid,
	},
	ActionRelease: {
		model.DealPaidPartially: model.DealPaid,
		model.DealPaid:          model.DealPaid,
	},
	ActionClose: {
		model.DealPaid: model.DealClosed,
	},
}

// Next is the single authority on deal status changes. It returns the status
// that follows from applying a to a deal currently in from.
func Next(from model.DealStatus, a Action) (model.DealStatus, error) {
	row, ok := transitions[a]
	if !ok {
		return "", fmt.Errorf("deal: unknown action %q", a)
	}
	if to, ok := row[from]; ok {
		return to, nil
	}

	switch a {
	case ActionFund:
		return "", &apperr.Error{Kind: apperr.KindInvalidDealStateForPayment, Op: "create_payment",
			Entity: model.EntityDeal, Status: string(from), Msg: "deal does not accept payments in this status"}
	case ActionClose:
		return "", &apperr.Error{Kind: apperr.KindConflict, Op: "close_deal",
			Entity: model.EntityDeal, Status: string(from), Msg: "only paid deals can be closed"}
	default:
		return "", &apperr.Error{Kind: apperr.KindInvalidDealStateForRelease, Op: "release_payment",
			Entity: model.EntityDeal, Status: string(from), Msg: "deal does not allow releases in this status"}
	}
}

// Transition applies a to d in place and stamps the error with the deal id.
func Transition(d *model.Deal, a Action) (changed bool, err error) {
	to, err := Next(d.Status, a)
	if err != nil {
		if ae, ok := err.(*apperr.Error); ok {
			ae.ID = d.ID
		}
		return false, err
	}
	changed = to != d.Status
	d.Status = to
	return changed, nil
}
