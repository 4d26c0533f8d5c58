// Package apperr defines the closed set of failures the trade core reports.
// Every failure carries a stable Kind plus the entity context it was raised for.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable, transport-independent failure code.
type Kind string

const (
	KindNotFound                   Kind = "not_found"
	KindValidation                 Kind = "validation"
	KindConflict                   Kind = "conflict"
	KindInsufficientFunds          Kind = "insufficient_funds"
	KindInsufficientBlocked        Kind = "insufficient_blocked"
	KindInvalidState               Kind = "invalid_state"
	KindInvalidDealStateForPayment Kind = "invalid_deal_state_for_payment"
	KindInvalidDealStateForRelease Kind = "invalid_deal_state_for_release"
	KindForbidden                  Kind = "forbidden"
	KindUnauthorized               Kind = "unauthorized"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrNotFound                   = &Error{Kind: KindNotFound}
	ErrValidation                 = &Error{Kind: KindValidation}
	ErrConflict                   = &Error{Kind: KindConflict}
	ErrInsufficientFunds          = &Error{Kind: KindInsufficientFunds}
	ErrInsufficientBlocked        = &Error{Kind: KindInsufficientBlocked}
	ErrInvalidState               = &Error{Kind: KindInvalidState}
	ErrInvalidDealStateForPayment = &Error{Kind: KindInvalidDealStateForPayment}
	ErrInvalidDealStateForRelease = &Error{Kind: KindInvalidDealStateForRelease}
	ErrForbidden                  = &Error{Kind: KindForbidden}
	ErrUnauthorized               = &Error{Kind: KindUnauthorized}
)

// Error is a typed failure with structured context.
type Error struct {
	Kind   Kind
	Op     string // attempted operation, e.g. "accept_offer"
	Entity string // entity type, e.g. "offer"
	ID     string // entity id
	Status string // current status of the entity, when relevant
	Msg    string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" [")
		b.WriteString(e.Op)
		b.WriteString("]")
	}
	if e.Entity != "" {
		fmt.Fprintf(&b, " %s", e.Entity)
		if e.ID != "" {
			fmt.Fprintf(&b, " %s", e.ID)
		}
	}
	if e.Status != "" {
		fmt.Fprintf(&b, " (status=%s)", e.Status)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NotFound reports an unknown entity id.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Msg: entity + " not found"}
}

// Validation reports malformed input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Conflict reports an operation that is illegal in the entity's current status.
func Conflict(op, entity, id, status, msg string) *Error {
	return &Error{Kind: KindConflict, Op: op, Entity: entity, ID: id, Status: status, Msg: msg}
}

// Forbidden reports a caller that is not allowed to act on the entity.
func Forbidden(op, entity, id, msg string) *Error {
	return &Error{Kind: KindForbidden, Op: op, Entity: entity, ID: id, Msg: msg}
}

// New builds an error of an arbitrary kind.
func New(kind Kind, op, entity, id, status, msg string) *Error {
	return &Error{Kind: kind, Op: op, Entity: entity, ID: id, Status: status, Msg: msg}
}
