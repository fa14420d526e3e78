package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"nftdiarias/src/db"
	"nftdiarias/src/lib/chain"
)

type Kind string

const (
	KindInvalidInput     Kind = "InvalidInput"
	KindForbidden        Kind = "Forbidden"
	KindNotFound         Kind = "NotFound"
	KindPropertyNotFound Kind = "PropertyNotFound"
	KindConflict         Kind = "Conflict"
	KindTransient        Kind = "Transient"
	KindChainUnavailable Kind = "ChainUnavailable"
	KindRejected         Kind = "Rejected"
	KindUnconfigured     Kind = "Unconfigured"
	KindInternal         Kind = "Internal"
)

// Error is the only error type the Manager returns. Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Message string
	TxHash  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. A target with a Message also
// requires an equal message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrInvalidInput   = &Error{Kind: KindInvalidInput}
	ErrForbidden      = &Error{Kind: KindForbidden}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrTransient      = &Error{Kind: KindTransient}
	ErrRejected       = &Error{Kind: KindRejected}
	ErrAlreadyApplied = &Error{Kind: KindConflict, Message: "transition already applied"}
)

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause, TxHash: chain.TxHashOf(cause)}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// fromChain maps an adapter failure. A revert on mint means the contract
// re-validated availability and refused, which callers see as a conflict.
func fromChain(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, chain.ErrInvalidInput):
		return newError(KindInvalidInput, "invalid chain call arguments", err)
	case errors.Is(err, chain.ErrNoCustody):
		return newError(KindForbidden, "no custodial signer for caller", err)
	case errors.Is(err, chain.ErrPropertyNotFound):
		return newError(KindPropertyNotFound, "property not found", err)
	case errors.Is(err, chain.ErrReverted):
		if op == "mint" {
			return newError(KindConflict, "reservation period was rejected by the contract", err)
		}
		return newError(KindRejected, "transaction reverted", err)
	case errors.Is(err, chain.ErrTimeout):
		return newError(KindTransient, "transaction not confirmed in time; check status before retrying", err)
	case errors.Is(err, chain.ErrChainUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return newError(KindTransient, "chain unavailable", err)
	}
	return newError(KindInternal, "unexpected chain failure", err)
}

func fromStore(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, db.ErrNotFound):
		return newError(KindNotFound, "reservation not found", err)
	case errors.Is(err, db.ErrDuplicate):
		return newError(KindConflict, "reservation already recorded", err)
	case errors.Is(err, db.ErrStaleStatus):
		return newError(KindConflict, "reservation status changed concurrently", err)
	}
	return newError(KindTransient, "record store unavailable", err)
}

// ChainError maps a contract read or write made outside a Manager operation.
func ChainError(op string, err error) error {
	return fromChain(op, err)
}

// StoreError maps a mirror failure made outside a Manager operation.
func StoreError(err error) error {
	return fromStore(err)
}
