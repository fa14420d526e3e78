package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrChainUnavailable = errors.New("chain unavailable")
	ErrReverted         = errors.New("transaction reverted")
	ErrTimeout          = errors.New("transaction not confirmed in time")
	ErrPropertyNotFound = errors.New("property not found")
	ErrNoCustody        = errors.New("no custodial key for address")
)

// TxError carries the hash of a submitted transaction alongside the failure.
type TxError struct {
	Method string
	TxHash string
	Err    error
}

func (e *TxError) Error() string {
	if e.TxHash == "" {
		return fmt.Sprintf("%s: %s", e.Method, e.Err.Error())
	}
	return fmt.Sprintf("%s (tx %s): %s", e.Method, e.TxHash, e.Err.Error())
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// TxHashOf returns the transaction hash attached to err, if any.
func TxHashOf(err error) string {
	var txErr *TxError
	if errors.As(err, &txErr) {
		return txErr.TxHash
	}
	return ""
}

func isRevert(err error) bool {
	if err == nil {
		return false
	}
	var de rpc.DataError
	if errors.As(err, &de) && de.ErrorData() != nil {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}

func classify(method string, err error) error {
	if isRevert(err) {
		return &TxError{Method: method, Err: fmt.Errorf("%w: %w", ErrReverted, err)}
	}
	return &TxError{Method: method, Err: fmt.Errorf("%w: %w", ErrChainUnavailable, err)}
}
