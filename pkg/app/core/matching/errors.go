package matching

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
)

var (
	// ErrNotFound is returned for an order that does not exist, belongs to
	// someone else, or can no longer be canceled.
	ErrNotFound = errors.New("order not found")

	ErrInsufficientFunds = errors.New("insufficient funds")
)

// PersistenceError reports a storage write or read that failed. When it
// comes out of settlement, none of the trade's effects were applied.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FundsError carries the shortfall of a buyer that could not pay for a trade.
type FundsError struct {
	Buyer     account.Ref
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("%v: account %s needs %s, has %s",
		ErrInsufficientFunds, e.Buyer, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

func (e *FundsError) Is(target error) bool { return target == ErrInsufficientFunds }
