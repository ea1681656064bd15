package exchange

import (
	"fmt"

	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
)

// ValidationError rejects a malformed order before anything is stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type PersistenceError = matching.PersistenceError

var (
	ErrNotFound          = matching.ErrNotFound
	ErrInsufficientFunds = matching.ErrInsufficientFunds
)
