package orderbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts BUY/SELL in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

type Status string

const (
	Pending         Status = "PENDING"
	PartiallyFilled Status = "PARTIALLY_FILLED"
	Filled          Status = "FILLED"
	Canceled        Status = "CANCELED"
)

// Open reports whether an order in this status may still trade.
func (s Status) Open() bool { return s == Pending || s == PartiallyFilled }

// Order is a limit order. Price, Side, Symbol, Owner and CreatedAt never
// change after submission; Quantity is the remaining unfilled amount.
type Order struct {
	ID               uint64          `json:"id"`
	Owner            account.Ref     `json:"owner"`
	Symbol           string          `json:"symbol"`
	Side             Side            `json:"direction"`
	Quantity         int64           `json:"quantity"`
	OriginalQuantity int64           `json:"originalQuantity"`
	Price            decimal.Decimal `json:"price"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// Filled returns how much of the order has traded.
func (o *Order) Filled() int64 { return o.OriginalQuantity - o.Quantity }

// Crosses reports whether o can trade against resting order r.
func (o *Order) Crosses(r *Order) bool {
	if o.Side == Buy {
		return o.Price.GreaterThanOrEqual(r.Price)
	}
	return o.Price.LessThanOrEqual(r.Price)
}

// Clone returns a copy safe to hand out of the engine.
func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}
