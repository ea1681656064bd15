package matching

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
)

// Trade is one executed pairing. Price is always the resting order's price.
type Trade struct {
	ID          uint64          `json:"id"`
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	BuyOrderID  uint64          `json:"buyOrderId"`
	SellOrderID uint64          `json:"sellOrderId"`
	Buyer       account.Ref     `json:"buyer"`
	Seller      account.Ref     `json:"seller"`
	TakerSide   orderbook.Side  `json:"takerSide"`
	ExecutedAt  time.Time       `json:"executedAt"`
}

func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// Skip is a pairing that was not executed because the buyer could not pay.
type Skip struct {
	Symbol      string          `json:"symbol"`
	BuyOrderID  uint64          `json:"buyOrderId"`
	SellOrderID uint64          `json:"sellOrderId"`
	Buyer       account.Ref     `json:"buyer"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Required    decimal.Decimal `json:"required"`
	Available   decimal.Decimal `json:"available"`
}

// Result describes one matching pass for an incoming order.
type Result struct {
	// Order is the incoming order as it stood when the pass ended.
	Order  *orderbook.Order `json:"order"`
	Trades []*Trade         `json:"trades"`
	Skips  []Skip           `json:"skips,omitempty"`
	Rested bool             `json:"rested"`
}

func (r Result) Filled() int64 {
	var n int64
	for _, t := range r.Trades {
		n += t.Quantity
	}
	return n
}

// BookSnapshot is a point-in-time copy of one symbol's book.
type BookSnapshot struct {
	Symbol    string                 `json:"symbol"`
	Bids      []*orderbook.Order     `json:"bids"`
	Asks      []*orderbook.Order     `json:"asks"`
	BidLevels []orderbook.PriceLevel `json:"bidLevels"`
	AskLevels []orderbook.PriceLevel `json:"askLevels"`
	Hash      string                 `json:"hash"`
	TakenAt   time.Time              `json:"takenAt"`
}

// levelsHash digests the aggregated levels so clients can tell whether the
// book changed between two snapshots.
func levelsHash(symbol string, bids, asks []orderbook.PriceLevel) string {
	h := sha256.New()
	h.Write([]byte(symbol))
	for _, side := range [][]orderbook.PriceLevel{bids, asks} {
		h.Write([]byte{'|'})
		for _, l := range side {
			h.Write([]byte(l.Price.String()))
			h.Write([]byte{':'})
			h.Write([]byte(strconv.FormatInt(l.Quantity, 10)))
			h.Write([]byte{';'})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
