package api

import (
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
)

// ==============================
// REST Request/Response Types
// ==============================

// SubmitOrderRequest is the body of POST /api/orders. Price accepts a JSON
// number or a decimal string.
type SubmitOrderRequest struct {
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Direction string          `json:"direction"`
	Type      string          `json:"type,omitempty"`
}

// OrderbookResponse is the aggregated book for one symbol.
type OrderbookResponse struct {
	Symbol    string                 `json:"symbol"`
	Bids      []orderbook.PriceLevel `json:"bids"` // best (highest) first
	Asks      []orderbook.PriceLevel `json:"asks"` // best (lowest) first
	Hash      string                 `json:"hash"`
	Timestamp int64                  `json:"timestamp"` // unix millis
}

func newOrderbookResponse(snap matching.BookSnapshot) OrderbookResponse {
	bids, asks := snap.BidLevels, snap.AskLevels
	if bids == nil {
		bids = []orderbook.PriceLevel{}
	}
	if asks == nil {
		asks = []orderbook.PriceLevel{}
	}
	return OrderbookResponse{
		Symbol:    snap.Symbol,
		Bids:      bids,
		Asks:      asks,
		Hash:      snap.Hash,
		Timestamp: snap.TakenAt.UnixMilli(),
	}
}

func bookPayload(p any) (matching.BookSnapshot, bool) {
	switch v := p.(type) {
	case matching.BookSnapshot:
		return v, true
	case *matching.BookSnapshot:
		if v != nil {
			return *v, true
		}
	}
	return matching.BookSnapshot{}, false
}

// BBOResponse is the best bid and offer. A missing side is null.
type BBOResponse struct {
	Symbol string           `json:"symbol"`
	Bid    *orderbook.Order `json:"bid"`
	Ask    *orderbook.Order `json:"ask"`
	Spread *decimal.Decimal `json:"spread,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients: {"op":"subscribe","channels":["trades:NVDA"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSMessage is every server-to-client frame.
type WSMessage struct {
	Type      string `json:"type"` // subscribed, unsubscribed, orderbook, trade, order, trade_skipped, error
	Channel   string `json:"channel,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
