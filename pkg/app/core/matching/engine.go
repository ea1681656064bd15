package matching

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
	"github.com/uhyunpark/papertrade/pkg/util"
)

// Engine runs price-time matching over one order book.
//
// A matching pass holds its symbol's lock from the first cross check until
// the remainder is rested, so passes on one symbol never interleave.
// Passes on different symbols run in parallel and meet only on account
// locks, which the settler takes in a fixed order.
type Engine struct {
	book    *orderbook.OrderBook
	settler *Settler
	store   Store
	clock   util.Clock
	log     *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(store Store, accounts *account.Manager, clock util.Clock, log *zap.Logger) *Engine {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		book:    orderbook.NewOrderBook(),
		settler: NewSettler(store, accounts, clock, log),
		store:   store,
		clock:   clock,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockSymbol(symbol string) func() {
	e.mu.Lock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Match runs one pass for the incoming order o and rests what is left of
// it. o must not already be in the book.
//
// ctx is only checked before the pass starts; a pass in flight always runs
// to completion. A pairing the buyer cannot pay for halts the scan and is
// reported in Result.Skips. A storage failure halts the scan, rests the
// remainder and returns a *PersistenceError; trades settled before it stand.
func (e *Engine) Match(ctx context.Context, o *orderbook.Order) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	unlock := e.lockSymbol(o.Symbol)
	defer unlock()

	var res Result
	var passErr error
	opposite := o.Side.Opposite()

	for o.Quantity > 0 {
		resting, ok := e.best(o.Symbol, opposite)
		if !ok || !o.Crosses(resting) {
			break
		}

		qty := min(o.Quantity, resting.Quantity)
		buy, sell := o, resting
		if o.Side == orderbook.Sell {
			buy, sell = resting, o
		}

		trade, err := e.settler.Settle(buy, sell, qty, resting.Price, o.Side)
		if err != nil {
			var fe *FundsError
			if errors.As(err, &fe) {
				skip := Skip{
					Symbol:      o.Symbol,
					BuyOrderID:  buy.ID,
					SellOrderID: sell.ID,
					Buyer:       buy.Owner,
					Quantity:    qty,
					Price:       resting.Price,
					Required:    fe.Required,
					Available:   fe.Available,
				}
				res.Skips = append(res.Skips, skip)
				e.log.Warn("trade_skipped",
					zap.String("symbol", o.Symbol),
					zap.String("buyer", buy.Owner.String()),
					zap.Uint64("buy_order", buy.ID),
					zap.Uint64("sell_order", sell.ID),
					zap.String("required", fe.Required.StringFixed(2)),
					zap.String("available", fe.Available.StringFixed(2)))
				break
			}
			passErr = err
			break
		}

		res.Trades = append(res.Trades, trade)
		if resting.Quantity == 0 {
			e.book.Remove(resting.ID)
		}
	}

	if o.Quantity > 0 && o.Status.Open() {
		e.book.Insert(o)
		res.Rested = true
	}
	res.Order = o.Clone()
	return res, passErr
}

func (e *Engine) best(symbol string, side orderbook.Side) (*orderbook.Order, bool) {
	if side == orderbook.Buy {
		return e.book.BestBid(symbol)
	}
	return e.book.BestAsk(symbol)
}

// Cancel marks a pending order of owner as canceled and pulls it from the
// book. Orders that already traded, were canceled, or belong to someone
// else give ErrNotFound.
func (e *Engine) Cancel(owner account.Ref, id uint64) (*orderbook.Order, error) {
	stored, err := e.store.LoadOrder(owner, id)
	if err != nil {
		return nil, &PersistenceError{Op: "load order", Err: err}
	}
	if stored == nil {
		return nil, ErrNotFound
	}

	unlock := e.lockSymbol(stored.Symbol)
	defer unlock()

	cur := stored
	live, resting := e.book.Get(id)
	if resting {
		cur = live
	} else {
		// a pass may have settled it between the first load and the lock
		if cur, err = e.store.LoadOrder(owner, id); err != nil {
			return nil, &PersistenceError{Op: "load order", Err: err}
		}
		if cur == nil {
			return nil, ErrNotFound
		}
	}
	if cur.Owner != owner || cur.Status != orderbook.Pending {
		return nil, ErrNotFound
	}

	canceled := cur.Clone()
	canceled.Status = orderbook.Canceled
	if err := e.store.SaveOrder(canceled); err != nil {
		return nil, &PersistenceError{Op: "cancel order", Err: err}
	}
	if resting {
		e.book.Remove(id)
		live.Status = orderbook.Canceled
	}
	return canceled, nil
}

// BestBid returns a copy of the best resting buy.
func (e *Engine) BestBid(symbol string) (*orderbook.Order, bool) {
	unlock := e.lockSymbol(symbol)
	defer unlock()
	o, ok := e.book.BestBid(symbol)
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// BestAsk returns a copy of the best resting sell.
func (e *Engine) BestAsk(symbol string) (*orderbook.Order, bool) {
	unlock := e.lockSymbol(symbol)
	defer unlock()
	o, ok := e.book.BestAsk(symbol)
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (e *Engine) Snapshot(symbol string) BookSnapshot {
	unlock := e.lockSymbol(symbol)
	defer unlock()

	snap := BookSnapshot{
		Symbol:    symbol,
		Bids:      cloneAll(e.book.SideOrders(symbol, orderbook.Buy)),
		Asks:      cloneAll(e.book.SideOrders(symbol, orderbook.Sell)),
		BidLevels: e.book.Levels(symbol, orderbook.Buy),
		AskLevels: e.book.Levels(symbol, orderbook.Sell),
		TakenAt:   e.clock.Now().UTC(),
	}
	snap.Hash = levelsHash(symbol, snap.BidLevels, snap.AskLevels)
	return snap
}

// Resting returns a copy of the order with this id if it is in the book.
func (e *Engine) Resting(id uint64) (*orderbook.Order, bool) {
	o, ok := e.book.Get(id)
	if !ok {
		return nil, false
	}
	unlock := e.lockSymbol(o.Symbol)
	defer unlock()
	if o, ok = e.book.Get(id); !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (e *Engine) Symbols() []string { return e.book.Symbols() }

func cloneAll(orders []*orderbook.Order) []*orderbook.Order {
	out := make([]*orderbook.Order, len(orders))
	for i, o := range orders {
		out[i] = o.Clone()
	}
	return out
}
