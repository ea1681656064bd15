package matching

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
	"github.com/uhyunpark/papertrade/pkg/util"
)

// Batch is an atomic unit of work over the durable store. Nothing written
// to it is visible until Commit succeeds.
type Batch interface {
	SaveAccount(acc *account.Account) error
	SaveHolding(h *account.Holding) error
	DeleteHolding(owner, symbol string) error
	SaveOrder(o *orderbook.Order) error
	SaveTrade(t *Trade) error
	Commit() error
	Close() error
}

// Store is the persistence the engine settles into.
type Store interface {
	NewBatch() Batch
	NextID(seq string) (uint64, error)
	SaveOrder(o *orderbook.Order) error
	LoadOrder(owner account.Ref, id uint64) (*orderbook.Order, error)
}

const TradeSeq = "trade"

// Settler applies the cash, holdings and order-status effects of one trade.
type Settler struct {
	store    Store
	accounts *account.Manager
	clock    util.Clock
	log      *zap.Logger
}

func NewSettler(store Store, accounts *account.Manager, clock util.Clock, log *zap.Logger) *Settler {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Settler{store: store, accounts: accounts, clock: clock, log: log}
}

// Settle executes qty at price between buy and sell. taker is the side of
// the incoming order.
//
// The new balances, holdings, both order records and the trade are
// written in one batch. The in-memory orders are only updated after that
// batch commits, so a returned error means nothing changed anywhere. A
// buyer who cannot cover qty*price gets a *FundsError.
func (s *Settler) Settle(buy, sell *orderbook.Order, qty int64, price decimal.Decimal, taker orderbook.Side) (*Trade, error) {
	unlock := s.accounts.Lock(buy.Owner, sell.Owner)
	defer unlock()

	notional := price.Mul(decimal.NewFromInt(qty))
	w := newLedger(s.accounts)

	if !buy.Owner.IsSynthetic() {
		acc, err := w.account(buy.Owner.ID())
		if err != nil {
			return nil, &PersistenceError{Op: "load buyer", Err: err}
		}
		if acc.Balance.LessThan(notional) {
			return nil, &FundsError{Buyer: buy.Owner, Required: notional, Available: acc.Balance}
		}
		acc.Balance = acc.Balance.Sub(notional)
		h, err := w.holding(buy.Owner.ID(), buy.Symbol)
		if err != nil {
			return nil, &PersistenceError{Op: "load buyer holding", Err: err}
		}
		h.Blend(qty, price)
	}

	if !sell.Owner.IsSynthetic() {
		acc, err := w.account(sell.Owner.ID())
		if err != nil {
			return nil, &PersistenceError{Op: "load seller", Err: err}
		}
		acc.Balance = acc.Balance.Add(notional)
		h, err := w.holding(sell.Owner.ID(), sell.Symbol)
		if err != nil {
			return nil, &PersistenceError{Op: "load seller holding", Err: err}
		}
		h.Blend(-qty, price)
	}

	nextBuy := fill(buy, qty)
	nextSell := fill(sell, qty)

	id, err := s.store.NextID(TradeSeq)
	if err != nil {
		return nil, &PersistenceError{Op: "allocate trade id", Err: err}
	}
	trade := &Trade{
		ID:          id,
		Symbol:      buy.Symbol,
		Quantity:    qty,
		Price:       price,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Buyer:       buy.Owner,
		Seller:      sell.Owner,
		TakerSide:   taker,
		ExecutedAt:  s.clock.Now().UTC(),
	}

	b := s.store.NewBatch()
	defer b.Close()
	if err := w.flush(b); err != nil {
		return nil, &PersistenceError{Op: "settle", Err: err}
	}
	if err := b.SaveOrder(nextBuy); err != nil {
		return nil, &PersistenceError{Op: "settle", Err: err}
	}
	if err := b.SaveOrder(nextSell); err != nil {
		return nil, &PersistenceError{Op: "settle", Err: err}
	}
	if err := b.SaveTrade(trade); err != nil {
		return nil, &PersistenceError{Op: "settle", Err: err}
	}
	if err := b.Commit(); err != nil {
		s.log.Error("settlement_commit_failed",
			zap.String("symbol", trade.Symbol),
			zap.Uint64("buy_order", buy.ID),
			zap.Uint64("sell_order", sell.ID),
			zap.Error(err))
		return nil, &PersistenceError{Op: "settle", Err: err}
	}

	buy.Quantity, buy.Status = nextBuy.Quantity, nextBuy.Status
	sell.Quantity, sell.Status = nextSell.Quantity, nextSell.Status
	return trade, nil
}

// fill returns a copy of o after qty more of it traded.
func fill(o *orderbook.Order, qty int64) *orderbook.Order {
	next := o.Clone()
	next.Quantity -= qty
	if next.Quantity == 0 {
		next.Status = orderbook.Filled
	} else {
		next.Status = orderbook.PartiallyFilled
	}
	return next
}

// ledger stages account and holding changes so that a self-trade sees its
// own debit when crediting.
type ledger struct {
	accounts *account.Manager
	accs     map[string]*account.Account
	holds    map[string]*account.Holding
	order    []string
	horder   []string
}

func newLedger(m *account.Manager) *ledger {
	return &ledger{
		accounts: m,
		accs:     make(map[string]*account.Account),
		holds:    make(map[string]*account.Holding),
	}
}

func (l *ledger) account(id string) (*account.Account, error) {
	if a, ok := l.accs[id]; ok {
		return a, nil
	}
	a, err := l.accounts.LoadOrEmpty(id)
	if err != nil {
		return nil, err
	}
	l.accs[id] = a
	l.order = append(l.order, id)
	return a, nil
}

func (l *ledger) holding(owner, symbol string) (*account.Holding, error) {
	key := owner + "\x00" + symbol
	if h, ok := l.holds[key]; ok {
		return h, nil
	}
	h, err := l.accounts.HoldingOrEmpty(owner, symbol)
	if err != nil {
		return nil, err
	}
	l.holds[key] = h
	l.horder = append(l.horder, key)
	return h, nil
}

func (l *ledger) flush(b Batch) error {
	for _, id := range l.order {
		if err := b.SaveAccount(l.accs[id]); err != nil {
			return err
		}
	}
	for _, key := range l.horder {
		h := l.holds[key]
		if h.Quantity <= 0 {
			if err := b.DeleteHolding(h.Owner, h.Symbol); err != nil {
				return err
			}
			continue
		}
		if err := b.SaveHolding(h); err != nil {
			return err
		}
	}
	return nil
}
