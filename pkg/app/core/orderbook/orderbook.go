package orderbook

import (
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"` // total remaining qty at this price
	Orders   int             `json:"orders"`
}

// bids: highest price first, earliest first within a price.
func lessBid(a, b *Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	return lessTime(a, b)
}

// asks: lowest price first, earliest first within a price.
func lessAsk(a, b *Order) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return lessTime(a, b)
}

func lessTime(a, b *Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

type book struct {
	bids *btree.BTreeG[*Order]
	asks *btree.BTreeG[*Order]
}

func (b *book) side(s Side) *btree.BTreeG[*Order] {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// OrderBook holds the resting orders of every symbol.
//
// Each side is a B-tree ordered by (price, createdAt, id), so the best
// order is always the tree minimum. An id index locates any resting order
// for removal without scanning.
type OrderBook struct {
	mu    sync.RWMutex
	books map[string]*book
	index map[uint64]*Order
}

func NewOrderBook() *OrderBook {
	return &OrderBook{
		books: make(map[string]*book),
		index: make(map[uint64]*Order),
	}
}

func (ob *OrderBook) bookFor(symbol string, create bool) *book {
	b, ok := ob.books[symbol]
	if !ok && create {
		b = &book{
			bids: btree.NewG(32, lessBid),
			asks: btree.NewG(32, lessAsk),
		}
		ob.books[symbol] = b
	}
	return b
}

// Insert places o on its side. An order already resting under the same id
// is replaced.
func (ob *OrderBook) Insert(o *Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, ok := ob.index[o.ID]; ok {
		ob.remove(o.ID)
	}
	ob.bookFor(o.Symbol, true).side(o.Side).ReplaceOrInsert(o)
	ob.index[o.ID] = o
}

// Remove deletes the order with this id from whichever side holds it.
func (ob *OrderBook) Remove(id uint64) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.remove(id)
}

func (ob *OrderBook) remove(id uint64) bool {
	o, ok := ob.index[id]
	if !ok {
		return false
	}
	delete(ob.index, id)
	if b := ob.bookFor(o.Symbol, false); b != nil {
		b.side(o.Side).Delete(o)
	}
	return true
}

// Get returns the resting order with this id.
func (ob *OrderBook) Get(id uint64) (*Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	o, ok := ob.index[id]
	return o, ok
}

func (ob *OrderBook) Contains(id uint64) bool {
	_, ok := ob.Get(id)
	return ok
}

func (ob *OrderBook) best(symbol string, side Side) (*Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	b := ob.bookFor(symbol, false)
	if b == nil {
		return nil, false
	}
	return b.side(side).Min()
}

// BestBid returns the highest, earliest resting buy for symbol.
func (ob *OrderBook) BestBid(symbol string) (*Order, bool) { return ob.best(symbol, Buy) }

// BestAsk returns the lowest, earliest resting sell for symbol.
func (ob *OrderBook) BestAsk(symbol string) (*Order, bool) { return ob.best(symbol, Sell) }

// SideOrders returns the resting orders of one side in priority order.
func (ob *OrderBook) SideOrders(symbol string, side Side) []*Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	b := ob.bookFor(symbol, false)
	if b == nil {
		return nil
	}
	t := b.side(side)
	out := make([]*Order, 0, t.Len())
	t.Ascend(func(o *Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

// Levels aggregates one side by price, best price first.
func (ob *OrderBook) Levels(symbol string, side Side) []PriceLevel {
	var levels []PriceLevel
	for _, o := range ob.SideOrders(symbol, side) {
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(o.Price) {
			levels[n-1].Quantity += o.Quantity
			levels[n-1].Orders++
			continue
		}
		levels = append(levels, PriceLevel{Price: o.Price, Quantity: o.Quantity, Orders: 1})
	}
	return levels
}

func (ob *OrderBook) Len(symbol string, side Side) int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	b := ob.bookFor(symbol, false)
	if b == nil {
		return 0
	}
	return b.side(side).Len()
}

// Symbols lists every symbol that has resting orders, sorted.
func (ob *OrderBook) Symbols() []string {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	out := make([]string, 0, len(ob.books))
	for sym, b := range ob.books {
		if b.bids.Len()+b.asks.Len() > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}
