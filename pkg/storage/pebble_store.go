package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
)

type PebbleStore struct {
	db *pebble.DB

	seqMu sync.Mutex
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

var (
	_ account.Store  = (*PebbleStore)(nil)
	_ matching.Store = (*PebbleStore)(nil)
)

// get decodes the value under key into v. It reports false when the key
// does not exist.
func (s *PebbleStore) get(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := decode(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PebbleStore) set(key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return s.db.Set(key, data, pebble.Sync)
}

func (s *PebbleStore) scan(prefix []byte, fn func(value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ============================================================================
// Accounts and holdings
// ============================================================================

// LoadAccount returns nil if the account doesn't exist.
func (s *PebbleStore) LoadAccount(id string) (*account.Account, error) {
	var acc account.Account
	ok, err := s.get(accountKey(id), &acc)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (s *PebbleStore) SaveAccount(acc *account.Account) error {
	if err := s.set(accountKey(acc.ID), acc); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadHolding(owner, symbol string) (*account.Holding, error) {
	var h account.Holding
	ok, err := s.get(holdingKey(owner, symbol), &h)
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (s *PebbleStore) LoadHoldings(owner string) ([]*account.Holding, error) {
	var out []*account.Holding
	err := s.scan(holdingPrefix(owner), func(v []byte) error {
		var h account.Holding
		if err := decode(v, &h); err != nil {
			return err
		}
		out = append(out, &h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings: %w", err)
	}
	return out, nil
}

// ============================================================================
// Orders and trades
// ============================================================================

// SaveOrder writes the order's current state, replacing any earlier record.
func (s *PebbleStore) SaveOrder(o *orderbook.Order) error {
	if err := s.set(orderKey(o.Owner, o.ID), o); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// LoadOrder returns nil if owner has no order with this id.
func (s *PebbleStore) LoadOrder(owner account.Ref, id uint64) (*orderbook.Order, error) {
	var o orderbook.Order
	ok, err := s.get(orderKey(owner, id), &o)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &o, nil
}

// LoadOrders returns every order of owner, oldest first.
func (s *PebbleStore) LoadOrders(owner account.Ref) ([]*orderbook.Order, error) {
	var out []*orderbook.Order
	err := s.scan(orderPrefix(owner), func(v []byte) error {
		var o orderbook.Order
		if err := decode(v, &o); err != nil {
			return err
		}
		out = append(out, &o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	return out, nil
}

// LoadOpenOrders returns the PENDING and PARTIALLY_FILLED orders of owner.
func (s *PebbleStore) LoadOpenOrders(owner account.Ref) ([]*orderbook.Order, error) {
	all, err := s.LoadOrders(owner)
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, o := range all {
		if o.Status.Open() {
			open = append(open, o)
		}
	}
	return open, nil
}

// LoadRecentTrades loads the most recent N trades for a symbol, newest first.
func (s *PebbleStore) LoadRecentTrades(symbol string, limit int) ([]*matching.Trade, error) {
	prefix := tradePrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []*matching.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t matching.Trade
		if err := decode(iter.Value(), &t); err != nil {
			return nil, err
		}
		// the prefix scan also covers symbols that extend this one past a ':'
		if t.Symbol != symbol {
			continue
		}
		trades = append(trades, &t)
	}
	return trades, iter.Error()
}

// NextID returns the next value of a named, durable sequence. The first
// value of every sequence is 1.
func (s *PebbleStore) NextID(seq string) (uint64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	key := seqKey(seq)
	var cur uint64
	data, closer, err := s.db.Get(key)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("failed to read sequence %s: %w", seq, err)
	default:
		cur, err = decodeSeq(data)
		closer.Close()
		if err != nil {
			return 0, err
		}
	}

	next := cur + 1
	if err := s.db.Set(key, encodeSeq(next), pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", seq, err)
	}
	return next, nil
}

// ============================================================================
// Settlement batch
// ============================================================================

// Batch stages writes in a pebble batch; Commit applies them atomically
// with fsync.
type Batch struct {
	b *pebble.Batch
}

func (s *PebbleStore) NewBatch() matching.Batch {
	return &Batch{b: s.db.NewBatch()}
}

func (b *Batch) put(key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return b.b.Set(key, data, nil)
}

func (b *Batch) SaveAccount(acc *account.Account) error {
	return b.put(accountKey(acc.ID), acc)
}

func (b *Batch) SaveHolding(h *account.Holding) error {
	return b.put(holdingKey(h.Owner, h.Symbol), h)
}

func (b *Batch) DeleteHolding(owner, symbol string) error {
	return b.b.Delete(holdingKey(owner, symbol), nil)
}

func (b *Batch) SaveOrder(o *orderbook.Order) error {
	return b.put(orderKey(o.Owner, o.ID), o)
}

func (b *Batch) SaveTrade(t *matching.Trade) error {
	return b.put(tradeKey(t.Symbol, t.ExecutedAt.UnixNano(), t.ID), t)
}

func (b *Batch) Commit() error { return b.b.Commit(pebble.Sync) }

func (b *Batch) Close() error { return b.b.Close() }
