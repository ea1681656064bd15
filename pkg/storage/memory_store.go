package storage

import (
	"sort"
	"strings"
	"sync"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
)

// InMemoryStore keeps the same key schema as PebbleStore in a map. It backs
// tests and the --memory mode of the binary.
type InMemoryStore struct {
	mu        sync.Mutex
	kv        map[string][]byte
	commitErr error
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{kv: make(map[string][]byte)}
}

var (
	_ account.Store  = (*InMemoryStore)(nil)
	_ matching.Store = (*InMemoryStore)(nil)
)

// FailCommits makes every batch commit return err until called with nil.
func (s *InMemoryStore) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

func (s *InMemoryStore) get(key []byte, v any) (bool, error) {
	s.mu.Lock()
	data, ok := s.kv[string(key)]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, decode(data, v)
}

func (s *InMemoryStore) set(key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[string(key)] = data
	return nil
}

// values returns the values under prefix in key order.
func (s *InMemoryStore) values(prefix []byte) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := string(prefix)
	keys := make([]string, 0)
	for k := range s.kv {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = s.kv[k]
	}
	return out
}

func (s *InMemoryStore) LoadAccount(id string) (*account.Account, error) {
	var acc account.Account
	ok, err := s.get(accountKey(id), &acc)
	if err != nil || !ok {
		return nil, err
	}
	return &acc, nil
}

func (s *InMemoryStore) SaveAccount(acc *account.Account) error {
	return s.set(accountKey(acc.ID), acc)
}

func (s *InMemoryStore) LoadHolding(owner, symbol string) (*account.Holding, error) {
	var h account.Holding
	ok, err := s.get(holdingKey(owner, symbol), &h)
	if err != nil || !ok {
		return nil, err
	}
	return &h, nil
}

func (s *InMemoryStore) LoadHoldings(owner string) ([]*account.Holding, error) {
	var out []*account.Holding
	for _, v := range s.values(holdingPrefix(owner)) {
		var h account.Holding
		if err := decode(v, &h); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, nil
}

func (s *InMemoryStore) SaveOrder(o *orderbook.Order) error {
	return s.set(orderKey(o.Owner, o.ID), o)
}

func (s *InMemoryStore) LoadOrder(owner account.Ref, id uint64) (*orderbook.Order, error) {
	var o orderbook.Order
	ok, err := s.get(orderKey(owner, id), &o)
	if err != nil || !ok {
		return nil, err
	}
	return &o, nil
}

func (s *InMemoryStore) LoadOrders(owner account.Ref) ([]*orderbook.Order, error) {
	var out []*orderbook.Order
	for _, v := range s.values(orderPrefix(owner)) {
		var o orderbook.Order
		if err := decode(v, &o); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, nil
}

func (s *InMemoryStore) LoadOpenOrders(owner account.Ref) ([]*orderbook.Order, error) {
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

func (s *InMemoryStore) LoadRecentTrades(symbol string, limit int) ([]*matching.Trade, error) {
	vals := s.values(tradePrefix(symbol))
	var trades []*matching.Trade
	for i := len(vals) - 1; i >= 0 && len(trades) < limit; i-- {
		var t matching.Trade
		if err := decode(vals[i], &t); err != nil {
			return nil, err
		}
		if t.Symbol != symbol {
			continue
		}
		trades = append(trades, &t)
	}
	return trades, nil
}

func (s *InMemoryStore) NextID(seq string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur uint64
	if data, ok := s.kv[string(seqKey(seq))]; ok {
		n, err := decodeSeq(data)
		if err != nil {
			return 0, err
		}
		cur = n
	}
	s.kv[string(seqKey(seq))] = encodeSeq(cur + 1)
	return cur + 1, nil
}

type memOp struct {
	key    string
	value  []byte
	delete bool
}

type memBatch struct {
	s   *InMemoryStore
	ops []memOp
}

func (s *InMemoryStore) NewBatch() matching.Batch { return &memBatch{s: s} }

func (b *memBatch) put(key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	b.ops = append(b.ops, memOp{key: string(key), value: data})
	return nil
}

func (b *memBatch) SaveAccount(acc *account.Account) error {
	return b.put(accountKey(acc.ID), acc)
}

func (b *memBatch) SaveHolding(h *account.Holding) error {
	return b.put(holdingKey(h.Owner, h.Symbol), h)
}

func (b *memBatch) DeleteHolding(owner, symbol string) error {
	b.ops = append(b.ops, memOp{key: string(holdingKey(owner, symbol)), delete: true})
	return nil
}

func (b *memBatch) SaveOrder(o *orderbook.Order) error {
	return b.put(orderKey(o.Owner, o.ID), o)
}

func (b *memBatch) SaveTrade(t *matching.Trade) error {
	return b.put(tradeKey(t.Symbol, t.ExecutedAt.UnixNano(), t.ID), t)
}

func (b *memBatch) Commit() error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	if b.s.commitErr != nil {
		return b.s.commitErr
	}
	for _, op := range b.ops {
		if op.delete {
			delete(b.s.kv, op.key)
			continue
		}
		b.s.kv[op.key] = op.value
	}
	b.ops = nil
	return nil
}

func (b *memBatch) Close() error {
	b.ops = nil
	return nil
}
