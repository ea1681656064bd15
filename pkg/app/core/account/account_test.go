package account

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/papertrade/pkg/util"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestHoldingBlendWeightedAverage(t *testing.T) {
	h := &Holding{Owner: "u1", Symbol: "NVDA"}

	require.False(t, h.Blend(10, d("100")))
	require.False(t, h.Blend(10, d("200")))

	assert.Equal(t, int64(20), h.Quantity)
	assert.True(t, h.AvgPrice.Equal(d("150")), "avg = %s", h.AvgPrice)
}

func TestHoldingBlendReduce(t *testing.T) {
	h := &Holding{Owner: "u1", Symbol: "NVDA", Quantity: 20, AvgPrice: d("150")}

	// (20*150 - 5*180) / 15 = 140
	require.False(t, h.Blend(-5, d("180")))
	assert.Equal(t, int64(15), h.Quantity)
	assert.True(t, h.AvgPrice.Equal(d("140")), "avg = %s", h.AvgPrice)
}

func TestHoldingBlendToZeroKeepsPrice(t *testing.T) {
	h := &Holding{Owner: "u1", Symbol: "NVDA", Quantity: 3, AvgPrice: d("99.5")}

	assert.True(t, h.Blend(-3, d("120")))
	assert.Equal(t, int64(0), h.Quantity)
	assert.True(t, h.AvgPrice.Equal(d("99.5")))

	short := &Holding{Owner: "u1", Symbol: "NVDA"}
	assert.True(t, short.Blend(-2, d("10")))
	assert.Equal(t, int64(-2), short.Quantity)
}

func TestRefJSON(t *testing.T) {
	b, err := json.Marshal(Real("abc"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"real","id":"abc"}`, string(b))

	b, err = json.Marshal(Synthetic())
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"synthetic"}`, string(b))

	var r Ref
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"synthetic"}`), &r))
	assert.True(t, r.IsSynthetic())

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"real","id":"u9"}`), &r))
	assert.Equal(t, Real("u9"), r)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"real"}`), &r))
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"bot"}`), &r))
}

func TestSyntheticIsNotAnAccountID(t *testing.T) {
	// a real account may legitimately be called "synthetic"
	assert.NotEqual(t, Real("synthetic"), Synthetic())
	assert.False(t, Real("synthetic").IsSynthetic())
}

type memStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	holdings map[string]*Holding
	saves    int
}

func newMemStore() *memStore {
	return &memStore{accounts: map[string]*Account{}, holdings: map[string]*Holding{}}
}

func (s *memStore) LoadAccount(id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) SaveAccount(acc *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acc
	s.accounts[acc.ID] = &cp
	s.saves++
	return nil
}

func (s *memStore) LoadHolding(owner, symbol string) (*Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.holdings[owner+"/"+symbol]; ok {
		cp := *h
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) LoadHoldings(owner string) ([]*Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Holding
	for _, h := range s.holdings {
		if h.Owner == owner {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func TestManagerOpenCreatesOnce(t *testing.T) {
	store := newMemStore()
	clock := util.NewStepClock(time.Unix(1_700_000_000, 0), time.Second)
	m := NewManager(store, d("100000"), clock)

	acc, created, err := m.Open("u1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, acc.Balance.Equal(d("100000")))

	again, created, err := m.Open("u1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, acc.CreatedAt, again.CreatedAt)
	assert.Equal(t, 1, store.saves)

	_, _, err = m.Open("")
	assert.Error(t, err)
}

func TestManagerOpenConcurrent(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, d("10"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.Open("same")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.saves)
}

func TestManagerLoadOrEmpty(t *testing.T) {
	m := NewManager(newMemStore(), d("10"), nil)

	acc, err := m.LoadOrEmpty("ghost")
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())

	h, err := m.HoldingOrEmpty("ghost", "NVDA")
	require.NoError(t, err)
	assert.Equal(t, int64(0), h.Quantity)
	assert.Equal(t, "NVDA", h.Symbol)
}

func TestManagerHoldingsSorted(t *testing.T) {
	store := newMemStore()
	store.holdings["u1/TSLA"] = &Holding{Owner: "u1", Symbol: "TSLA", Quantity: 1}
	store.holdings["u1/AAPL"] = &Holding{Owner: "u1", Symbol: "AAPL", Quantity: 2}
	store.holdings["u2/NVDA"] = &Holding{Owner: "u2", Symbol: "NVDA", Quantity: 3}
	m := NewManager(store, d("10"), nil)

	hs, err := m.Holdings("u1")
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "AAPL", hs[0].Symbol)
	assert.Equal(t, "TSLA", hs[1].Symbol)
}

func TestManagerLockOrderingNoDeadlock(t *testing.T) {
	m := NewManager(newMemStore(), d("10"), nil)
	a, b := Real("alice"), Real("bob")

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 200; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				unlock := m.Lock(a, b)
				unlock()
			}()
			go func() {
				defer wg.Done()
				unlock := m.Lock(b, a, Synthetic(), b)
				unlock()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}
}

func TestManagerLockSyntheticOnly(t *testing.T) {
	m := NewManager(newMemStore(), d("10"), nil)
	unlock := m.Lock(Synthetic(), Synthetic())
	unlock()
	assert.Empty(t, m.locks)
}
