package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
)

type store interface {
	account.Store
	matching.Store
	LoadOrders(owner account.Ref) ([]*orderbook.Order, error)
	LoadOpenOrders(owner account.Ref) ([]*orderbook.Order, error)
	LoadRecentTrades(symbol string, limit int) ([]*matching.Trade, error)
}

func openPebble(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// both implementations must behave the same
func forEachStore(t *testing.T, fn func(t *testing.T, s store)) {
	t.Run("pebble", func(t *testing.T) { fn(t, openPebble(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewInMemoryStore()) })
}

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func order(id uint64, owner account.Ref, status orderbook.Status) *orderbook.Order {
	return &orderbook.Order{
		ID:               id,
		Owner:            owner,
		Symbol:           "NVDA",
		Side:             orderbook.Buy,
		Quantity:         5,
		OriginalQuantity: 5,
		Price:            decimal.RequireFromString("101.25"),
		Status:           status,
		CreatedAt:        t0,
	}
}

func TestAccountRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		missing, err := s.LoadAccount("nobody")
		require.NoError(t, err)
		assert.Nil(t, missing)

		acc := account.NewAccount("u1", decimal.RequireFromString("100000"), t0)
		require.NoError(t, s.SaveAccount(acc))

		got, err := s.LoadAccount("u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.Balance.Equal(acc.Balance))
		assert.True(t, got.CreatedAt.Equal(t0))
	})
}

func TestOrdersByOwner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		u1, u2 := account.Real("u1"), account.Real("u2")
		require.NoError(t, s.SaveOrder(order(2, u1, orderbook.Pending)))
		require.NoError(t, s.SaveOrder(order(10, u1, orderbook.Filled)))
		require.NoError(t, s.SaveOrder(order(3, u2, orderbook.Pending)))
		require.NoError(t, s.SaveOrder(order(11, u1, orderbook.PartiallyFilled)))
		require.NoError(t, s.SaveOrder(order(12, account.Synthetic(), orderbook.Pending)))

		all, err := s.LoadOrders(u1)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, uint64(2), all[0].ID)
		assert.Equal(t, uint64(11), all[2].ID)

		open, err := s.LoadOpenOrders(u1)
		require.NoError(t, err)
		require.Len(t, open, 2)
		assert.Equal(t, orderbook.PartiallyFilled, open[1].Status)

		foreign, err := s.LoadOrder(u2, 2)
		require.NoError(t, err)
		assert.Nil(t, foreign)

		syn, err := s.LoadOrder(account.Synthetic(), 12)
		require.NoError(t, err)
		require.NotNil(t, syn)
		assert.True(t, syn.Owner.IsSynthetic())
	})
}

func TestSaveOrderOverwritesStatus(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		o := order(1, account.Real("u1"), orderbook.Pending)
		require.NoError(t, s.SaveOrder(o))
		o.Status = orderbook.Canceled
		require.NoError(t, s.SaveOrder(o))
		require.NoError(t, s.SaveOrder(o))

		got, err := s.LoadOrder(o.Owner, 1)
		require.NoError(t, err)
		assert.Equal(t, orderbook.Canceled, got.Status)
	})
}

func TestNextIDIsMonotonic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		for want := uint64(1); want <= 5; want++ {
			got, err := s.NextID("order")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		other, err := s.NextID("trade")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), other)
	})
}

func TestNextIDSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.NextID("order")
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(path)
	require.NoError(t, err)
	defer s.Close()
	id, err := s.NextID("order")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)
}

func TestBatchIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		acc := account.NewAccount("u1", decimal.NewFromInt(50), t0)
		h := &account.Holding{Owner: "u1", Symbol: "NVDA", Quantity: 2, AvgPrice: decimal.NewFromInt(10)}

		b := s.NewBatch()
		require.NoError(t, b.SaveAccount(acc))
		require.NoError(t, b.SaveHolding(h))

		// nothing visible before commit
		got, err := s.LoadAccount("u1")
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, b.Commit())
		require.NoError(t, b.Close())

		got, err = s.LoadAccount("u1")
		require.NoError(t, err)
		require.NotNil(t, got)
		hs, err := s.LoadHoldings("u1")
		require.NoError(t, err)
		require.Len(t, hs, 1)

		b = s.NewBatch()
		require.NoError(t, b.DeleteHolding("u1", "NVDA"))
		require.NoError(t, b.Commit())
		require.NoError(t, b.Close())

		hs, err = s.LoadHoldings("u1")
		require.NoError(t, err)
		assert.Empty(t, hs)
	})
}

func TestRecentTradesNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		b := s.NewBatch()
		for i := 1; i <= 5; i++ {
			require.NoError(t, b.SaveTrade(&matching.Trade{
				ID:         uint64(i),
				Symbol:     "NVDA",
				Quantity:   1,
				Price:      decimal.NewFromInt(int64(100 + i)),
				Buyer:      account.Real("u1"),
				Seller:     account.Synthetic(),
				TakerSide:  orderbook.Buy,
				ExecutedAt: t0.Add(time.Duration(i) * time.Second),
			}))
		}
		require.NoError(t, b.SaveTrade(&matching.Trade{ID: 6, Symbol: "AAPL", Quantity: 1, ExecutedAt: t0}))
		require.NoError(t, b.Commit())
		require.NoError(t, b.Close())

		trades, err := s.LoadRecentTrades("NVDA", 3)
		require.NoError(t, err)
		require.Len(t, trades, 3)
		assert.Equal(t, []uint64{5, 4, 3}, []uint64{trades[0].ID, trades[1].ID, trades[2].ID})
		assert.True(t, trades[0].Seller.IsSynthetic())
	})
}

func TestRecentTradesIgnoresExtendedSymbol(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		b := s.NewBatch()
		require.NoError(t, b.SaveTrade(&matching.Trade{ID: 1, Symbol: "A", Quantity: 1, Price: decimal.NewFromInt(10), ExecutedAt: t0}))
		require.NoError(t, b.SaveTrade(&matching.Trade{ID: 2, Symbol: "A:B", Quantity: 1, Price: decimal.NewFromInt(999), ExecutedAt: t0.Add(time.Second)}))
		require.NoError(t, b.Commit())
		require.NoError(t, b.Close())

		trades, err := s.LoadRecentTrades("A", 10)
		require.NoError(t, err)
		require.Len(t, trades, 1)
		assert.Equal(t, uint64(1), trades[0].ID)
		assert.Equal(t, "A", trades[0].Symbol)
	})
}

func TestInMemoryFailCommits(t *testing.T) {
	s := NewInMemoryStore()
	boom := errors.New("disk full")
	s.FailCommits(boom)

	b := s.NewBatch()
	require.NoError(t, b.SaveAccount(account.NewAccount("u1", decimal.NewFromInt(1), t0)))
	assert.ErrorIs(t, b.Commit(), boom)

	got, err := s.LoadAccount("u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
