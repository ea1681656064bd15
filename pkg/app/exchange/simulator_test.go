package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
	"github.com/uhyunpark/papertrade/pkg/quote"
)

func simConfig() SimulatorConfig {
	return SimulatorConfig{
		Interval:  10 * time.Millisecond,
		Symbols:   []string{"NVDA", "GONE"},
		MinSpread: px("0.2"),
		MaxSpread: px("1.5"),
		MinQty:    1,
		MaxQty:    20,
		Seed:      42,
	}
}

func TestSimulatorQuoteShape(t *testing.T) {
	app, _, _ := newTestApp(t)
	sim := NewSimulator(app, quote.NewStatic(nil), simConfig(), zap.NewNop())
	market := px("131.26")

	for i := 0; i < 500; i++ {
		q := sim.makeQuote("NVDA", market)

		spread := q.Ask.Sub(q.Bid)
		assert.True(t, spread.GreaterThanOrEqual(px("0.19")), "spread %s", spread)
		assert.True(t, spread.LessThanOrEqual(px("1.51")), "spread %s", spread)
		assert.True(t, q.Bid.LessThan(market))
		assert.True(t, q.Ask.GreaterThan(market))
		assert.True(t, q.Bid.Equal(q.Bid.Truncate(2)), "bid %s", q.Bid)
		assert.True(t, q.Ask.Equal(q.Ask.Truncate(2)), "ask %s", q.Ask)
		assert.GreaterOrEqual(t, q.BidQty, int64(1))
		assert.LessOrEqual(t, q.BidQty, int64(20))
		assert.GreaterOrEqual(t, q.AskQty, int64(1))
		assert.LessOrEqual(t, q.AskQty, int64(20))
	}
}

func TestSimulatorTickPlacesSyntheticQuotes(t *testing.T) {
	app, _, _ := newTestApp(t)
	prices := quote.NewStatic(map[string]decimal.Decimal{"NVDA": px("100")})
	sim := NewSimulator(app, prices, simConfig(), zap.NewNop())

	placed := sim.Tick(context.Background())
	require.Len(t, placed, 1, "symbols without a price are skipped")
	q := placed[0]

	bid, ok := app.BestBid("NVDA")
	require.True(t, ok)
	ask, ok := app.BestAsk("NVDA")
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(q.Bid))
	assert.True(t, ask.Price.Equal(q.Ask))
	assert.True(t, bid.Owner.IsSynthetic())
	assert.True(t, ask.Owner.IsSynthetic())
	assert.Equal(t, q.BidQty, bid.Quantity)

	_, ok = app.BestBid("GONE")
	assert.False(t, ok)

	sim.Tick(context.Background())
	snap := app.Snapshot("NVDA")
	assert.Len(t, snap.Bids, 2)
	assert.Len(t, snap.Asks, 2)
}

func TestSimulatorLiquidityFillsRealOrders(t *testing.T) {
	app, _, _ := newTestApp(t)
	_, _, err := app.EnsureAccount("u1")
	require.NoError(t, err)
	sim := NewSimulator(app, quote.NewStatic(map[string]decimal.Decimal{"NVDA": px("100")}), simConfig(), zap.NewNop())
	placed := sim.Tick(context.Background())
	require.Len(t, placed, 1)

	res, err := app.Submit(context.Background(), SubmitRequest{
		Owner: account.Real("u1"), Symbol: "NVDA", Side: "BUY", Quantity: 1, Price: px("105"),
	})
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(placed[0].Ask))
	assert.True(t, res.Trades[0].Seller.IsSynthetic())
	assert.Equal(t, orderbook.Filled, res.Order.Status)
}

func TestSimulatorStartStop(t *testing.T) {
	app, _, _ := newTestApp(t)
	sim := NewSimulator(app, quote.NewStatic(map[string]decimal.Decimal{"NVDA": px("100")}), simConfig(), zap.NewNop())

	stop := sim.Start(context.Background())
	require.Eventually(t, func() bool {
		return len(app.Snapshot("NVDA").Bids) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	stop()
}
