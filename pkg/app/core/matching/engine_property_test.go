package matching_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
)

// Every participant is funded far beyond any notional the generator can
// produce, so no pairing is ever skipped.
func TestPropertyMatchingInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newHarness()
		users := []account.Ref{
			h.fund(t, "alice", "100000000"),
			h.fund(t, "bob", "100000000"),
			h.fund(t, "carol", "100000000"),
		}
		startCash := decimal.NewFromInt(300000000)

		live := map[uint64]*orderbook.Order{}
		traded := map[uint64]int64{}

		n := rapid.IntRange(1, 40).Draw(t, "n")
		for i := 0; i < n; i++ {
			owner := users[rapid.IntRange(0, len(users)-1).Draw(t, "owner")]
			side := orderbook.Buy
			if rapid.Bool().Draw(t, "sell") {
				side = orderbook.Sell
			}
			cents := rapid.Int64Range(9500, 10500).Draw(t, "cents")
			qty := rapid.Int64Range(1, 20).Draw(t, "qty")

			o := h.newOrder(t, owner, "NVDA", side, decimal.New(cents, -2).String(), qty)
			live[o.ID] = o

			res, err := h.engine.Match(context.Background(), o)
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if len(res.Skips) != 0 {
				t.Fatalf("unexpected skip %+v", res.Skips[0])
			}

			for _, tr := range res.Trades {
				traded[tr.BuyOrderID] += tr.Quantity
				traded[tr.SellOrderID] += tr.Quantity

				// maker price: the resting side's limit
				maker := live[tr.SellOrderID]
				if tr.TakerSide == orderbook.Sell {
					maker = live[tr.BuyOrderID]
				}
				if !tr.Price.Equal(maker.Price) {
					t.Fatalf("trade %d at %s, maker limit %s", tr.ID, tr.Price, maker.Price)
				}
				if !o.Crosses(maker) {
					t.Fatalf("trade %d between non-crossing orders", tr.ID)
				}
			}

			snap := h.engine.Snapshot("NVDA")
			if len(snap.Bids) > 0 && len(snap.Asks) > 0 && snap.Bids[0].Price.GreaterThanOrEqual(snap.Asks[0].Price) {
				t.Fatalf("book crossed: bid %s ask %s", snap.Bids[0].Price, snap.Asks[0].Price)
			}
		}

		snap := h.engine.Snapshot("NVDA")
		resting := map[uint64]bool{}
		for _, o := range append(snap.Bids, snap.Asks...) {
			resting[o.ID] = true
		}

		for id, o := range live {
			if o.Quantity != o.OriginalQuantity-traded[id] {
				t.Fatalf("order %d: remaining %d, original %d, traded %d", id, o.Quantity, o.OriginalQuantity, traded[id])
			}
			filled := o.Status == orderbook.Filled
			if filled != (o.Quantity == 0) {
				t.Fatalf("order %d: status %s with remaining %d", id, o.Status, o.Quantity)
			}
			if filled == resting[id] {
				t.Fatalf("order %d: status %s, in book %v", id, o.Status, resting[id])
			}
			if o.Status == orderbook.Pending && traded[id] != 0 {
				t.Fatalf("order %d traded but still pending", id)
			}
		}

		// cash only moves between participants
		total := decimal.Zero
		for _, u := range users {
			total = total.Add(h.balance(t, u.ID()))
		}
		if !total.Equal(startCash) {
			t.Fatalf("cash not conserved: %s != %s", total, startCash)
		}
	})
}
