package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
	"github.com/uhyunpark/papertrade/pkg/events"
)

func TestPublishCountsEngineEvents(t *testing.T) {
	m := New()
	ctx := context.Background()

	o := &orderbook.Order{ID: 1, Owner: account.Synthetic(), Symbol: "NVDA", Side: orderbook.Buy,
		Quantity: 3, OriginalQuantity: 3, Status: orderbook.Pending}
	require.NoError(t, m.Publish(ctx, events.Event{Kind: events.KindOrder, Symbol: "NVDA", Payload: o}))

	filled := o.Clone()
	filled.Quantity, filled.Status = 0, orderbook.Filled
	require.NoError(t, m.Publish(ctx, events.Event{Kind: events.KindOrder, Symbol: "NVDA", Payload: filled}))

	tr := &matching.Trade{Symbol: "NVDA", Quantity: 3, Price: decimal.RequireFromString("100.5")}
	require.NoError(t, m.Publish(ctx, events.Event{Kind: events.KindTrade, Symbol: "NVDA", Payload: tr}))
	require.NoError(t, m.Publish(ctx, events.Event{Kind: events.KindTradeSkip, Symbol: "NVDA"}))
	require.NoError(t, m.Publish(ctx, events.Event{Kind: events.KindSettleError, Symbol: "NVDA"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("BUY", "synthetic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderStatusTotal.WithLabelValues("FILLED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesTotal.WithLabelValues("NVDA")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TradedQuantity.WithLabelValues("NVDA")))
	assert.InDelta(t, 301.5, testutil.ToFloat64(m.TradedNotional.WithLabelValues("NVDA")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkipsTotal.WithLabelValues("NVDA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SettleFailuresTotal))
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := New()
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/orders", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "papertrade_http_requests_total"))
}
