// Package metrics exposes engine and HTTP counters to Prometheus.
package metrics

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
	"github.com/uhyunpark/papertrade/pkg/events"
)

const namespace = "papertrade"

type Metrics struct {
	registry *prometheus.Registry

	OrdersTotal         *prometheus.CounterVec // by side and owner kind
	OrderStatusTotal    *prometheus.CounterVec // status transitions reported on the event stream
	TradesTotal         *prometheus.CounterVec
	TradedQuantity      *prometheus.CounterVec
	TradedNotional      *prometheus.CounterVec
	SkipsTotal          *prometheus.CounterVec
	SettleFailuresTotal prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the engine",
		}, []string{"side", "owner"}),
		OrderStatusTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_updates_total",
			Help:      "Order updates by resulting status",
		}, []string{"status"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed trades",
		}, []string{"symbol"}),
		TradedQuantity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_quantity_total",
			Help:      "Units executed",
		}, []string{"symbol"}),
		TradedNotional: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_notional_total",
			Help:      "Quantity times price executed",
		}, []string{"symbol"}),
		SkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_skipped_total",
			Help:      "Pairings skipped because the buyer could not pay",
		}, []string{"symbol"}),
		SettleFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_failures_total",
			Help:      "Settlements aborted by a storage failure",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		m.OrdersTotal, m.OrderStatusTotal, m.TradesTotal, m.TradedQuantity, m.TradedNotional,
		m.SkipsTotal, m.SettleFailuresTotal, m.HTTPRequestsTotal, m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Publish makes Metrics an events.Sink.
func (m *Metrics) Publish(_ context.Context, ev events.Event) error {
	switch ev.Kind {
	case events.KindOrder:
		if o, ok := ev.Payload.(*orderbook.Order); ok {
			m.OrderStatusTotal.WithLabelValues(string(o.Status)).Inc()
			if o.Status == orderbook.Pending && o.Filled() == 0 {
				m.OrdersTotal.WithLabelValues(string(o.Side), o.Owner.Kind().String()).Inc()
			}
		}
	case events.KindTrade:
		if t, ok := ev.Payload.(*matching.Trade); ok {
			m.TradesTotal.WithLabelValues(t.Symbol).Inc()
			m.TradedQuantity.WithLabelValues(t.Symbol).Add(float64(t.Quantity))
			m.TradedNotional.WithLabelValues(t.Symbol).Add(t.Notional().InexactFloat64())
		}
	case events.KindTradeSkip:
		m.SkipsTotal.WithLabelValues(ev.Symbol).Inc()
	case events.KindSettleError:
		m.SettleFailuresTotal.Inc()
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware counts requests and records their latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.code)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
