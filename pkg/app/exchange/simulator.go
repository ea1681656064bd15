package exchange

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/quote"
)

// SimulatorConfig controls synthetic liquidity generation.
type SimulatorConfig struct {
	Interval  time.Duration
	Symbols   []string
	MinSpread decimal.Decimal
	MaxSpread decimal.Decimal
	MinQty    int64
	MaxQty    int64
	Seed      int64 // 0 seeds from the clock
}

// Simulator quotes both sides of each symbol around its market price on
// behalf of the synthetic participant.
type Simulator struct {
	app    *App
	quotes quote.Source
	cfg    SimulatorConfig
	rng    *rand.Rand
	log    *zap.Logger
}

func NewSimulator(app *App, quotes quote.Source, cfg SimulatorConfig, log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MinQty <= 0 {
		cfg.MinQty = 1
	}
	if cfg.MaxQty < cfg.MinQty {
		cfg.MaxQty = cfg.MinQty
	}
	if cfg.MaxSpread.LessThan(cfg.MinSpread) {
		cfg.MaxSpread = cfg.MinSpread
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		app:    app,
		quotes: quotes,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		log:    log,
	}
}

// Quote is one generated bid/ask pair.
type Quote struct {
	Symbol string
	Market decimal.Decimal
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	BidQty int64
	AskQty int64
}

var two = decimal.NewFromInt(2)

// makeQuote spreads bid and ask symmetrically around price, rounded to cents.
func (s *Simulator) makeQuote(symbol string, price decimal.Decimal) Quote {
	width := s.cfg.MaxSpread.Sub(s.cfg.MinSpread)
	spread := s.cfg.MinSpread.Add(width.Mul(decimal.NewFromFloat(s.rng.Float64())))
	half := spread.Div(two)
	return Quote{
		Symbol: symbol,
		Market: price,
		Bid:    price.Sub(half).Round(2),
		Ask:    price.Add(half).Round(2),
		BidQty: s.cfg.MinQty + s.rng.Int63n(s.cfg.MaxQty-s.cfg.MinQty+1),
		AskQty: s.cfg.MinQty + s.rng.Int63n(s.cfg.MaxQty-s.cfg.MinQty+1),
	}
}

// Tick places one bid and one ask for every symbol that has a market
// price. It returns the quotes it placed.
func (s *Simulator) Tick(ctx context.Context) []Quote {
	var placed []Quote
	for _, sym := range s.cfg.Symbols {
		price, ok, err := s.quotes.Price(ctx, sym)
		if err != nil {
			s.log.Warn("market_price_error", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		if !ok {
			s.log.Warn("market_price_unavailable", zap.String("symbol", sym))
			continue
		}

		q := s.makeQuote(sym, price)
		if !q.Bid.IsPositive() {
			s.log.Warn("simulated_bid_not_positive", zap.String("symbol", sym), zap.String("market", price.String()))
			continue
		}
		if _, err := s.app.Submit(ctx, SubmitRequest{
			Owner: account.Synthetic(), Symbol: sym, Side: "BUY", Quantity: q.BidQty, Price: q.Bid,
		}); err != nil {
			s.log.Warn("simulated_order_failed", zap.String("symbol", sym), zap.String("side", "BUY"), zap.Error(err))
			continue
		}
		if _, err := s.app.Submit(ctx, SubmitRequest{
			Owner: account.Synthetic(), Symbol: sym, Side: "SELL", Quantity: q.AskQty, Price: q.Ask,
		}); err != nil {
			s.log.Warn("simulated_order_failed", zap.String("symbol", sym), zap.String("side", "SELL"), zap.Error(err))
			continue
		}
		s.log.Debug("simulated_quote",
			zap.String("symbol", sym),
			zap.String("market", price.String()),
			zap.String("bid", q.Bid.StringFixed(2)),
			zap.String("ask", q.Ask.StringFixed(2)),
			zap.Int64("bid_qty", q.BidQty),
			zap.Int64("ask_qty", q.AskQty))
		placed = append(placed, q)
	}
	return placed
}

// Start runs Tick every Interval until ctx is done or the returned cancel
// func is called.
func (s *Simulator) Start(ctx context.Context) context.CancelFunc {
	simCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.log.Info("simulator_started",
			zap.Strings("symbols", s.cfg.Symbols),
			zap.Duration("interval", s.cfg.Interval))

		ticks := 0
		for {
			select {
			case <-simCtx.Done():
				s.log.Info("simulator_stopped", zap.Int("ticks", ticks))
				return
			case <-ticker.C:
				s.Tick(simCtx)
				ticks++
			}
		}
	}()

	return cancel
}
