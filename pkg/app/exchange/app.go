package exchange

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/core/matching"
	"github.com/uhyunpark/papertrade/pkg/app/core/orderbook"
	"github.com/uhyunpark/papertrade/pkg/events"
	"github.com/uhyunpark/papertrade/pkg/util"
)

const (
	OrderSeq = "order"

	DefaultTradeLimit = 50
	MaxTradeLimit     = 500
)

// symbolPattern admits exchange tickers and index or FX forms like ^GSPC,
// BRK.B and EURUSD=X. ':' is reserved as the storage key separator.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-=^]{1,16}$`)

// Store is everything the exchange reads and writes durably.
type Store interface {
	account.Store
	matching.Store
	LoadOpenOrders(owner account.Ref) ([]*orderbook.Order, error)
	LoadRecentTrades(symbol string, limit int) ([]*matching.Trade, error)
}

// App is the exchange: order intake and cancel in front of one matching
// engine, plus the account and market queries the API serves.
type App struct {
	store    Store
	accounts *account.Manager
	engine   *matching.Engine
	sink     events.Sink
	clock    util.Clock
	log      *zap.Logger
}

type Config struct {
	StartingBalance decimal.Decimal
}

func NewApp(store Store, cfg Config, sink events.Sink, clock util.Clock, log *zap.Logger) *App {
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = events.Nop
	}
	accounts := account.NewManager(store, cfg.StartingBalance, clock)
	return &App{
		store:    store,
		accounts: accounts,
		engine:   matching.NewEngine(store, accounts, clock, log),
		sink:     sink,
		clock:    clock,
		log:      log,
	}
}

// SubmitRequest is a new limit order. Side and Type are parsed
// case-insensitively; Type may be empty and otherwise must be LIMIT.
type SubmitRequest struct {
	Owner    account.Ref
	Symbol   string
	Side     string
	Quantity int64
	Price    decimal.Decimal
	Type     string
}

type SubmitResult struct {
	Order  *orderbook.Order  `json:"order"`
	Trades []*matching.Trade `json:"trades"`
	Skips  []matching.Skip   `json:"skips,omitempty"`
}

func (r SubmitRequest) validate() (symbol string, side orderbook.Side, err error) {
	symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if symbol == "" {
		return "", "", &ValidationError{Field: "symbol", Reason: "is required"}
	}
	if !symbolPattern.MatchString(symbol) {
		return "", "", &ValidationError{Field: "symbol", Reason: "must be 1-16 characters of A-Z 0-9 . - = ^"}
	}
	if r.Quantity <= 0 {
		return "", "", &ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}
	if !r.Price.IsPositive() {
		return "", "", &ValidationError{Field: "price", Reason: "must be positive"}
	}
	side, perr := orderbook.ParseSide(r.Side)
	if perr != nil {
		return "", "", &ValidationError{Field: "direction", Reason: "must be BUY or SELL"}
	}
	if t := strings.ToUpper(strings.TrimSpace(r.Type)); t != "" && t != "LIMIT" {
		return "", "", &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported order type %q", r.Type)}
	}
	if r.Owner.Kind() == account.KindReal && r.Owner.ID() == "" {
		return "", "", &ValidationError{Field: "owner", Reason: "is required"}
	}
	return symbol, side, nil
}

// Submit validates, persists and matches a new order. The returned order
// reflects its state at the end of the matching pass.
//
// Once the order has been persisted the pass runs even if ctx is canceled.
// A *PersistenceError from the pass comes back together with the partial
// result: trades settled before the failure stand.
func (a *App) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	symbol, side, err := req.validate()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id, err := a.store.NextID(OrderSeq)
	if err != nil {
		return nil, &PersistenceError{Op: "allocate order id", Err: err}
	}
	o := &orderbook.Order{
		ID:               id,
		Owner:            req.Owner,
		Symbol:           symbol,
		Side:             side,
		Quantity:         req.Quantity,
		OriginalQuantity: req.Quantity,
		Price:            req.Price,
		Status:           orderbook.Pending,
		CreatedAt:        a.clock.Now().UTC(),
	}
	if err := a.store.SaveOrder(o); err != nil {
		return nil, &PersistenceError{Op: "save order", Err: err}
	}
	a.publishOrder(ctx, o.Clone())

	res, err := a.engine.Match(context.WithoutCancel(ctx), o)
	out := &SubmitResult{Order: res.Order, Trades: res.Trades, Skips: res.Skips}
	if out.Order == nil {
		out.Order = o.Clone()
	}
	a.publishPass(ctx, out)

	if err != nil {
		a.log.Error("matching_pass_failed",
			zap.Uint64("order_id", o.ID),
			zap.String("symbol", symbol),
			zap.Int("trades", len(res.Trades)),
			zap.Error(err))
		a.publish(ctx, events.Event{Kind: events.KindSettleError, Symbol: symbol, Payload: out.Order})
		return out, err
	}

	a.log.Debug("order_submitted",
		zap.Uint64("order_id", o.ID),
		zap.String("owner", req.Owner.String()),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("price", req.Price.String()),
		zap.Int64("qty", req.Quantity),
		zap.Int("trades", len(res.Trades)),
		zap.String("status", string(out.Order.Status)))
	return out, nil
}

// Cancel cancels a PENDING order of owner.
func (a *App) Cancel(ctx context.Context, owner account.Ref, id uint64) (*orderbook.Order, error) {
	o, err := a.engine.Cancel(owner, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.log.Error("cancel_failed", zap.Uint64("order_id", id), zap.Error(err))
		}
		return nil, err
	}
	a.log.Debug("order_canceled", zap.Uint64("order_id", id), zap.String("owner", owner.String()))
	a.publishOrder(ctx, o)
	a.publishBook(ctx, o.Symbol)
	return o, nil
}

func (a *App) publishPass(ctx context.Context, res *SubmitResult) {
	o := res.Order
	if o.Status != orderbook.Pending {
		a.publishOrder(ctx, o)
	}
	for _, t := range res.Trades {
		a.publish(ctx, events.Event{Kind: events.KindTrade, Symbol: t.Symbol, At: t.ExecutedAt, Payload: t})

		maker, makerID := t.Seller, t.SellOrderID
		if t.TakerSide == orderbook.Sell {
			maker, makerID = t.Buyer, t.BuyOrderID
		}
		if mo, err := a.store.LoadOrder(maker, makerID); err == nil && mo != nil {
			a.publishOrder(ctx, mo)
		}
	}
	for i := range res.Skips {
		s := res.Skips[i]
		a.publish(ctx, events.Event{Kind: events.KindTradeSkip, Symbol: s.Symbol, Owner: ownerOf(s.Buyer), Payload: s})
	}
	a.publishBook(ctx, o.Symbol)
}

func (a *App) publishOrder(ctx context.Context, o *orderbook.Order) {
	a.publish(ctx, events.Event{Kind: events.KindOrder, Symbol: o.Symbol, Owner: ownerOf(o.Owner), Payload: o})
}

func (a *App) publishBook(ctx context.Context, symbol string) {
	snap := a.engine.Snapshot(symbol)
	a.publish(ctx, events.Event{Kind: events.KindBook, Symbol: symbol, At: snap.TakenAt, Payload: snap})
}

func (a *App) publish(ctx context.Context, ev events.Event) {
	if ev.At.IsZero() {
		ev.At = a.clock.Now().UTC()
	}
	if err := a.sink.Publish(context.WithoutCancel(ctx), ev); err != nil {
		a.log.Warn("event_publish_failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func ownerOf(r account.Ref) *account.Ref {
	if r.IsSynthetic() {
		return nil
	}
	return &r
}

// ============================================================================
// Queries
// ============================================================================

// EnsureAccount returns the account, creating it with the starting balance
// on first sight.
func (a *App) EnsureAccount(id string) (*account.Account, bool, error) {
	acc, created, err := a.accounts.Open(id)
	if err != nil {
		return nil, false, &PersistenceError{Op: "open account", Err: err}
	}
	if created {
		a.log.Info("account_created", zap.String("account", id), zap.String("balance", acc.Balance.String()))
	}
	return acc, created, nil
}

func (a *App) Account(id string) (*account.Account, error) {
	acc, err := a.accounts.Get(id)
	if err != nil {
		return nil, &PersistenceError{Op: "load account", Err: err}
	}
	if acc == nil {
		return nil, ErrNotFound
	}
	return acc, nil
}

// PendingOrders returns owner's PENDING and PARTIALLY_FILLED orders, oldest first.
func (a *App) PendingOrders(owner account.Ref) ([]*orderbook.Order, error) {
	orders, err := a.store.LoadOpenOrders(owner)
	if err != nil {
		return nil, &PersistenceError{Op: "load orders", Err: err}
	}
	if orders == nil {
		orders = []*orderbook.Order{}
	}
	return orders, nil
}

// Position is a holding valued at the symbol's last trade price, or at
// cost when the symbol has not traded yet.
type Position struct {
	*account.Holding
	CostBasis   decimal.Decimal `json:"costBasis"`
	MarkPrice   decimal.Decimal `json:"markPrice"`
	MarketValue decimal.Decimal `json:"marketValue"`
	UnrealPnL   decimal.Decimal `json:"unrealizedPnl"`
}

type Portfolio struct {
	Account     *account.Account `json:"account"`
	Positions   []Position       `json:"holdings"`
	HoldingsVal decimal.Decimal  `json:"holdingsValue"`
	Equity      decimal.Decimal  `json:"equity"`
}

func (a *App) Portfolio(id string) (*Portfolio, error) {
	acc, err := a.Account(id)
	if err != nil {
		return nil, err
	}
	holdings, err := a.accounts.Holdings(id)
	if err != nil {
		return nil, &PersistenceError{Op: "load holdings", Err: err}
	}

	p := &Portfolio{Account: acc, Positions: []Position{}, HoldingsVal: decimal.Zero}
	for _, h := range holdings {
		mark := h.AvgPrice
		if last, err := a.store.LoadRecentTrades(h.Symbol, 1); err == nil && len(last) == 1 {
			mark = last[0].Price
		}
		cost := h.MarketValue(h.AvgPrice)
		value := h.MarketValue(mark)
		p.Positions = append(p.Positions, Position{
			Holding:     h,
			CostBasis:   cost,
			MarkPrice:   mark,
			MarketValue: value,
			UnrealPnL:   value.Sub(cost),
		})
		p.HoldingsVal = p.HoldingsVal.Add(value)
	}
	p.Equity = acc.Balance.Add(p.HoldingsVal)
	return p, nil
}

// RecentTrades returns up to limit trades of symbol, newest first.
func (a *App) RecentTrades(symbol string, limit int) ([]*matching.Trade, error) {
	if limit <= 0 {
		limit = DefaultTradeLimit
	}
	if limit > MaxTradeLimit {
		limit = MaxTradeLimit
	}
	trades, err := a.store.LoadRecentTrades(strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, &PersistenceError{Op: "load trades", Err: err}
	}
	if trades == nil {
		trades = []*matching.Trade{}
	}
	return trades, nil
}

func (a *App) BestBid(symbol string) (*orderbook.Order, bool) {
	return a.engine.BestBid(strings.ToUpper(symbol))
}

func (a *App) BestAsk(symbol string) (*orderbook.Order, bool) {
	return a.engine.BestAsk(strings.ToUpper(symbol))
}

func (a *App) Snapshot(symbol string) matching.BookSnapshot {
	return a.engine.Snapshot(strings.ToUpper(symbol))
}

func (a *App) Symbols() []string { return a.engine.Symbols() }
