package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/params"
	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/app/exchange"
	"github.com/uhyunpark/papertrade/pkg/metrics"
)

const (
	CookieName   = "userId"
	cookieMaxAge = 30 * 24 * time.Hour
)

// Server handles REST API and WebSocket connections
type Server struct {
	app     *exchange.App
	router  *mux.Router
	hub     *Hub
	metrics *metrics.Metrics
	cfg     params.API
	log     *zap.Logger
	http    *http.Server

	upgrader *websocket.Upgrader
}

// NewServer wires the routes. hub must also be registered as an event sink
// of app for live updates to reach websocket clients; m may be nil.
func NewServer(app *exchange.App, hub *Hub, m *metrics.Metrics, cfg params.API, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     hub,
		metrics: m,
		cfg:     cfg,
		log:     log,

		upgrader: newUpgrader(cfg.CORSOrigins),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.identity)

	api.HandleFunc("/orders", s.handleGetOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/portfolio", s.handleGetPortfolio).Methods(http.MethodGet)
	api.HandleFunc("/users", s.handleGetUser).Methods(http.MethodGet)

	api.HandleFunc("/markets", s.handleGetMarkets).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/bbo", s.handleGetBBO).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods(http.MethodGet)

	s.router.Handle("/ws", s.identity(http.HandlerFunc(s.handleWebSocket)))
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the router behind CORS, metrics and request logging.
func (s *Server) Handler() http.Handler {
	opts := cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}
	if len(s.cfg.CORSOrigins) == 0 {
		// reflect any origin
		opts.AllowOriginFunc = func(string) bool { return true }
	}

	var h http.Handler = s.logRequests(s.router)
	if s.metrics != nil {
		h = s.metrics.Middleware(h)
	}
	return cors.New(opts).Handler(h)
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("api_server_starting", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ==============================
// Middleware
// ==============================

type ownerKey struct{}

func ownerFrom(ctx context.Context) account.Ref {
	if r, ok := ctx.Value(ownerKey{}).(account.Ref); ok {
		return r
	}
	return account.Ref{}
}

// identity resolves the anonymous caller from the userId cookie. A missing
// or malformed cookie gets a fresh UUID; either way the account exists
// before the handler runs.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(CookieName); err == nil {
			if u, err := uuid.Parse(c.Value); err == nil {
				id = u.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     CookieName,
				Value:    id,
				Path:     "/",
				MaxAge:   int(cookieMaxAge / time.Second),
				HttpOnly: true,
				SameSite: http.SameSiteStrictMode,
			})
		}

		if _, _, err := s.app.EnsureAccount(id); err != nil {
			s.respondErr(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ownerKey{}, account.Real(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("took", time.Since(start)))
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.app.PendingOrders(ownerFrom(r.Context()))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return
	}

	res, err := s.app.Submit(r.Context(), exchange.SubmitRequest{
		Owner:    ownerFrom(r.Context()),
		Symbol:   req.Symbol,
		Side:     req.Direction,
		Quantity: req.Quantity,
		Price:    req.Price,
		Type:     req.Type,
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "order id must be a positive integer")
		return
	}
	o, err := s.app.Cancel(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.app.Portfolio(ownerFrom(r.Context()).ID())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	acc, err := s.app.Account(ownerFrom(r.Context()).ID())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, acc)
}

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.app.Symbols())
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	snap := s.app.Snapshot(mux.Vars(r)["symbol"])
	respondJSON(w, http.StatusOK, newOrderbookResponse(snap))
}

func (s *Server) handleGetBBO(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	resp := BBOResponse{Symbol: strings.ToUpper(symbol)}
	if bid, ok := s.app.BestBid(symbol); ok {
		resp.Bid = bid
	}
	if ask, ok := s.app.BestAsk(symbol); ok {
		resp.Ask = ask
	}
	if resp.Bid != nil && resp.Ask != nil {
		spread := resp.Ask.Price.Sub(resp.Bid.Price)
		resp.Spread = &spread
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	trades, err := s.app.RecentTrades(mux.Vars(r)["symbol"], limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "wsClients": s.hub.Clients()})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{Error: error, Message: message})
}

// respondErr maps application errors onto HTTP statuses.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	var verr *exchange.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, "invalid_request", verr.Error())
	case errors.Is(err, exchange.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		s.log.Error("request_failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
