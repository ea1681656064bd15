package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
	"github.com/uhyunpark/papertrade/pkg/events"
)

const (
	ChannelOrders    = "orders"
	orderbookPrefix  = "orderbook:"
	tradesPrefix     = "trades:"
	sendBuffer       = 256
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	writeWait        = 10 * time.Second
	maxMessageLength = 4096
)

func newUpgrader(origins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originAllowed(origins),
	}
}

// originAllowed gates upgrades on the configured CORS origins; the CORS
// middleware does not see them. No configured origins admits any page, and
// a request without an Origin header is not from a browser.
func originAllowed(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if len(allowed) == 0 || allowed["*"] || origin == "" {
			return true
		}
		return allowed[strings.ToLower(origin)]
	}
}

// Hub tracks live websocket clients and fans engine events out to the
// channels they subscribed to. It implements events.Sink.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run owns client registration until ctx is done, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("ws_client_connected", zap.String("client", c.id), zap.String("owner", c.owner.String()), zap.Int("total", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("ws_client_disconnected", zap.String("client", c.id), zap.Int("total", n))
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// sendTo queues data for c unless c has already been dropped.
func (h *Hub) sendTo(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish routes an event: book snapshots to orderbook:SYM, trades to
// trades:SYM, and owner-scoped events to the owner's own orders channel.
// It never blocks; a client with a full buffer misses the message.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	msg := WSMessage{Type: string(ev.Kind), Data: ev.Payload, Timestamp: ev.At.UnixMilli()}

	switch ev.Kind {
	case events.KindBook:
		msg.Channel = orderbookPrefix + ev.Symbol
		if snap, ok := bookPayload(ev.Payload); ok {
			msg.Type = "orderbook"
			msg.Data = newOrderbookResponse(snap)
		}
		h.broadcast(msg, nil)
	case events.KindTrade:
		msg.Channel = tradesPrefix + ev.Symbol
		h.broadcast(msg, nil)
	case events.KindOrder, events.KindTradeSkip:
		if ev.Owner == nil {
			return nil
		}
		msg.Channel = ChannelOrders
		h.broadcast(msg, ev.Owner)
	}
	return nil
}

func (h *Hub) broadcast(msg WSMessage, owner *account.Ref) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("ws_marshal_failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if owner != nil && c.owner != *owner {
			continue
		}
		if !c.IsSubscribed(msg.Channel) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.log.Warn("ws_client_lagging", zap.String("client", c.id), zap.String("channel", msg.Channel))
		}
	}
}

// Client is one websocket connection, bound to the identity that opened it.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	id    string
	owner account.Ref

	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
}

func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
}

// normalizeChannel upper-cases the symbol part and rejects unknown channels.
func normalizeChannel(ch string) (string, bool) {
	ch = strings.TrimSpace(ch)
	if ch == ChannelOrders {
		return ch, true
	}
	for _, p := range []string{orderbookPrefix, tradesPrefix} {
		if sym, ok := strings.CutPrefix(ch, p); ok && strings.TrimSpace(sym) != "" {
			return p + strings.ToUpper(strings.TrimSpace(sym)), true
		}
	}
	return "", false
}

// reply queues a control frame for this client only.
func (c *Client) reply(msg WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.sendTo(c, data)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageLength)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("ws_read_error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(WSMessage{Type: "error", Data: "invalid message"})
			continue
		}

		var applied []string
		for _, raw := range req.Channels {
			ch, ok := normalizeChannel(raw)
			if !ok {
				c.reply(WSMessage{Type: "error", Data: "unknown channel " + raw})
				continue
			}
			switch req.Op {
			case "subscribe":
				c.Subscribe(ch)
			case "unsubscribe":
				c.Unsubscribe(ch)
			}
			applied = append(applied, ch)
		}

		switch req.Op {
		case "subscribe", "unsubscribe":
			c.reply(WSMessage{Type: req.Op + "d", Data: applied})
		default:
			c.reply(WSMessage{Type: "error", Data: "unknown op " + req.Op})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one JSON document per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	// carry a freshly issued identity cookie into the upgrade response
	var hdr http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		hdr = http.Header{"Set-Cookie": cookies}
	}
	conn, err := s.upgrader.Upgrade(w, r, hdr)
	if err != nil {
		s.log.Debug("ws_upgrade_failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            conn.RemoteAddr().String(),
		owner:         owner,
		subscriptions: make(map[string]bool),
	}
	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
