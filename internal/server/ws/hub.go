package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are filtered by the CORS middleware in front of the hub.
		return true
	},
}

// Config tunes the hub.
type Config struct {
	// Channel is the bus channel or pattern carrying market events. Ignored
	// when the hub runs without a bus.
	Channel string
}

// subscribeMsg is the JSON a client sends to narrow or widen its feed.
// Subscribing without markets follows every market; unsubscribing without
// markets stops the feed. Unsubscribing a single market has no effect while
// the client follows every market.
//
//	{"action":"subscribe","markets":["0xabc..."]}
//	{"action":"unsubscribe","markets":["0xabc..."]}
type subscribeMsg struct {
	Action  string        `json:"action"`
	Markets []common.Hash `json:"markets"`
}

// envelope is the part of an event payload the hub routes on.
type envelope struct {
	MarketID common.Hash `json:"market_id"`
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	all     bool
	markets map[common.Hash]bool
}

// Hub fans market events out to connected WebSocket clients. Events arrive
// either from the signal bus (so every replica sees every event) or through
// Broadcast when the process runs without Redis.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	channel    string
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub. bus may be nil.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		channel:    cfg.Channel,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Broadcast queues payload for every client interested in its market. The
// payload is dropped when the hub is saturated so publishers never block.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping event")
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, after which
// new connections are refused. Run must be called once.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil && h.channel != "" {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case payload := <-h.broadcast:
			h.deliver(payload)
		}
	}
}

func (h *Hub) deliver(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(env.MarketID) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// subscribe forwards bus messages into the hub until ctx ends.
func (h *Hub) subscribe(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, h.channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", h.channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed", slog.String("channel", h.channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("channel", h.channel))
				return
			}
			select {
			case h.broadcast <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws?market=0x...
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		markets: make(map[common.Hash]bool),
	}
	for _, m := range r.URL.Query()["market"] {
		if id := common.HexToHash(m); id != (common.Hash{}) {
			c.markets[id] = true
		}
	}
	c.all = len(c.markets) == 0

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) wants(marketID common.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.all || c.markets[marketID]
}

func (c *client) readPump() {
	defer c.leave()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil {
			c.handleSubscription(sub)
		}
	}
}

// leave unregisters the client, or just closes it once the hub has stopped.
func (c *client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	c.conn.Close()
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		if len(msg.Markets) == 0 {
			c.all = true
			clear(c.markets)
			return
		}
		c.all = false
		for _, id := range msg.Markets {
			c.markets[id] = true
		}
	case "unsubscribe":
		if len(msg.Markets) == 0 {
			c.all = false
			clear(c.markets)
			return
		}
		for _, id := range msg.Markets {
			delete(c.markets, id)
		}
	}
}

// writePump sends events as JSON text frames plus periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
