// Package ws serves the relay's websocket endpoint: it upgrades client
// connections, routes protocol frames to the auction engine, and fans
// engine events out to channel subscribers.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/engsudal909/sapience-1-sub012/internal/auction"
	"github.com/engsudal909/sapience-1-sub012/internal/codec"
	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming frame.
	maxMessageSize = 8192

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// busPrefix namespaces auction traffic on the shared signal bus so relay
// instances can bridge each other's events.
const busPrefix = "auction."

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // subscribed channels
	mu   sync.RWMutex
}

// Engine is the slice of the auction engine the hub needs.
type Engine interface {
	HandleEnvelope(ctx context.Context, env codec.Envelope, reply func(frame []byte))
}

// Hub manages connected WebSocket clients. Inbound frames go to the auction
// engine; engine events come back through Broadcast and reach every client
// subscribed to the event's channel. With a signal bus attached the hub also
// bridges events published by other relay instances.
type Hub struct {
	engine     Engine
	bus        domain.SignalBus
	logger     *slog.Logger
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
}

// broadcastMsg carries a frame along with its channel so the hub routes it
// only to subscribed clients.
type broadcastMsg struct {
	channel string
	frame   []byte
}

// NewHub creates a hub. bus may be nil for a single-relay deployment.
func NewHub(engine Engine, bus domain.SignalBus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		engine:     engine,
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Broadcast queues a frame for every client subscribed to channel. It
// implements the engine's Broadcaster.
func (h *Hub) Broadcast(channel string, frame []byte) {
	h.broadcast <- broadcastMsg{channel: channel, frame: frame}
}

// Run is the hub's main event loop. It exits when the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.bridgeBus(ctx)
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
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.frame:
					default:
						// Client's send buffer is full; drop the frame.
						h.logger.Warn("dropping frame for slow client",
							slog.String("channel", msg.channel),
						)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// bridgeBus forwards auction events published by other relay instances to
// this hub's clients.
func (h *Hub) bridgeBus(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, busPrefix+"*")
	if err != nil {
		h.logger.Error("bus subscribe failed", slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("bus subscription closed")
				return
			}
			env, err := codec.DecodeEnvelope(data)
			if err != nil {
				continue
			}
			channel := codec.ResolveChannel(env)
			if env.Type == codec.TypeAuctionStarted {
				channel = auction.ChannelAuctions
			}
			h.Broadcast(channel, data)
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{
			// Every client sees auction announcements; per-auction and
			// vault-quote channels are opt-in.
			auction.ChannelAuctions: true,
		},
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads frames from the WebSocket connection and routes them.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		env, err := codec.DecodeEnvelope(message)
		if err != nil {
			c.hub.logger.Debug("dropping undecodable frame", slog.String("error", err.Error()))
			continue
		}
		c.routeFrame(ctx, env)
	}
}

// routeFrame handles subscription frames locally and hands everything else
// to the engine, with replies going straight back to this client.
func (c *client) routeFrame(ctx context.Context, env codec.Envelope) {
	switch env.Type {
	case codec.TypeVaultQuoteObserve:
		c.setSub(auction.ChannelVaultQuote, true)
	case codec.TypeVaultQuoteUnobserve:
		c.setSub(auction.ChannelVaultQuote, false)
	case codec.TypeAuctionSubscribe:
		// Membership follows the engine's verdict: only an ack adds the
		// channel, so a rejected subscribe leaves no dangling subscription.
		ch := codec.ResolveChannel(env)
		c.hub.engine.HandleEnvelope(ctx, env, func(frame []byte) {
			if ch != "" {
				if out, err := codec.DecodeEnvelope(frame); err == nil && out.Type == codec.TypeAuctionAck {
					c.setSub(ch, true)
				}
			}
			c.trySend(frame)
		})
	default:
		c.hub.engine.HandleEnvelope(ctx, env, c.trySend)
	}
}

func (c *client) setSub(channel string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.subs[channel] = true
	} else {
		delete(c.subs, channel)
	}
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}

	// Wildcard match: "auction:*" should match "auction:12345".
	for sub := range c.subs {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, strings.TrimSuffix(sub, "*")) {
			return true
		}
	}
	return false
}

// trySend queues a frame to the client without blocking.
func (c *client) trySend(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.hub.logger.Warn("dropping reply for slow client")
	}
}

// writePump pumps frames from the hub to the WebSocket connection and sends
// periodic ping frames for keepalive.
func (c *client) writePump() {
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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
