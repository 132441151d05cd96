// Package transport maintains the client's logical connection to the relay:
// one socket per Conn, reconnection with exponential backoff, heartbeat,
// stale-connection detection, and an outbound queue flushed in submission
// order when the connection opens. Everything above this package sees a
// send/listen interface and never a socket.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateStale
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

const (
	defaultInitialBackoff    = 400 * time.Millisecond
	defaultMaxBackoff        = 30 * time.Second
	defaultHeartbeatInterval = 25 * time.Second
	defaultStaleAfter        = 60 * time.Second
	defaultHandshakeTimeout  = 15 * time.Second
	defaultQueueLimit        = 512

	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
)

// Config tunes a Conn. Zero values take the defaults above.
type Config struct {
	URL               string
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	HandshakeTimeout  time.Duration
	QueueLimit        int
	Logger            *slog.Logger
}

func (c *Config) withDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = defaultQueueLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Conn is one logical client-to-relay link. At most one live socket exists
// per Conn; a closed or stale socket is never reused, every reconnect cycle
// replaces it.
type Conn struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex // guards url, ws, state, queue, closed
	url    string
	ws     *websocket.Conn
	state  State
	queue  [][]byte
	closed bool

	// writeMu serialises socket writes; gorilla/websocket does not support
	// concurrent writers.
	writeMu sync.Mutex

	lastActivity atomic.Int64 // unix nanos of the last inbound frame or pong

	listMu   sync.Mutex
	nextID   uint64
	openLs   map[uint64]func()
	msgLs    map[uint64]func([]byte)
	closeLs  map[uint64]func(error)
	disposed bool
}

// Dial creates a Conn and starts its connect loop. It returns immediately;
// messages sent before the socket opens are queued.
func Dial(cfg Config) *Conn {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("component", "transport")),
		ctx:     ctx,
		cancel:  cancel,
		url:     cfg.URL,
		state:   StateDisconnected,
		openLs:  make(map[uint64]func()),
		msgLs:   make(map[uint64]func([]byte)),
		closeLs: make(map[uint64]func(error)),
	}
	go c.connectLoop()
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL returns the current target.
func (c *Conn) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// SetURL updates the target. A changed URL force-closes the current socket
// so the reconnect cycle picks up the new target; an unchanged URL is a
// no-op.
func (c *Conn) SetURL(url string) {
	c.mu.Lock()
	if c.closed || url == c.url {
		c.mu.Unlock()
		return
	}
	c.url = url
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
}

// Send writes a frame if the connection is open, otherwise queues it for
// flushing in submission order once the connection opens. Socket faults do
// not surface here; they drive the reconnect state machine and the frame is
// requeued. The only errors are a disposed Conn and a full queue.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrConnClosed
	}
	if c.state == StateOpen && c.ws != nil {
		ws := c.ws
		c.mu.Unlock()
		if err := c.writeFrame(ws, frame); err != nil {
			// The socket is going away; keep the frame for the next cycle.
			c.requeueFront(frame)
		}
		return nil
	}
	if len(c.queue) >= c.cfg.QueueLimit {
		c.mu.Unlock()
		return domain.ErrQueueFull
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()
	return nil
}

func (c *Conn) requeueFront(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.queue) >= c.cfg.QueueLimit {
		return
	}
	c.queue = append([][]byte{frame}, c.queue...)
}

// restorePending puts an unflushed reconnect remainder back at the head of
// the queue. A Send racing the dying socket may have requeued its own frame
// already, so the remainder is prepended, never assigned: those frames are
// older than anything requeued after the flush began, and losing them would
// be a silent drop.
func (c *Conn) restorePending(remainder [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(remainder) == 0 {
		return
	}
	c.queue = append(append(make([][]byte, 0, len(remainder)+len(c.queue)), remainder...), c.queue...)
}

// OnOpen registers a listener fired on every successful open, including
// reconnects. The returned disposer unregisters it.
func (c *Conn) OnOpen(fn func()) func() {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	c.nextID++
	id := c.nextID
	c.openLs[id] = fn
	return func() {
		c.listMu.Lock()
		defer c.listMu.Unlock()
		delete(c.openLs, id)
	}
}

// OnMessage registers a listener for inbound frames. Delivery is FIFO per
// connection instance; order across listeners is unspecified.
func (c *Conn) OnMessage(fn func([]byte)) func() {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	c.nextID++
	id := c.nextID
	c.msgLs[id] = fn
	return func() {
		c.listMu.Lock()
		defer c.listMu.Unlock()
		delete(c.msgLs, id)
	}
}

// OnClose registers a listener fired when a socket is lost. The error is
// nil on an orderly peer close.
func (c *Conn) OnClose(fn func(error)) func() {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	c.nextID++
	id := c.nextID
	c.closeLs[id] = fn
	return func() {
		c.listMu.Lock()
		defer c.listMu.Unlock()
		delete(c.closeLs, id)
	}
}

// Close disposes the Conn: all timers stop, the socket is released, queued
// frames are dropped, and no listener fires afterwards. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosing
	ws := c.ws
	c.ws = nil
	c.queue = nil
	c.mu.Unlock()

	c.listMu.Lock()
	c.disposed = true
	c.listMu.Unlock()

	c.cancel()

	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()
		_ = ws.Close()
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return nil
}

// connectLoop drives disconnected -> connecting -> open -> disconnected
// cycles until disposal. Backoff doubles per failed attempt and resets on
// every successful open.
func (c *Conn) connectLoop() {
	var attempt int
	for {
		if c.ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		url := c.url
		c.mu.Unlock()

		dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
		ws, _, err := dialer.DialContext(c.ctx, url, nil)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			attempt++
			c.logger.Debug("dial failed",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			c.sleepBackoff(attempt)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = ws.Close()
			return
		}
		c.ws = ws
		c.state = StateOpen
		pending := c.queue
		c.queue = nil
		c.mu.Unlock()

		attempt = 0
		c.touch()
		ws.SetPongHandler(func(string) error {
			c.touch()
			return nil
		})
		c.logger.Info("connected", slog.String("url", url))

		// Flush frames queued while disconnected, oldest first. A write
		// fault here means the socket died immediately; the read loop below
		// notices and the remainder is requeued.
		for i, frame := range pending {
			if err := c.writeFrame(ws, frame); err != nil {
				c.logger.Warn("flush interrupted",
					slog.Int("sent", i),
					slog.Int("pending", len(pending)-i),
				)
				c.restorePending(pending[i:])
				break
			}
		}

		hbCtx, hbCancel := context.WithCancel(c.ctx)
		go c.heartbeatLoop(hbCtx, ws)

		c.fireOpen()

		readErr := c.readLoop(ws)
		hbCancel()
		_ = ws.Close()

		c.mu.Lock()
		c.ws = nil
		closed := c.closed
		if !closed && c.state != StateStale {
			c.state = StateDisconnected
		}
		c.mu.Unlock()

		if closed || c.ctx.Err() != nil {
			return
		}

		c.fireClose(readErr)
		c.logger.Warn("connection lost", slog.String("url", url))

		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		attempt++
		c.sleepBackoff(attempt)
	}
}

// readLoop reads until the socket errors. Dispatch is inline, so message
// delivery stays FIFO per connection instance.
func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		c.touch()
		c.fireMessage(frame)
	}
}

// heartbeatLoop sends pings on a fixed interval while open and force-closes
// the socket when no traffic has been observed for the stale window. This
// guards against half-open sockets that report open but are dead.
func (c *Conn) heartbeatLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastActivity.Load()))
			if idle > c.cfg.StaleAfter {
				c.logger.Warn("connection stale, forcing reconnect",
					slog.Duration("idle", idle),
				)
				c.mu.Lock()
				if !c.closed && c.ws == ws {
					c.state = StateStale
				}
				c.mu.Unlock()
				_ = ws.Close()
				return
			}

			c.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Conn) writeFrame(ws *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// sleepBackoff waits min(initial * 2^(attempt-1), max), returning early on
// disposal.
func (c *Conn) sleepBackoff(attempt int) {
	delay := c.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.MaxBackoff {
			delay = c.cfg.MaxBackoff
			break
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
	case <-timer.C:
	}
}

func (c *Conn) fireOpen() {
	for _, fn := range c.snapshotOpen() {
		fn()
	}
}

func (c *Conn) fireMessage(frame []byte) {
	for _, fn := range c.snapshotMsg() {
		fn(frame)
	}
}

func (c *Conn) fireClose(err error) {
	for _, fn := range c.snapshotClose() {
		fn(err)
	}
}

func (c *Conn) snapshotOpen() []func() {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	if c.disposed {
		return nil
	}
	out := make([]func(), 0, len(c.openLs))
	for _, fn := range c.openLs {
		out = append(out, fn)
	}
	return out
}

func (c *Conn) snapshotMsg() []func([]byte) {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	if c.disposed {
		return nil
	}
	out := make([]func([]byte), 0, len(c.msgLs))
	for _, fn := range c.msgLs {
		out = append(out, fn)
	}
	return out
}

func (c *Conn) snapshotClose() []func(error) {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	if c.disposed {
		return nil
	}
	out := make([]func(error), 0, len(c.closeLs))
	for _, fn := range c.closeLs {
		out = append(out, fn)
	}
	return out
}
