package feed

import (
	"log/slog"
	"sync"
	"time"

	"github.com/engsudal909/sapience-1-sub012/internal/auction"
	"github.com/engsudal909/sapience-1-sub012/internal/codec"
	"github.com/engsudal909/sapience-1-sub012/internal/domain"
	"github.com/engsudal909/sapience-1-sub012/internal/transport"
)

const (
	// DefaultWindow is how far back the trailing bid window reaches.
	DefaultWindow = 5 * time.Minute
	// DefaultCap bounds the number of retained entries regardless of age.
	DefaultCap = 1000
)

// Entry is one observed bid with the auction it belongs to.
type Entry struct {
	AuctionID string
	Bid       domain.Bid
}

// Aggregator consumes the relay feed on a shared connection and keeps a
// bounded trailing window of observed bids across all subscribed auctions.
// Reads return newest first; eviction drops oldest first, by age and then
// by capacity.
type Aggregator struct {
	conn   *transport.Conn
	logger *slog.Logger
	clock  func() time.Time

	window time.Duration
	cap    int

	mu         sync.Mutex
	entries    []Entry // oldest first; start marks the live head
	start      int
	subscribed map[string]struct{}

	disposers []func()
}

// Option tunes an Aggregator.
type Option func(*Aggregator)

// WithWindow overrides the trailing window length.
func WithWindow(d time.Duration) Option {
	return func(a *Aggregator) { a.window = d }
}

// WithCap overrides the retained-entry cap.
func WithCap(n int) Option {
	return func(a *Aggregator) { a.cap = n }
}

// NewAggregator attaches to conn. Every auction announced on the feed is
// subscribed automatically, and the subscription set is replayed whenever
// the connection (re)opens.
func NewAggregator(conn *transport.Conn, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		conn:       conn,
		logger:     logger.With(slog.String("component", "feed")),
		clock:      time.Now,
		window:     DefaultWindow,
		cap:        DefaultCap,
		subscribed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.disposers = append(a.disposers,
		conn.OnOpen(a.resubscribeAll),
		conn.OnMessage(a.handleFrame),
	)
	return a
}

// Close detaches the aggregator from its connection. Retained entries stay
// readable.
func (a *Aggregator) Close() {
	for _, dispose := range a.disposers {
		dispose()
	}
	a.disposers = nil
}

// Subscribe adds an auction to the feed explicitly, ahead of (or instead
// of) its auction.started announcement.
func (a *Aggregator) Subscribe(auctionID string) {
	a.mu.Lock()
	_, known := a.subscribed[auctionID]
	a.subscribed[auctionID] = struct{}{}
	a.mu.Unlock()
	if !known {
		a.sendSubscribe(auctionID)
	}
}

// Subscribed reports whether an auction is on the feed.
func (a *Aggregator) Subscribed(auctionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.subscribed[auctionID]
	return ok
}

// Recent returns up to limit entries inside the trailing window, newest
// first. limit <= 0 means no limit beyond the window itself.
func (a *Aggregator) Recent(limit int) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.evictLocked(a.clock())
	live := a.entries[a.start:]
	n := len(live)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	for i := len(live) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, live[i])
	}
	return out
}

// RecentForAuction is Recent filtered to one auction.
func (a *Aggregator) RecentForAuction(auctionID string, limit int) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.evictLocked(a.clock())
	live := a.entries[a.start:]
	out := make([]Entry, 0, 16)
	for i := len(live) - 1; i >= 0; i-- {
		if live[i].AuctionID != auctionID {
			continue
		}
		out = append(out, live[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len reports the number of live entries.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.evictLocked(a.clock())
	return len(a.entries) - a.start
}

func (a *Aggregator) handleFrame(raw []byte) {
	env, err := codec.DecodeEnvelope(raw)
	if err != nil {
		a.logger.Debug("dropping undecodable frame", slog.String("error", err.Error()))
		return
	}
	switch env.Type {
	case codec.TypeAuctionStarted:
		var ev codec.StartedEvent
		if err := codec.DecodePayload(env, &ev); err != nil || ev.AuctionID == "" {
			return
		}
		a.Subscribe(ev.AuctionID)
	case codec.TypeAuctionBid:
		auctionID := codec.ResolveChannel(env)
		var ev codec.BidEvent
		if err := codec.DecodePayload(env, &ev); err != nil {
			return
		}
		bid, ok := auction.BidFromEvent(ev)
		if !ok {
			return
		}
		a.append(Entry{AuctionID: auctionID, Bid: bid})
	}
}

func (a *Aggregator) append(e Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e.Bid.ReceivedAt.IsZero() {
		e.Bid.ReceivedAt = a.clock()
	}
	a.entries = append(a.entries, e)
	a.evictLocked(a.clock())
}

// evictLocked drops entries older than the window, then trims to the cap
// oldest first. Compaction copies the live tail down once the dead prefix
// dominates, keeping appends amortized O(1).
func (a *Aggregator) evictLocked(now time.Time) {
	cutoff := now.Add(-a.window)
	for a.start < len(a.entries) && a.entries[a.start].Bid.ReceivedAt.Before(cutoff) {
		a.start++
	}
	for len(a.entries)-a.start > a.cap {
		a.start++
	}
	if a.start > 0 && a.start*2 >= len(a.entries) {
		a.entries = append(a.entries[:0], a.entries[a.start:]...)
		a.start = 0
	}
}

func (a *Aggregator) resubscribeAll() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.subscribed))
	for id := range a.subscribed {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.sendSubscribe(id)
	}
}

func (a *Aggregator) sendSubscribe(auctionID string) {
	frame, err := codec.EncodeScoped(codec.TypeAuctionSubscribe, auctionID, codec.SubscribeRequest{AuctionID: auctionID})
	if err != nil {
		a.logger.Error("encode subscribe", slog.String("error", err.Error()))
		return
	}
	if err := a.conn.Send(frame); err != nil {
		a.logger.Warn("queue subscribe",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}
