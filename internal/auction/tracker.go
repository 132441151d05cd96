package auction

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/engsudal909/sapience-1-sub012/internal/codec"
	"github.com/engsudal909/sapience-1-sub012/internal/domain"
	"github.com/engsudal909/sapience-1-sub012/internal/transport"
)

// Tracker is the client-side owner of auction sessions. It decodes relay
// frames into session updates and replays auction.subscribe for every
// tracked auction after a transport reconnect; subscriptions do not survive
// a reconnect on the relay side.
type Tracker struct {
	conn     *transport.Conn
	logger   *slog.Logger
	verifier BidVerifier

	mu       sync.Mutex
	sessions map[string]*Session

	onStarted func(domain.Auction)
	onBid     func(auctionID string, bid domain.Bid)

	disposers []func()
}

// NewTracker wires a Tracker to the given connection. Pass a nil verifier
// to trust relay-stamped validation statuses instead of re-verifying
// locally.
func NewTracker(conn *transport.Conn, verifier BidVerifier, logger *slog.Logger) *Tracker {
	t := &Tracker{
		conn:     conn,
		logger:   logger.With(slog.String("component", "auction_tracker")),
		verifier: verifier,
		sessions: make(map[string]*Session),
	}
	t.disposers = append(t.disposers,
		conn.OnOpen(t.resubscribeAll),
		conn.OnMessage(t.handleFrame),
	)
	return t
}

// OnStarted registers a hook fired when a new auction is observed.
func (t *Tracker) OnStarted(fn func(domain.Auction)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStarted = fn
}

// OnBid registers a hook fired for every bid after it has been stamped and
// appended to its session.
func (t *Tracker) OnBid(fn func(auctionID string, bid domain.Bid)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onBid = fn
}

// Track creates a session for the auction and subscribes to its channel.
func (t *Tracker) Track(a domain.Auction) *Session {
	t.mu.Lock()
	if s, ok := t.sessions[a.ID]; ok {
		t.mu.Unlock()
		return s
	}
	s := NewSession(a, t.verifier)
	t.sessions[a.ID] = s
	t.mu.Unlock()

	t.subscribe(a.ID)
	return s
}

// Session returns the session for an auction id, if tracked.
func (t *Tracker) Session(auctionID string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[auctionID]
	return s, ok
}

// Sessions returns all tracked sessions.
func (t *Tracker) Sessions() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// Close unregisters the tracker's transport listeners. The connection
// itself belongs to the caller.
func (t *Tracker) Close() {
	for _, dispose := range t.disposers {
		dispose()
	}
	t.disposers = nil
}

func (t *Tracker) subscribe(auctionID string) {
	frame, err := codec.EncodeScoped(codec.TypeAuctionSubscribe, auctionID, codec.SubscribeRequest{AuctionID: auctionID})
	if err != nil {
		t.logger.Error("encode subscribe", slog.String("error", err.Error()))
		return
	}
	if err := t.conn.Send(frame); err != nil {
		t.logger.Warn("send subscribe",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}

// resubscribeAll replays every tracked subscription. Fired on each
// transport open, reconnects included.
func (t *Tracker) resubscribeAll() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.subscribe(id)
	}
	if len(ids) > 0 {
		t.logger.Info("resubscribed tracked auctions", slog.Int("count", len(ids)))
	}
}

func (t *Tracker) handleFrame(raw []byte) {
	env, err := codec.DecodeEnvelope(raw)
	if err != nil {
		// Decode faults are non-fatal; drop the frame.
		t.logger.Debug("dropping undecodable frame", slog.String("error", err.Error()))
		return
	}

	switch env.Type {
	case codec.TypeAuctionStarted:
		t.handleStarted(env)
	case codec.TypeAuctionAck:
		t.logger.Debug("subscription acknowledged", slog.String("auction_id", codec.ResolveChannel(env)))
	case codec.TypeAuctionBid:
		t.handleBid(env)
	}
}

func (t *Tracker) handleStarted(env codec.Envelope) {
	var ev codec.StartedEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.AuctionID == "" {
		t.logger.Debug("dropping malformed auction.started")
		return
	}
	wager, ok := new(big.Int).SetString(ev.Wager, 10)
	if !ok {
		t.logger.Debug("dropping auction.started with bad wager", slog.String("wager", ev.Wager))
		return
	}

	a := domain.Auction{
		ID:                ev.AuctionID,
		Taker:             ev.Taker,
		Wager:             wager,
		Resolver:          ev.Resolver,
		PredictedOutcomes: ev.PredictedOutcomes,
		Deadline:          time.Unix(ev.Deadline, 0),
		Status:            domain.AuctionStatusOpen,
	}
	t.Track(a)

	t.mu.Lock()
	hook := t.onStarted
	t.mu.Unlock()
	if hook != nil {
		hook(a)
	}
}

func (t *Tracker) handleBid(env codec.Envelope) {
	auctionID := codec.ResolveChannel(env)
	s, ok := t.Session(auctionID)
	if !ok {
		t.logger.Debug("bid for untracked auction", slog.String("auction_id", auctionID))
		return
	}

	var ev codec.BidEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		t.logger.Debug("dropping malformed auction.bid")
		return
	}
	bid, ok := BidFromEvent(ev)
	if !ok {
		t.logger.Debug("dropping auction.bid with bad fields", slog.String("auction_id", auctionID))
		return
	}

	stamped, err := s.AddBid(bid)
	if err != nil {
		t.logger.Debug("bid rejected", slog.String("error", err.Error()))
		return
	}

	t.mu.Lock()
	hook := t.onBid
	t.mu.Unlock()
	if hook != nil {
		hook(auctionID, stamped)
	}
}

// BidFromEvent converts a wire bid into its domain form. ok is false when a
// numeric field does not parse.
func BidFromEvent(ev codec.BidEvent) (domain.Bid, bool) {
	wager, ok := new(big.Int).SetString(ev.MakerWager, 10)
	if !ok {
		return domain.Bid{}, false
	}
	b := domain.Bid{
		ID:               ev.ID,
		AuctionID:        ev.AuctionID,
		Maker:            ev.Maker,
		MakerWager:       wager,
		MakerDeadline:    ev.MakerDeadline,
		MakerNonce:       ev.MakerNonce,
		Signature:        ev.Signature,
		ValidationStatus: domain.ValidationStatus(ev.ValidationStatus),
	}
	if ev.ReceivedAt > 0 {
		b.ReceivedAt = time.UnixMilli(ev.ReceivedAt)
	}
	return b, true
}

// EventFromBid converts a domain bid into its wire form.
func EventFromBid(b domain.Bid) codec.BidEvent {
	ev := codec.BidEvent{
		ID:               b.ID,
		AuctionID:        b.AuctionID,
		Maker:            b.Maker,
		MakerDeadline:    b.MakerDeadline,
		MakerNonce:       b.MakerNonce,
		Signature:        b.Signature,
		ValidationStatus: string(b.ValidationStatus),
	}
	if b.MakerWager != nil {
		ev.MakerWager = b.MakerWager.String()
	}
	if !b.ReceivedAt.IsZero() {
		ev.ReceivedAt = b.ReceivedAt.UnixMilli()
	}
	return ev
}
