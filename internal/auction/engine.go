package auction

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/engsudal909/sapience-1-sub012/internal/codec"
	"github.com/engsudal909/sapience-1-sub012/internal/crypto"
	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

// Broadcast channels used by the relay. Per-auction traffic travels on the
// auction id itself.
const (
	ChannelAuctions   = "auctions"
	ChannelVaultQuote = "vault_quote"
)

// RequestVerifier checks a taker's auction-start signature. Implemented by
// crypto.Verifier.
type RequestVerifier interface {
	VerifyRequest(req crypto.AuctionRequest, sigHex string) bool
}

// Broadcaster fans a frame out to every subscriber of a channel.
type Broadcaster interface {
	Broadcast(channel string, frame []byte)
}

// EngineConfig wires an Engine's collaborators. Auctions, Bids, and Bus may
// be nil for in-memory operation.
type EngineConfig struct {
	Logger     *slog.Logger
	Domain     string // relay domain embedded in request messages
	ChainID    int64
	OpenWindow time.Duration // how long an auction accepts bids

	Outcomes    *codec.OutcomeCodec
	BidVerifier BidVerifier
	ReqVerifier RequestVerifier

	Auctions domain.AuctionStore
	Bids     domain.BidStore
	Bus      domain.SignalBus
}

// Engine is the relay-side half of the protocol: it admits auction-start
// requests, runs a session per auction, and fans validated bids out to
// subscribers. Protocol violations are answered with an explicit
// auction.error; the auction is never created or the bid never accepted.
type Engine struct {
	cfg    EngineConfig
	logger *slog.Logger

	broadcaster Broadcaster

	sessions *sessionMap
	clock    func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OpenWindow <= 0 {
		cfg.OpenWindow = 5 * time.Minute
	}
	return &Engine{
		cfg:      cfg,
		logger:   cfg.Logger.With(slog.String("component", "auction_engine")),
		sessions: newSessionMap(),
		clock:    time.Now,
	}
}

// SetBroadcaster attaches the hub (or any fan-out) the engine publishes
// through.
func (e *Engine) SetBroadcaster(b Broadcaster) {
	e.broadcaster = b
}

// Session returns the live session for an auction id.
func (e *Engine) Session(auctionID string) (*Session, bool) {
	return e.sessions.get(auctionID)
}

// Restore reloads open auctions from the store into live sessions, e.g.
// after a relay restart.
func (e *Engine) Restore(ctx context.Context) error {
	if e.cfg.Auctions == nil {
		return nil
	}
	open, err := e.cfg.Auctions.ListOpen(ctx)
	if err != nil {
		return err
	}
	for _, a := range open {
		e.sessions.put(a.ID, NewSession(a, e.cfg.BidVerifier))
	}
	if len(open) > 0 {
		e.logger.Info("restored open auctions", slog.Int("count", len(open)))
	}
	return nil
}

// HandleEnvelope routes one client frame. Direct responses go through
// reply; channel traffic goes through the broadcaster.
func (e *Engine) HandleEnvelope(ctx context.Context, env codec.Envelope, reply func(frame []byte)) {
	switch env.Type {
	case codec.TypeAuctionStart:
		e.handleStart(ctx, env, reply)
	case codec.TypeAuctionSubscribe:
		e.handleSubscribe(env, reply)
	case codec.TypeAuctionBid:
		e.handleBid(ctx, env, reply)
	default:
		// vault_quote.observe/unobserve toggle hub group membership and
		// never reach the engine; anything else is ignored.
	}
}

func (e *Engine) handleStart(ctx context.Context, env codec.Envelope, reply func([]byte)) {
	var req codec.StartRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		e.reject(reply, "", "bad_payload", "auction.start payload is not valid JSON")
		return
	}

	wager, ok := new(big.Int).SetString(req.Wager, 10)
	switch {
	case !common.IsHexAddress(req.Taker):
		e.reject(reply, "", "bad_taker", "taker is not a valid address")
		return
	case !common.IsHexAddress(req.Resolver):
		e.reject(reply, "", "bad_resolver", "resolver is not a valid address")
		return
	case !ok || wager.Sign() <= 0:
		e.reject(reply, "", "bad_wager", "wager must be a positive integer")
		return
	case len(req.PredictedOutcomes) != 1:
		// Single-blob protocol invariant: producers aggregate multi-leg
		// predictions into one blob before signing.
		e.reject(reply, "", "bad_outcomes", "exactly one predicted-outcomes blob is required")
		return
	case req.Signature == "":
		e.reject(reply, "", "missing_signature", "auction.start must be signed")
		return
	case req.ChainID != e.cfg.ChainID:
		e.reject(reply, "", "bad_chain", "request signed for a different chain")
		return
	}

	if set := e.cfg.Outcomes.Decode(req.Resolver, req.PredictedOutcomes); set.Kind == domain.ResolverKindUnknown {
		e.reject(reply, "", "bad_outcomes", "predicted-outcomes blob does not decode")
		return
	}

	authReq := crypto.AuctionRequest{
		Domain:   e.cfg.Domain,
		Taker:    req.Taker,
		Wager:    req.Wager,
		Outcomes: req.PredictedOutcomes,
		Resolver: req.Resolver,
		ChainID:  req.ChainID,
		Nonce:    req.TakerNonce,
		IssuedAt: req.IssuedAt,
	}
	if e.cfg.ReqVerifier != nil && !e.cfg.ReqVerifier.VerifyRequest(authReq, req.Signature) {
		e.reject(reply, "", "bad_signature", "request signature does not verify")
		return
	}

	now := e.clock()
	a := domain.Auction{
		ID:                uuid.NewString(),
		Taker:             req.Taker,
		Wager:             wager,
		Resolver:          req.Resolver,
		PredictedOutcomes: req.PredictedOutcomes,
		Deadline:          now.Add(e.cfg.OpenWindow),
		Status:            domain.AuctionStatusOpen,
		ChainID:           req.ChainID,
		CreatedAt:         now,
	}

	if e.cfg.Auctions != nil {
		if err := e.cfg.Auctions.Create(ctx, a); err != nil {
			e.logger.Error("persist auction", slog.String("error", err.Error()))
			e.reject(reply, "", "internal", "failed to record auction")
			return
		}
	}

	e.sessions.put(a.ID, NewSession(a, e.cfg.BidVerifier))
	e.logger.Info("auction opened",
		slog.String("auction_id", a.ID),
		slog.String("taker", a.Taker),
		slog.String("wager", a.Wager.String()),
	)

	started := codec.StartedEvent{
		AuctionID:         a.ID,
		Taker:             a.Taker,
		Wager:             a.Wager.String(),
		Resolver:          a.Resolver,
		PredictedOutcomes: a.PredictedOutcomes,
		Deadline:          a.Deadline.Unix(),
	}
	frame, err := codec.EncodeScoped(codec.TypeAuctionStarted, a.ID, started)
	if err != nil {
		e.logger.Error("encode auction.started", slog.String("error", err.Error()))
		return
	}
	// The requester is subscribed to the announcements channel like every
	// other client, so the broadcast is its confirmation; a direct reply on
	// top would deliver the event twice.
	e.publish(ctx, ChannelAuctions, frame)
}

func (e *Engine) handleSubscribe(env codec.Envelope, reply func([]byte)) {
	auctionID := codec.ResolveChannel(env)
	if _, ok := e.sessions.get(auctionID); !ok {
		e.reject(reply, auctionID, "unknown_auction", "no such auction")
		return
	}
	frame, err := codec.EncodeScoped(codec.TypeAuctionAck, auctionID, codec.AckEvent{AuctionID: auctionID})
	if err != nil {
		e.logger.Error("encode auction.ack", slog.String("error", err.Error()))
		return
	}
	reply(frame)
}

func (e *Engine) handleBid(ctx context.Context, env codec.Envelope, reply func([]byte)) {
	auctionID := codec.ResolveChannel(env)
	s, ok := e.sessions.get(auctionID)
	if !ok {
		e.reject(reply, auctionID, "unknown_auction", "no such auction")
		return
	}

	var ev codec.BidEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		e.reject(reply, auctionID, "bad_payload", "auction.bid payload is not valid JSON")
		return
	}
	if !common.IsHexAddress(ev.Maker) || ev.Signature == "" || ev.MakerDeadline <= 0 {
		e.reject(reply, auctionID, "bad_bid", "maker, signature, and deadline are required")
		return
	}
	bid, ok := BidFromEvent(ev)
	if !ok || bid.MakerWager.Sign() <= 0 {
		e.reject(reply, auctionID, "bad_wager", "maker wager must be a positive integer")
		return
	}
	bid.AuctionID = auctionID
	if bid.ID == "" {
		bid.ID = uuid.NewString()
	}
	bid.ReceivedAt = e.clock()
	bid.ValidationStatus = domain.ValidationPending

	stamped, err := s.AddBid(bid)
	if err != nil {
		e.reject(reply, auctionID, "auction_closed", "auction is closed to new bids")
		return
	}

	if e.cfg.Bids != nil {
		if err := e.cfg.Bids.Append(ctx, stamped); err != nil {
			e.logger.Error("persist bid", slog.String("error", err.Error()))
		}
	}

	e.logger.Info("bid received",
		slog.String("auction_id", auctionID),
		slog.String("maker", stamped.Maker),
		slog.String("status", string(stamped.ValidationStatus)),
	)

	frame, err := codec.EncodeScoped(codec.TypeAuctionBid, auctionID, EventFromBid(stamped))
	if err != nil {
		e.logger.Error("encode auction.bid", slog.String("error", err.Error()))
		return
	}
	e.publish(ctx, auctionID, frame)
}

// ExpireLoop periodically expires open auctions whose deadline has passed
// without a valid bid. It runs until the context is cancelled.
func (e *Engine) ExpireLoop(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.expireDue(ctx)
		}
	}
}

func (e *Engine) expireDue(ctx context.Context) {
	now := e.clock()
	for id, s := range e.sessions.snapshot() {
		if !s.ExpireIfDue(now) {
			continue
		}
		e.logger.Info("auction expired", slog.String("auction_id", id))
		if e.cfg.Auctions != nil {
			if err := e.cfg.Auctions.UpdateStatus(ctx, id, domain.AuctionStatusExpired); err != nil {
				e.logger.Error("persist expiry",
					slog.String("auction_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (e *Engine) reject(reply func([]byte), auctionID, code, msg string) {
	frame, err := codec.EncodeScoped(codec.TypeAuctionError, auctionID, codec.ErrorEvent{
		AuctionID: auctionID,
		Code:      code,
		Message:   msg,
	})
	if err != nil {
		e.logger.Error("encode auction.error", slog.String("error", err.Error()))
		return
	}
	reply(frame)
}

// publish routes an event to subscribers. With a bus attached the frame
// travels through it and loops back via the hub's bridge, so every relay
// instance delivers it exactly once; without one it goes straight to the
// local broadcaster.
func (e *Engine) publish(ctx context.Context, channel string, frame []byte) {
	if e.cfg.Bus != nil {
		err := e.cfg.Bus.Publish(ctx, "auction."+channel, frame)
		if err == nil {
			return
		}
		e.logger.Warn("bus publish, falling back to local broadcast",
			slog.String("error", err.Error()),
		)
	}
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(channel, frame)
	}
}

// sessionMap is a mutex-guarded auction-id -> session map.
type sessionMap struct {
	mu sync.Mutex
	m  map[string]*Session
}

func newSessionMap() *sessionMap {
	return &sessionMap{m: make(map[string]*Session)}
}

func (sm *sessionMap) get(id string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	s, ok := sm.m[id]
	return s, ok
}

func (sm *sessionMap) put(id string, s *Session) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.m[id] = s
}

func (sm *sessionMap) snapshot() map[string]*Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make(map[string]*Session, len(sm.m))
	for id, s := range sm.m {
		out[id] = s
	}
	return out
}
