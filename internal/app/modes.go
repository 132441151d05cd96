package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/engsudal909/sapience-1-sub012/internal/auction"
	"github.com/engsudal909/sapience-1-sub012/internal/codec"
	"github.com/engsudal909/sapience-1-sub012/internal/crypto"
	"github.com/engsudal909/sapience-1-sub012/internal/domain"
	"github.com/engsudal909/sapience-1-sub012/internal/feed"
	"github.com/engsudal909/sapience-1-sub012/internal/relay/ws"
	"github.com/engsudal909/sapience-1-sub012/internal/transport"
)

// RelayMode serves the websocket endpoint: it runs the auction engine, the
// client hub, and the expiry sweeper until the context is cancelled.
func (a *App) RelayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting relay mode", slog.Int("port", a.cfg.Relay.Port))

	engine := auction.NewEngine(auction.EngineConfig{
		Logger:      a.logger,
		Domain:      a.cfg.Relay.Domain,
		ChainID:     a.cfg.Chain.ChainID,
		OpenWindow:  a.cfg.Relay.OpenWindow.Duration,
		Outcomes:    deps.Outcomes,
		BidVerifier: deps.Verifier,
		ReqVerifier: deps.Verifier,
		Auctions:    deps.AuctionStore,
		Bids:        deps.BidStore,
		Bus:         deps.SignalBus,
	})
	if err := engine.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore auctions: %w", err)
	}

	hub := ws.NewHub(engine, deps.SignalBus, a.logger)
	engine.SetBroadcaster(hub)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Relay.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return engine.ExpireLoop(ctx, a.cfg.Relay.ExpireInterval.Duration)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: relay server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	})

	return g.Wait()
}

// TakerMode runs a taker client: it opens the configured auction on the
// relay, then follows the bid traffic and reports the leading bid until the
// context is cancelled.
func (a *App) TakerMode(ctx context.Context, deps *Dependencies) error {
	if deps.Signer == nil {
		return fmt.Errorf("app: taker mode requires a wallet key")
	}
	taker := deps.Signer.Address().Hex()
	a.logger.InfoContext(ctx, "starting taker mode",
		slog.String("relay_url", a.cfg.Client.RelayURL),
		slog.String("taker", taker),
	)

	conn := a.dialRelay(ctx)

	tracker := auction.NewTracker(conn, deps.Verifier, a.logger)
	defer tracker.Close()

	opened := make(chan domain.Auction, 1)
	tracker.OnStarted(func(au domain.Auction) {
		if strings.EqualFold(au.Taker, taker) {
			select {
			case opened <- au:
			default:
			}
		}
	})

	if err := a.openAuction(ctx, conn, deps); err != nil {
		return fmt.Errorf("app: open auction: %w", err)
	}

	var auctionID string
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case au := <-opened:
			auctionID = au.ID
			a.logger.Info("auction opened",
				slog.String("auction_id", au.ID),
				slog.Int64("deadline", au.Deadline.Unix()),
			)
		case <-ticker.C:
			if auctionID == "" {
				continue
			}
			s, ok := tracker.Session(auctionID)
			if !ok {
				continue
			}
			if winner, ok := s.Winner(time.Now()); ok {
				a.logger.Info("leading bid",
					slog.String("auction_id", auctionID),
					slog.String("maker", winner.Maker),
					slog.String("maker_wager", winner.MakerWager.String()),
				)
			} else {
				a.logger.Info("no matchable bids yet", slog.String("auction_id", auctionID))
			}
		}
	}
}

// openAuction signs and submits the configured auction-start request. The
// request nonce comes from the shared counter when Redis is wired, so
// restarts never reuse one; without it the wall clock serves.
func (a *App) openAuction(ctx context.Context, conn *transport.Conn, deps *Dependencies) error {
	taker := deps.Signer.Address().Hex()

	var nonce uint64
	if deps.NonceCounter != nil {
		n, err := deps.NonceCounter.Next(ctx, taker)
		if err != nil {
			return fmt.Errorf("next nonce: %w", err)
		}
		nonce = n
	} else {
		nonce = uint64(time.Now().Unix())
	}

	issuedAt := time.Now().UTC().Format(time.RFC3339)
	sig, err := deps.Signer.SignRequest(crypto.AuctionRequest{
		Domain:   a.cfg.Relay.Domain,
		Taker:    taker,
		Wager:    a.cfg.Taker.Wager,
		Outcomes: a.cfg.Taker.Outcomes,
		Resolver: a.cfg.Taker.Resolver,
		ChainID:  a.cfg.Chain.ChainID,
		Nonce:    nonce,
		IssuedAt: issuedAt,
	})
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	frame, err := codec.EncodeEnvelope(codec.TypeAuctionStart, codec.StartRequest{
		Taker:             taker,
		Wager:             a.cfg.Taker.Wager,
		Resolver:          a.cfg.Taker.Resolver,
		PredictedOutcomes: a.cfg.Taker.Outcomes,
		TakerNonce:        nonce,
		ChainID:           a.cfg.Chain.ChainID,
		IssuedAt:          issuedAt,
		Signature:         sig,
	})
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

// BidderMode runs a maker client: it follows the relay feed and answers
// every announced auction with a signed bid.
func (a *App) BidderMode(ctx context.Context, deps *Dependencies) error {
	if deps.Signer == nil {
		return fmt.Errorf("app: bidder mode requires a wallet key")
	}
	a.logger.InfoContext(ctx, "starting bidder mode",
		slog.String("relay_url", a.cfg.Client.RelayURL),
		slog.String("maker", deps.Signer.Address().Hex()),
	)

	conn := a.dialRelay(ctx)

	tracker := auction.NewTracker(conn, deps.Verifier, a.logger)
	defer tracker.Close()

	tracker.OnStarted(func(au domain.Auction) {
		if err := a.placeBid(conn, deps.Signer, au); err != nil {
			a.logger.Warn("place bid",
				slog.String("auction_id", au.ID),
				slog.String("error", err.Error()),
			)
		}
	})

	<-ctx.Done()
	return ctx.Err()
}

// MonitorMode tails the relay feed and periodically reports the trailing
// bid window.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.String("relay_url", a.cfg.Client.RelayURL),
	)

	conn := a.dialRelay(ctx)

	agg := feed.NewAggregator(conn, a.logger,
		feed.WithWindow(a.cfg.Feed.Window.Duration),
		feed.WithCap(a.cfg.Feed.Cap),
	)
	defer agg.Close()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			recent := agg.Recent(5)
			a.logger.Info("feed window",
				slog.Int("entries", agg.Len()),
				slog.Int("shown", len(recent)),
				slog.String("conn_state", conn.State().String()),
			)
			for _, e := range recent {
				a.logger.Info("recent bid",
					slog.String("auction_id", e.AuctionID),
					slog.String("maker", e.Bid.Maker),
					slog.String("status", string(e.Bid.ValidationStatus)),
				)
			}
		}
	}
}

// dialRelay returns the shared client connection for the configured relay,
// creating the connection registry on first use. The registry is torn down
// with the app, so modes must not close the connection themselves.
func (a *App) dialRelay(_ context.Context) *transport.Conn {
	if a.conns == nil {
		a.conns = transport.NewRegistry(transport.Config{
			InitialBackoff:    a.cfg.Client.BackoffMin.Duration,
			MaxBackoff:        a.cfg.Client.BackoffMax.Duration,
			HeartbeatInterval: a.cfg.Client.HeartbeatInterval.Duration,
			StaleAfter:        a.cfg.Client.StaleAfter.Duration,
			QueueLimit:        a.cfg.Client.QueueSize,
			Logger:            a.logger,
		})
		a.closers = append(a.closers, a.conns.Close)
	}
	return a.conns.Get(a.cfg.Client.RelayURL)
}

// placeBid signs and submits one bid for a freshly announced auction.
func (a *App) placeBid(conn *transport.Conn, signer *crypto.Signer, au domain.Auction) error {
	if len(au.PredictedOutcomes) != 1 {
		return fmt.Errorf("auction %s carries %d outcome blobs", au.ID, len(au.PredictedOutcomes))
	}
	blob, err := hexutil.Decode(au.PredictedOutcomes[0])
	if err != nil {
		return fmt.Errorf("decode outcome blob: %w", err)
	}

	wager := au.Wager
	if a.cfg.Bidder.Wager != "" {
		w, ok := new(big.Int).SetString(a.cfg.Bidder.Wager, 10)
		if !ok {
			return fmt.Errorf("bad bidder wager %q", a.cfg.Bidder.Wager)
		}
		wager = w
	}
	deadline := time.Now().Add(a.cfg.Bidder.Deadline.Duration).Unix()

	sig, err := signer.SignBid(crypto.BidPayload{
		PredictedOutcomes: blob,
		TakerWager:        au.Wager,
		AuctionWager:      wager,
		Resolver:          common.HexToAddress(au.Resolver),
		Maker:             signer.Address(),
		Deadline:          big.NewInt(deadline),
	})
	if err != nil {
		return fmt.Errorf("sign bid: %w", err)
	}

	frame, err := codec.EncodeScoped(codec.TypeAuctionBid, au.ID, codec.BidEvent{
		ID:            uuid.NewString(),
		AuctionID:     au.ID,
		Maker:         signer.Address().Hex(),
		MakerWager:    wager.String(),
		MakerDeadline: deadline,
		Signature:     sig,
	})
	if err != nil {
		return err
	}
	return conn.Send(frame)
}
