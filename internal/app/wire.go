package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/engsudal909/sapience-1-sub012/internal/cache/redis"
	"github.com/engsudal909/sapience-1-sub012/internal/codec"
	"github.com/engsudal909/sapience-1-sub012/internal/config"
	"github.com/engsudal909/sapience-1-sub012/internal/crypto"
	"github.com/engsudal909/sapience-1-sub012/internal/domain"
	"github.com/engsudal909/sapience-1-sub012/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores (relay mode only).
	AuctionStore domain.AuctionStore
	BidStore     domain.BidStore

	// Signal bus and nonce counter; nil without Redis.
	SignalBus    domain.SignalBus
	NonceCounter domain.NonceCounter

	// Crypto. Signer is nil unless a wallet key is configured.
	Signer   *crypto.Signer
	Verifier *crypto.Verifier

	// Outcome payload codec for the configured resolvers.
	Outcomes *codec.OutcomeCodec
}

// needsPostgres returns true for modes that require persistence.
func needsPostgres(mode string) bool {
	return mode == "relay"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{
		Verifier: crypto.NewVerifier(cfg.Chain.ChainID, cfg.Chain.VerifyingContract),
		Outcomes: codec.NewOutcomeCodec(cfg.Chain.BinaryResolvers, cfg.Chain.ThresholdResolvers),
	}

	// --- PostgreSQL (relay only) ---
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuctionStore = postgres.NewAuctionStore(pool)
		deps.BidStore = postgres.NewBidStore(pool)
	}

	// --- Redis (optional; single-instance deployments run without it) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.NonceCounter = redis.NewNonceCounter(redisClient)
	}

	// --- Signing key (bidder mode, or any mode with a key configured) ---
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex, cfg.Chain.ChainID, cfg.Chain.VerifyingContract)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
	}

	return deps, cleanup, nil
}
