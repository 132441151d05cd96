package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AUCTION_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTION_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Relay ──
	setBool(&cfg.Relay.Enabled, "AUCTION_RELAY_ENABLED")
	setInt(&cfg.Relay.Port, "AUCTION_RELAY_PORT")
	setStr(&cfg.Relay.Domain, "AUCTION_RELAY_DOMAIN")
	setDuration(&cfg.Relay.OpenWindow, "AUCTION_RELAY_OPEN_WINDOW")
	setDuration(&cfg.Relay.ExpireInterval, "AUCTION_RELAY_EXPIRE_INTERVAL")

	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "AUCTION_CHAIN_ID")
	setStr(&cfg.Chain.VerifyingContract, "AUCTION_CHAIN_VERIFYING_CONTRACT")
	setStringSlice(&cfg.Chain.BinaryResolvers, "AUCTION_CHAIN_BINARY_RESOLVERS")
	setStringSlice(&cfg.Chain.ThresholdResolvers, "AUCTION_CHAIN_THRESHOLD_RESOLVERS")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "AUCTION_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "AUCTION_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "AUCTION_WALLET_KEY_PASSWORD")

	// ── Client ──
	setStr(&cfg.Client.RelayURL, "AUCTION_CLIENT_RELAY_URL")
	setDuration(&cfg.Client.BackoffMin, "AUCTION_CLIENT_BACKOFF_MIN")
	setDuration(&cfg.Client.BackoffMax, "AUCTION_CLIENT_BACKOFF_MAX")
	setDuration(&cfg.Client.HeartbeatInterval, "AUCTION_CLIENT_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Client.StaleAfter, "AUCTION_CLIENT_STALE_AFTER")
	setInt(&cfg.Client.QueueSize, "AUCTION_CLIENT_QUEUE_SIZE")

	// ── Taker ──
	setStr(&cfg.Taker.Wager, "AUCTION_TAKER_WAGER")
	setStr(&cfg.Taker.Resolver, "AUCTION_TAKER_RESOLVER")
	setStringSlice(&cfg.Taker.Outcomes, "AUCTION_TAKER_OUTCOMES")

	// ── Bidder ──
	setStr(&cfg.Bidder.Wager, "AUCTION_BIDDER_WAGER")
	setDuration(&cfg.Bidder.Deadline, "AUCTION_BIDDER_DEADLINE")

	// ── Feed ──
	setDuration(&cfg.Feed.Window, "AUCTION_FEED_WINDOW")
	setInt(&cfg.Feed.Cap, "AUCTION_FEED_CAP")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AUCTION_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "AUCTION_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUCTION_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUCTION_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUCTION_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUCTION_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUCTION_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUCTION_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUCTION_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AUCTION_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "AUCTION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTION_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUCTION_REDIS_TLS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUCTION_MODE")
	setStr(&cfg.LogLevel, "AUCTION_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
