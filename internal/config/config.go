// Package config defines the top-level configuration for the auction daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by AUCTION_* environment
// variables.
type Config struct {
	Relay    RelayConfig    `toml:"relay"`
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Client   ClientConfig   `toml:"client"`
	Taker    TakerConfig    `toml:"taker"`
	Bidder   BidderConfig   `toml:"bidder"`
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// RelayConfig holds the relay's listen and protocol parameters.
type RelayConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	Domain         string   `toml:"domain"`
	OpenWindow     duration `toml:"open_window"`
	ExpireInterval duration `toml:"expire_interval"`
}

// ChainConfig holds chain parameters shared by signing and verification.
type ChainConfig struct {
	ChainID            int64    `toml:"chain_id"`
	VerifyingContract  string   `toml:"verifying_contract"`
	BinaryResolvers    []string `toml:"binary_resolvers"`
	ThresholdResolvers []string `toml:"threshold_resolvers"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ClientConfig holds the client-side relay connection parameters.
type ClientConfig struct {
	RelayURL          string   `toml:"relay_url"`
	BackoffMin        duration `toml:"backoff_min"`
	BackoffMax        duration `toml:"backoff_max"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
	StaleAfter        duration `toml:"stale_after"`
	QueueSize         int      `toml:"queue_size"`
}

// TakerConfig describes the auction a taker client opens on startup.
type TakerConfig struct {
	// Wager is the taker's collateral, as a base-10 integer string in wei.
	Wager string `toml:"wager"`
	// Resolver is the outcome resolver contract address.
	Resolver string `toml:"resolver"`
	// Outcomes holds the ABI-encoded predicted outcome blobs, 0x hex.
	Outcomes []string `toml:"outcomes"`
}

// BidderConfig holds the maker client's bidding policy.
type BidderConfig struct {
	// Wager is the collateral offered per bid, as a base-10 integer string.
	// Empty means match the taker's wager.
	Wager string `toml:"wager"`
	// Deadline is how long each signed bid stays matchable.
	Deadline duration `toml:"deadline"`
}

// FeedConfig tunes the client-side bid aggregator.
type FeedConfig struct {
	Window duration `toml:"window"`
	Cap    int      `toml:"cap"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Leave addr empty to run a
// single relay without a signal bus.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// duration wraps time.Duration so TOML can carry values like "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Relay: RelayConfig{
			Enabled:        true,
			Port:           8000,
			Domain:         "auction.sapience.xyz",
			OpenWindow:     duration{5 * time.Minute},
			ExpireInterval: duration{time.Second},
		},
		Chain: ChainConfig{
			ChainID: 42161,
		},
		Client: ClientConfig{
			RelayURL:          "ws://localhost:8000/ws",
			BackoffMin:        duration{400 * time.Millisecond},
			BackoffMax:        duration{30 * time.Second},
			HeartbeatInterval: duration{25 * time.Second},
			StaleAfter:        duration{60 * time.Second},
			QueueSize:         512,
		},
		Bidder: BidderConfig{
			Deadline: duration{2 * time.Minute},
		},
		Feed: FeedConfig{
			Window: duration{5 * time.Minute},
			Cap:    1000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Mode:     "relay",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"relay":   true,
	"taker":   true,
	"bidder":  true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: relay, taker, bidder, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	mode := strings.ToLower(c.Mode)

	// Wallet — takers and bidders sign, relays only verify.
	if mode == "taker" || mode == "bidder" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if mode == "relay" {
		if !c.Relay.Enabled {
			errs = append(errs, "relay: must be enabled for mode relay")
		}
		if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
			errs = append(errs, fmt.Sprintf("relay: port must be 1-65535, got %d", c.Relay.Port))
		}
		if c.Relay.Domain == "" {
			errs = append(errs, "relay: domain must not be empty")
		}
		if c.Relay.OpenWindow.Duration <= 0 {
			errs = append(errs, "relay: open_window must be positive")
		}

		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if mode == "taker" {
		if _, ok := new(big.Int).SetString(c.Taker.Wager, 10); !ok {
			errs = append(errs, fmt.Sprintf("taker: wager must be a base-10 integer, got %q", c.Taker.Wager))
		}
		if c.Taker.Resolver == "" {
			errs = append(errs, "taker: resolver must not be empty")
		}
		if len(c.Taker.Outcomes) == 0 {
			errs = append(errs, "taker: at least one outcome blob is required")
		}
	}

	if mode == "taker" || mode == "bidder" || mode == "monitor" {
		if c.Client.RelayURL == "" {
			errs = append(errs, "client: relay_url must not be empty for mode "+mode)
		}
		if c.Client.BackoffMin.Duration <= 0 || c.Client.BackoffMax.Duration < c.Client.BackoffMin.Duration {
			errs = append(errs, "client: backoff_min must be positive and backoff_max must not be below it")
		}
		if c.Client.StaleAfter.Duration <= c.Client.HeartbeatInterval.Duration {
			errs = append(errs, "client: stale_after must exceed heartbeat_interval")
		}
		if mode == "bidder" && c.Bidder.Deadline.Duration <= 0 {
			errs = append(errs, "bidder: deadline must be positive")
		}
		if c.Feed.Window.Duration <= 0 {
			errs = append(errs, "feed: window must be positive")
		}
		if c.Feed.Cap < 1 {
			errs = append(errs, "feed: cap must be >= 1")
		}
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
