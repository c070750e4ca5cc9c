// Package config defines the top-level configuration for the market service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ASSERTMARKET_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Collateral CollateralConfig `toml:"collateral"`
	Market     MarketConfig     `toml:"market"`
	Oracle     OracleConfig     `toml:"oracle"`
	Store      StoreConfig      `toml:"store"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the operator key. The engine's identity is derived from
// it unless market.engine_address is set.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// CollateralConfig names the settlement currency and the currencies markets
// may be created in.
type CollateralConfig struct {
	Currency  string   `toml:"currency"`
	Whitelist []string `toml:"whitelist"`
}

// MarketConfig tunes the market engine.
type MarketConfig struct {
	// EngineAddress overrides the identity derived from the wallet key.
	EngineAddress string `toml:"engine_address"`
	// InitialLiquidity is the amount each pool of a new market starts with,
	// as a decimal string.
	InitialLiquidity string `toml:"initial_liquidity"`
}

// OracleConfig selects and configures the truth oracle.
type OracleConfig struct {
	// Kind is "simulator" or "remote".
	Kind          string   `toml:"kind"`
	Address       string   `toml:"address"`
	MinimumBond   string   `toml:"minimum_bond"`
	SweepInterval duration `toml:"sweep_interval"`
	// Remote oracle endpoint and HMAC credentials.
	BaseURL   string   `toml:"base_url"`
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
	Timeout   duration `toml:"timeout"`
}

// StoreConfig selects the state backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
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

// RedisConfig holds Redis connection parameters. Redis is optional; without
// it events are delivered to local websocket clients only.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	CacheTTL     duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old events to object storage.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Retention duration `toml:"retention"`
	Cron      string   `toml:"cron"`
	BatchSize int      `toml:"batch_size"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	AdminKey    string   `toml:"admin_key"`
	// TrustCallerHeader accepts X-Caller-Address without a signature.
	TrustCallerHeader bool     `toml:"trust_caller_header"`
	MaxSkew           duration `toml:"max_skew"`
	RateLimit         int      `toml:"rate_limit"`
	RateWindow        duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Collateral: CollateralConfig{
			Currency: "0x000000000000000000000000000000000000c011",
		},
		Market: MarketConfig{
			InitialLiquidity: "1000000",
		},
		Oracle: OracleConfig{
			Kind:          "simulator",
			Address:       "0x00000000000000000000000000000000000a0c1e",
			MinimumBond:   "100",
			SweepInterval: duration{30 * time.Second},
			Timeout:       duration{15 * time.Second},
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "assertmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "assertmarket",
			StreamMaxLen: 100_000,
			CacheTTL:     duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "assertmarket-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Retention: duration{90 * 24 * time.Hour},
			Cron:      "0 3 * * *",
			BatchSize: 1000,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			MaxSkew:     duration{5 * time.Minute},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"market_asserted", "market_resolved"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: serve, archive)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Wallet: the engine needs an identity from either a key or an explicit
	// address.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" && c.Market.EngineAddress == "" {
		add("wallet: set private_key or encrypted_key_path, or market.engine_address")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required when encrypted_key_path is set")
	}

	// Collateral
	if !isAddress(c.Collateral.Currency) {
		add("collateral: currency %q is not an address", c.Collateral.Currency)
	}
	for _, a := range c.Collateral.Whitelist {
		if !isAddress(a) {
			add("collateral: whitelist entry %q is not an address", a)
		}
	}

	// Market
	if c.Market.EngineAddress != "" && !isAddress(c.Market.EngineAddress) {
		add("market: engine_address %q is not an address", c.Market.EngineAddress)
	}
	if _, err := uint256.FromDecimal(c.Market.InitialLiquidity); err != nil {
		add("market: initial_liquidity %q is not a decimal amount", c.Market.InitialLiquidity)
	}

	// Oracle
	switch c.Oracle.Kind {
	case "simulator":
		if _, err := uint256.FromDecimal(c.Oracle.MinimumBond); err != nil {
			add("oracle: minimum_bond %q is not a decimal amount", c.Oracle.MinimumBond)
		}
		if c.Oracle.SweepInterval.Duration <= 0 {
			add("oracle: sweep_interval must be > 0")
		}
	case "remote":
		if c.Oracle.BaseURL == "" {
			add("oracle: base_url is required for the remote oracle")
		}
		if c.Oracle.APIKey == "" || c.Oracle.APISecret == "" {
			add("oracle: api_key and api_secret are required for the remote oracle")
		}
	default:
		add("oracle: unknown kind %q (valid: simulator, remote)", c.Oracle.Kind)
	}
	if !isAddress(c.Oracle.Address) {
		add("oracle: address %q is not an address", c.Oracle.Address)
	}

	// Store
	switch c.Store.Backend {
	case "memory":
		if mode == "archive" {
			add("store: archive mode needs the postgres backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		add("store: unknown backend %q (valid: memory, postgres)", c.Store.Backend)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// S3 and archival
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}
	if c.Archive.Enabled || mode == "archive" {
		if !c.S3.Enabled {
			add("archive: s3 must be enabled")
		}
		if c.Archive.Retention.Duration <= 0 {
			add("archive: retention must be > 0")
		}
		if c.Archive.BatchSize < 1 {
			add("archive: batch_size must be >= 1")
		}
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			add("archive: cron %q: %v", c.Archive.Cron, err)
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && !c.Redis.Enabled {
		add("server: rate_limit needs redis")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isAddress(s string) bool {
	return common.IsHexAddress(strings.TrimSpace(s))
}
