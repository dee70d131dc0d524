// Package config defines the marketd configuration and provides validation
// helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Operator OperatorConfig `toml:"operator"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig holds engine parameters and the values seeded on first start.
type MarketConfig struct {
	// AdminAccount receives the Admin role when no admin exists yet.
	AdminAccount string `toml:"admin_account"`

	// EscrowAccount holds bid and offer funds until settlement or refund.
	EscrowAccount      string   `toml:"escrow_account"`
	FeeBps             int      `toml:"fee_bps"`
	FeeRecipient       string   `toml:"fee_recipient"`
	ApprovedTokens     []string `toml:"approved_tokens"`
	MaxAuctionDuration duration `toml:"max_auction_duration"`
	LockTTL            duration `toml:"lock_ttl"`
	LockWait           duration `toml:"lock_wait"`

	// SweepInterval is how often expired auctions are finalized in the
	// background. Zero disables the sweeper.
	SweepInterval duration `toml:"sweep_interval"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `toml:"driver"`
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

// RedisConfig holds Redis connection parameters. When disabled, locks, the
// event bus, balances and custody run in process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls how closed records are copied to S3.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// OperatorConfig locates the key that signs published events. Both fields
// empty leaves events unsigned.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// Configured reports whether an operator key source is set.
func (o OperatorConfig) Configured() bool {
	return o.PrivateKey != "" || o.EncryptedKeyPath != ""
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

// Auth modes for the HTTP API.
const (
	AuthSignature = "signature"
	AuthDev       = "dev"
)

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`

	// APIKey, when set, is required in X-API-Key on every /api request.
	APIKey string `toml:"api_key"`

	// AuthMode is "signature" (EIP-191 request signatures) or "dev" (trust
	// X-Account verbatim).
	AuthMode     string   `toml:"auth_mode"`
	MaxClockSkew duration `toml:"max_clock_skew"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
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
		Market: MarketConfig{
			MaxAuctionDuration: duration{30 * 24 * time.Hour},
			LockTTL:            duration{30 * time.Second},
			LockWait:           duration{10 * time.Second},
			SweepInterval:      duration{time.Minute},
		},
		Store: StoreConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nftmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Port:         8080,
			AuthMode:     AuthSignature,
			MaxClockSkew: duration{5 * time.Minute},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"migrate": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// maxFeeBps mirrors the engine cap so a bad seed fails at startup.
const maxFeeBps = 1000

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, migrate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Store.Driver {
	case "postgres":
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		if mode == "archive" || mode == "migrate" {
			errs = append(errs, fmt.Sprintf("store: mode %s needs the postgres driver", mode))
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if mode == "server" {
		errs = append(errs, c.validateMarket()...)
		errs = append(errs, c.validateServer()...)
	}

	if mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty for archive mode")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty for archive mode")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateMarket() []string {
	var errs []string
	m := c.Market
	if !validAccount(m.AdminAccount) {
		errs = append(errs, fmt.Sprintf("market: admin_account %q is not a non-zero address", m.AdminAccount))
	}
	if !validAccount(m.EscrowAccount) {
		errs = append(errs, fmt.Sprintf("market: escrow_account %q is not a non-zero address", m.EscrowAccount))
	}
	if m.FeeBps < 0 || m.FeeBps > maxFeeBps {
		errs = append(errs, fmt.Sprintf("market: fee_bps must be 0-%d, got %d", maxFeeBps, m.FeeBps))
	}
	if m.FeeBps > 0 && !validAccount(m.FeeRecipient) {
		errs = append(errs, "market: fee_recipient must be set when fee_bps > 0")
	}
	for _, t := range m.ApprovedTokens {
		if !common.IsHexAddress(t) {
			errs = append(errs, fmt.Sprintf("market: approved token %q is not an address", t))
		}
	}
	if m.MaxAuctionDuration.Duration <= 0 {
		errs = append(errs, "market: max_auction_duration must be > 0")
	}
	if m.LockTTL.Duration <= 0 || m.LockWait.Duration <= 0 {
		errs = append(errs, "market: lock_ttl and lock_wait must be > 0")
	}
	if m.SweepInterval.Duration < 0 {
		errs = append(errs, "market: sweep_interval must not be negative")
	}
	return errs
}

func (c *Config) validateServer() []string {
	var errs []string
	s := c.Server
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", s.Port))
	}
	if s.AuthMode != AuthSignature && s.AuthMode != AuthDev {
		errs = append(errs, fmt.Sprintf("server: unknown auth_mode %q (valid: signature, dev)", s.AuthMode))
	}
	if s.AuthMode == AuthSignature && s.MaxClockSkew.Duration <= 0 {
		errs = append(errs, "server: max_clock_skew must be > 0 for signature auth")
	}
	if s.RateLimit > 0 && s.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}
	return errs
}

func validAccount(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}
