// Package config defines the top-level configuration for the wager service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WAGER_* environment variables.
type Config struct {
	Game     GameConfig     `toml:"game"`
	Oracle   OracleConfig   `toml:"oracle"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// GameConfig holds the market parameters written at instantiation.
type GameConfig struct {
	Denom            string   `toml:"denom"`
	RoundDuration    duration `toml:"round_duration"`
	SettlementGrace  duration `toml:"settlement_grace"`
	FeeRate          string   `toml:"fee_rate"`
	CollectorAddress string   `toml:"collector_address"`
	OwnerAddress     string   `toml:"owner_address"`
	// MigrateOnStart rewrites the stored game config from this section when
	// the market already exists.
	MigrateOnStart bool `toml:"migrate_on_start"`
}

// OracleConfig selects and parameterizes the reference price strategy.
type OracleConfig struct {
	// Strategy is one of "instant", "twap" or "median".
	Strategy     string   `toml:"strategy"`
	RPCURL       string   `toml:"rpc_url"`
	PairAddress  string   `toml:"pair_address"`
	BaseIsToken0 bool     `toml:"base_is_token0"`
	Scale        uint64   `toml:"scale"`
	FracBits     uint     `toml:"frac_bits"`
	FeedURL      string   `toml:"feed_url"`
	FeedSymbol   string   `toml:"feed_symbol"`
	FeedAPIKey   string   `toml:"feed_api_key"`
	MedianWindow int      `toml:"median_window"`
	MedianRank   int      `toml:"median_rank"`
	Timeout      duration `toml:"timeout"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	// Driver is "badger" or "postgres".
	Driver    string `toml:"driver"`
	BadgerDir string `toml:"badger_dir"`
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
	// Audit writes every executed command to the audit_log table. It works
	// with either storage driver.
	Audit bool `toml:"audit"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: without
// it the service runs single-instance with no event bus or transfer outbox.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters for the round
// archive.
type S3Config struct {
	// Enabled runs the archiver alongside the other loops in full mode.
	Enabled        bool     `toml:"enabled"`
	Interval       duration `toml:"interval"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	Prefix         string   `toml:"prefix"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
}

// KeeperConfig controls the background settlement loop.
type KeeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the admin endpoints. Empty disables the check.
	APIKey string `toml:"api_key"`
	// RequireSignature makes /api/execute verify X-Player-Signature.
	RequireSignature bool     `toml:"require_signature"`
	SignatureSkew    duration `toml:"signature_skew"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
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
		Game: GameConfig{
			Denom:           "uusd",
			RoundDuration:   duration{300 * time.Second},
			SettlementGrace: duration{30 * time.Second},
			FeeRate:         "0.03",
		},
		Oracle: OracleConfig{
			Strategy:     "instant",
			RPCURL:       "http://localhost:8545",
			BaseIsToken0: true,
			Scale:        1_000_000,
			FracBits:     112,
			MedianWindow: 5,
			MedianRank:   2,
			Timeout:      duration{10 * time.Second},
		},
		Storage: StorageConfig{
			Driver:    "badger",
			BadgerDir: "data/ledger",
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
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "wager",
		},
		S3: S3Config{
			Interval:       duration{time.Hour},
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wager-archive",
			Prefix:         "archive",
			ForcePathStyle: true,
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Interval: duration{5 * time.Second},
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureSkew: duration{5 * time.Minute},
			RateLimit:     120,
			RateWindow:    duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"round_settled", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"keeper":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStrategies = map[string]bool{
	"instant": true,
	"twap":    true,
	"median":  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Game
	if c.Game.Denom == "" {
		errs = append(errs, "game: denom must not be empty")
	}
	if c.Game.RoundDuration.Duration < time.Second {
		errs = append(errs, "game: round_duration must be at least 1s")
	}
	if c.Game.SettlementGrace.Duration < 0 {
		errs = append(errs, "game: settlement_grace must not be negative")
	}
	if fee, err := decimal.NewFromString(c.Game.FeeRate); err != nil {
		errs = append(errs, fmt.Sprintf("game: fee_rate %q is not a decimal", c.Game.FeeRate))
	} else if fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "game: fee_rate must be within [0, 1]")
	}
	if !common.IsHexAddress(c.Game.CollectorAddress) {
		errs = append(errs, "game: collector_address must be a hex address")
	}
	if c.Game.OwnerAddress != "" && !common.IsHexAddress(c.Game.OwnerAddress) {
		errs = append(errs, "game: owner_address must be a hex address")
	}

	// Oracle
	if !validStrategies[strings.ToLower(c.Oracle.Strategy)] {
		errs = append(errs, fmt.Sprintf("oracle: unknown strategy %q (valid: instant, twap, median)", c.Oracle.Strategy))
	}
	if c.Oracle.Scale == 0 {
		errs = append(errs, "oracle: scale must be > 0")
	}
	switch strings.ToLower(c.Oracle.Strategy) {
	case "instant", "twap":
		if c.Oracle.RPCURL == "" {
			errs = append(errs, "oracle: rpc_url is required for "+c.Oracle.Strategy)
		}
		if !common.IsHexAddress(c.Oracle.PairAddress) {
			errs = append(errs, "oracle: pair_address must be a hex address")
		}
	case "median":
		if c.Oracle.FeedURL == "" {
			errs = append(errs, "oracle: feed_url is required for median")
		}
		if c.Oracle.MedianWindow < 3 {
			errs = append(errs, "oracle: median_window must be >= 3")
		}
		if c.Oracle.MedianRank <= 0 || c.Oracle.MedianRank >= c.Oracle.MedianWindow-1 {
			errs = append(errs, "oracle: median_rank must be within (0, median_window-1)")
		}
	}

	// Storage
	switch c.Storage.Driver {
	case "badger":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: badger, postgres)", c.Storage.Driver))
	}
	if c.Storage.Driver == "postgres" || c.Postgres.Audit {
		if strings.TrimSpace(c.Postgres.DSN) == "" && (c.Postgres.Port <= 0 || c.Postgres.Port > 65535) {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if strings.ToLower(c.Mode) == "archive" || c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Interval.Duration <= 0 {
			errs = append(errs, "s3: interval must be > 0")
		}
	}

	if c.Keeper.Enabled && c.Keeper.Interval.Duration <= 0 {
		errs = append(errs, "keeper: interval must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RequireSignature && c.Server.SignatureSkew.Duration <= 0 {
			errs = append(errs, "server: signature_skew must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
