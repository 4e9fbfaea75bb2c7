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
// built-in defaults, applies WAGER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known WAGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Game ──
	setStr(&cfg.Game.Denom, "WAGER_GAME_DENOM")
	setDuration(&cfg.Game.RoundDuration, "WAGER_GAME_ROUND_DURATION")
	setDuration(&cfg.Game.SettlementGrace, "WAGER_GAME_SETTLEMENT_GRACE")
	setStr(&cfg.Game.FeeRate, "WAGER_GAME_FEE_RATE")
	setStr(&cfg.Game.CollectorAddress, "WAGER_GAME_COLLECTOR_ADDRESS")
	setStr(&cfg.Game.OwnerAddress, "WAGER_GAME_OWNER_ADDRESS")
	setBool(&cfg.Game.MigrateOnStart, "WAGER_GAME_MIGRATE_ON_START")

	// ── Oracle ──
	setStr(&cfg.Oracle.Strategy, "WAGER_ORACLE_STRATEGY")
	setStr(&cfg.Oracle.RPCURL, "WAGER_ORACLE_RPC_URL")
	setStr(&cfg.Oracle.PairAddress, "WAGER_ORACLE_PAIR_ADDRESS")
	setBool(&cfg.Oracle.BaseIsToken0, "WAGER_ORACLE_BASE_IS_TOKEN0")
	setUint64(&cfg.Oracle.Scale, "WAGER_ORACLE_SCALE")
	setStr(&cfg.Oracle.FeedURL, "WAGER_ORACLE_FEED_URL")
	setStr(&cfg.Oracle.FeedSymbol, "WAGER_ORACLE_FEED_SYMBOL")
	setStr(&cfg.Oracle.FeedAPIKey, "WAGER_ORACLE_FEED_API_KEY")
	setInt(&cfg.Oracle.MedianWindow, "WAGER_ORACLE_MEDIAN_WINDOW")
	setInt(&cfg.Oracle.MedianRank, "WAGER_ORACLE_MEDIAN_RANK")
	setDuration(&cfg.Oracle.Timeout, "WAGER_ORACLE_TIMEOUT")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "WAGER_STORAGE_DRIVER")
	setStr(&cfg.Storage.BadgerDir, "WAGER_STORAGE_BADGER_DIR")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WAGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "WAGER_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WAGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WAGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WAGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WAGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WAGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WAGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WAGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WAGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WAGER_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.Audit, "WAGER_POSTGRES_AUDIT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "WAGER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "WAGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WAGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WAGER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "WAGER_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WAGER_S3_ENABLED")
	setDuration(&cfg.S3.Interval, "WAGER_S3_INTERVAL")
	setStr(&cfg.S3.Endpoint, "WAGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WAGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "WAGER_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "WAGER_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "WAGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WAGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WAGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WAGER_S3_FORCE_PATH_STYLE")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "WAGER_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "WAGER_KEEPER_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WAGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WAGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WAGER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WAGER_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignature, "WAGER_SERVER_REQUIRE_SIGNATURE")
	setDuration(&cfg.Server.SignatureSkew, "WAGER_SERVER_SIGNATURE_SKEW")
	setInt(&cfg.Server.RateLimit, "WAGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "WAGER_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WAGER_MODE")
	setStr(&cfg.LogLevel, "WAGER_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
