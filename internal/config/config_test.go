package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const collectorHex = "0x0000000000000000000000000000000000000fee"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Game.CollectorAddress = collectorHex
	cfg.Oracle.PairAddress = "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
	return cfg
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "server"

[game]
round_duration = "10m"
fee_rate = "0.05"
collector_address = "`+collectorHex+`"

[oracle]
strategy = "median"
feed_url = "http://feed.local"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 10*time.Minute, cfg.Game.RoundDuration.Duration)
	assert.Equal(t, 30*time.Second, cfg.Game.SettlementGrace.Duration)
	assert.Equal(t, "uusd", cfg.Game.Denom)
	assert.Equal(t, "median", cfg.Oracle.Strategy)
	assert.Equal(t, 5, cfg.Oracle.MedianWindow)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[game]
denom = "uluna"
`)
	t.Setenv("WAGER_GAME_DENOM", "uatom")
	t.Setenv("WAGER_GAME_ROUND_DURATION", "90s")
	t.Setenv("WAGER_ORACLE_SCALE", "1000")
	t.Setenv("WAGER_REDIS_ENABLED", "true")
	t.Setenv("WAGER_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("WAGER_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "uatom", cfg.Game.Denom)
	assert.Equal(t, 90*time.Second, cfg.Game.RoundDuration.Duration)
	assert.Equal(t, uint64(1000), cfg.Oracle.Scale)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidateDefaultsNeedCollector(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector_address")

	cfg = validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.Game.FeeRate = "1.5"
	cfg.Oracle.Strategy = "median"
	cfg.Oracle.MedianWindow = 5
	cfg.Oracle.MedianRank = 4
	cfg.Storage.Driver = "sqlite"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown mode", "fee_rate", "feed_url", "median_rank", "unknown driver"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateArchiveNeedsBucket(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "archive"
	cfg.S3.Bucket = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password)

	out.Server.CORSOrigins[0] = "mutated"
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0x0000000000000000000000000000000000000000", cfg.Game.CollectorAddress)
	cfg.Game.CollectorAddress = ""
	cfg.Oracle.PairAddress = ""
	assert.Equal(t, Defaults(), *cfg)
}
