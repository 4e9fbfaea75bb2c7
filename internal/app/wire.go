package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/spacewager/internal/blob/s3"
	"github.com/alanyoungcy/spacewager/internal/cache/redis"
	"github.com/alanyoungcy/spacewager/internal/config"
	"github.com/alanyoungcy/spacewager/internal/domain"
	"github.com/alanyoungcy/spacewager/internal/metrics"
	"github.com/alanyoungcy/spacewager/internal/notify"
	"github.com/alanyoungcy/spacewager/internal/oracle"
	"github.com/alanyoungcy/spacewager/internal/platform/goldsky"
	"github.com/alanyoungcy/spacewager/internal/platform/uniswap"
	"github.com/alanyoungcy/spacewager/internal/server/handler"
	"github.com/alanyoungcy/spacewager/internal/server/middleware"
	"github.com/alanyoungcy/spacewager/internal/service"
	badgerstore "github.com/alanyoungcy/spacewager/internal/store/badger"
	"github.com/alanyoungcy/spacewager/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store  domain.Store
	Oracle domain.PriceOracle
	Game   *service.Game

	// Optional; nil when the backing service is not configured.
	AuditStore  domain.AuditStore
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	PriceCache  domain.PriceCache
	Nonces      domain.NonceStore
	Notifier    *notify.Notifier

	RateLimiter domain.RateLimiter
	Metrics     *metrics.GameMetrics

	// Blob storage, wired only when the archiver runs.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	// Checks reports the reachability of each external dependency for
	// /api/health.
	Checks map[string]handler.Check
}

// needsS3 reports whether the mode runs the round archiver.
func needsS3(cfg *config.Config) bool {
	return strings.ToLower(cfg.Mode) == "archive" || cfg.S3.Enabled
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.NewGameMetrics(),
		Checks:  make(map[string]handler.Check),
	}

	// --- PostgreSQL (ledger and/or audit log) ---
	var pgClient *postgres.Client
	if cfg.Storage.Driver == "postgres" || cfg.Postgres.Audit {
		var err error
		pgClient, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Checks["postgres"] = func(ctx context.Context) error { return pgClient.Pool().Ping(ctx) }
		if cfg.Postgres.Audit {
			deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		}
	}

	// --- Ledger ---
	switch cfg.Storage.Driver {
	case "postgres":
		deps.Store = postgres.NewLedgerStore(pgClient.Pool())
	default:
		store, err := badgerstore.Open(cfg.Storage.BadgerDir, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: badger: %w", err))
		}
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("wire: closing badger", slog.String("error", err.Error()))
			}
		})
		deps.Store = store
	}
	deps.Checks["ledger"] = storeCheck(deps.Store)

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.Nonces = redis.NewNonceStore(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = middleware.NewLocalLimiter()
	}

	// --- Oracle ---
	priceOracle, closeOracle, err := newOracle(ctx, cfg.Oracle, deps, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: oracle: %w", err))
	}
	closers = append(closers, closeOracle)
	deps.Oracle = priceOracle

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.Store, deps.BlobWriter, deps.BlobReader, deps.AuditStore, cfg.S3.Prefix, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	deps.Notifier = notify.New(notify.Options{
		TelegramToken:     cfg.Notify.TelegramToken,
		TelegramChatID:    cfg.Notify.TelegramChatID,
		DiscordWebhookURL: cfg.Notify.DiscordWebhookURL,
		Events:            cfg.Notify.Events,
	}, logger)

	deps.Game = newGame(deps, logger)
	return deps, cleanup, nil
}

// newGame builds the service and attaches every optional collaborator that
// was wired. Nil collaborators are skipped so the service sees untyped nils.
func newGame(deps *Dependencies, logger *slog.Logger) *service.Game {
	game := service.NewGame(deps.Store, deps.Oracle, logger).WithMetrics(deps.Metrics)
	if deps.SignalBus != nil {
		game.WithSignalBus(deps.SignalBus)
	}
	if deps.LockManager != nil {
		game.WithLockManager(deps.LockManager)
	}
	if deps.PriceCache != nil {
		game.WithPriceCache(deps.PriceCache)
	}
	if deps.AuditStore != nil {
		game.WithAuditStore(deps.AuditStore)
	}
	if deps.Notifier != nil {
		game.WithNotifier(deps.Notifier)
	}
	return game
}

// newOracle builds the configured pricing strategy over its upstream source.
func newOracle(ctx context.Context, cfg config.OracleConfig, deps *Dependencies, logger *slog.Logger) (domain.PriceOracle, func(), error) {
	switch strings.ToLower(cfg.Strategy) {
	case "instant", "twap":
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout.Duration)
		defer cancel()
		pair, err := uniswap.Dial(dialCtx, cfg.RPCURL, cfg.PairAddress, cfg.BaseIsToken0, logger)
		if err != nil {
			return nil, nil, err
		}
		deps.Checks["oracle"] = func(ctx context.Context) error {
			_, err := pair.Reserves(ctx)
			return err
		}
		if strings.ToLower(cfg.Strategy) == "twap" {
			return oracle.NewTWAP(pair, cfg.Scale, cfg.FracBits), pair.Close, nil
		}
		return oracle.NewInstant(pair, cfg.Scale), pair.Close, nil
	case "median":
		feed := goldsky.NewClient(cfg.FeedURL, cfg.FeedAPIKey, cfg.FeedSymbol, cfg.Timeout.Duration)
		median, err := oracle.NewMedian(feed, cfg.MedianWindow, cfg.MedianRank)
		if err != nil {
			return nil, nil, err
		}
		deps.Checks["oracle"] = func(ctx context.Context) error {
			_, err := feed.FetchLatestBlock(ctx)
			return err
		}
		return median, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}

// storeCheck reads the game state; a ledger that was never instantiated is
// still reachable.
func storeCheck(store domain.Store) handler.Check {
	return func(ctx context.Context) error {
		return store.View(ctx, func(tx domain.Tx) error {
			_, err := tx.GetState(ctx)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		})
	}
}

// gameConfig converts the [game] section into the stored market parameters.
func gameConfig(cfg *config.Config) (domain.GameConfig, error) {
	collector, err := domain.ParsePlayer(cfg.Game.CollectorAddress)
	if err != nil {
		return domain.GameConfig{}, fmt.Errorf("collector_address: %w", err)
	}
	fee, err := domain.ParseFeeRate(cfg.Game.FeeRate)
	if err != nil {
		return domain.GameConfig{}, fmt.Errorf("fee_rate: %w", err)
	}
	source := cfg.Oracle.PairAddress
	if strings.ToLower(cfg.Oracle.Strategy) == "median" {
		source = cfg.Oracle.FeedSymbol
	}
	return domain.GameConfig{
		PriceSource:     source,
		Collector:       collector,
		RoundDuration:   cfg.Game.RoundDuration.Duration,
		SettlementGrace: cfg.Game.SettlementGrace.Duration,
		Denom:           cfg.Game.Denom,
		FeeRate:         fee,
	}, nil
}
