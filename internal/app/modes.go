package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spacewager/internal/crypto"
	"github.com/alanyoungcy/spacewager/internal/domain"
	"github.com/alanyoungcy/spacewager/internal/notify"
	"github.com/alanyoungcy/spacewager/internal/server"
	"github.com/alanyoungcy/spacewager/internal/server/handler"
	"github.com/alanyoungcy/spacewager/internal/server/ws"
	"github.com/alanyoungcy/spacewager/internal/service"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and, when a signal bus is wired, the
// WebSocket event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs only the settlement loop.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runKeeper(ctx, deps)
	})
	return g.Wait()
}

// ArchiveMode periodically uploads settled rounds to object storage.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runArchiver(ctx, deps)
	})
	return g.Wait()
}

// FullMode runs the HTTP server, the keeper and, if configured, the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.Keeper.Enabled {
		g.Go(func() error {
			return a.runKeeper(ctx, deps)
		})
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiver(ctx, deps)
		})
	}
	return g.Wait()
}

// runKeeper attempts to settle the current round on every tick and retries
// any queued payouts. Several keepers may run against one ledger.
func (a *App) runKeeper(ctx context.Context, deps *Dependencies) error {
	logger := a.logger.With(slog.String("loop", "keeper"))
	interval := a.cfg.Keeper.Interval.Duration
	logger.InfoContext(ctx, "keeper: started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "keeper: stopped")
			return nil
		case <-ticker.C:
			settleOnce(ctx, deps, logger, time.Now())
			relayOnce(ctx, deps, logger)
		}
	}
}

// settleOnce runs one ResolvePrediction at now. Expected rejections are
// logged at debug; anything else is reported to the operator.
func settleOnce(ctx context.Context, deps *Dependencies, logger *slog.Logger, now time.Time) {
	res, err := deps.Game.Execute(ctx, domain.Env{Now: now}, domain.MessageInfo{}, service.ResolvePrediction{})
	switch {
	case err == nil:
		settled, _ := res.Attr("prediction_id")
		next, _ := res.Attr("next_prediction_id")
		logger.InfoContext(ctx, "keeper: round settled",
			slog.String("prediction_id", settled),
			slog.String("next_prediction_id", next),
		)
	case errors.Is(err, domain.ErrPredictionStillInProgress),
		errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrAlreadyResolved):
		logger.DebugContext(ctx, "keeper: nothing to settle", slog.String("reason", err.Error()))
	case errors.Is(err, context.Canceled):
	default:
		logger.ErrorContext(ctx, "keeper: settlement failed", slog.String("error", err.Error()))
		if deps.Notifier != nil {
			_ = deps.Notifier.Notify(ctx, notify.EventError, "Settlement failed", err.Error())
		}
	}
}

// relayOnce retries claim payouts still waiting in the ledger outbox.
func relayOnce(ctx context.Context, deps *Dependencies, logger *slog.Logger) {
	n, err := deps.Game.RelayTransfers(ctx)
	if n > 0 {
		logger.InfoContext(ctx, "keeper: transfers relayed", slog.Int("count", n))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WarnContext(ctx, "keeper: relay transfers failed", slog.String("error", err.Error()))
	}
}

// runArchiver uploads the rounds settled since the last archive on every
// tick. Progress is recovered from the object store itself.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("archiver: s3 is not configured")
	}
	logger := a.logger.With(slog.String("loop", "archiver"))
	interval := a.cfg.S3.Interval.Duration
	logger.InfoContext(ctx, "archiver: started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := archiveOnce(ctx, deps, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorContext(ctx, "archiver: run failed", slog.String("error", err.Error()))
			if deps.Notifier != nil {
				_ = deps.Notifier.Notify(ctx, notify.EventError, "Archive failed", err.Error())
			}
		}
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "archiver: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// archiveOnce archives every decided round that has not been archived yet.
func archiveOnce(ctx context.Context, deps *Dependencies, logger *slog.Logger) error {
	from, err := deps.Archiver.Cursor(ctx)
	if err != nil {
		return err
	}
	out, err := deps.Game.Query(ctx, service.StateQuery{})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	// The round before the current one is closed but undecided until the
	// next settlement.
	current := out.(service.StateResponse).Round
	if current < 1 {
		return nil
	}
	to := current - 1
	if from >= to {
		return nil
	}
	n, err := deps.Archiver.ArchiveRounds(ctx, from, to)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "archiver: archived rounds",
		slog.Uint64("from", from),
		slog.Uint64("to", to),
		slog.Int64("count", n),
	)
	return nil
}

// startHTTPServer adds the HTTP server, and the WebSocket hub when a signal
// bus is wired, to g. The server shuts down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	h := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Game:    handler.NewGameHandler(deps.Game, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.AuditStore != nil {
		h.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}
	if deps.SignalBus != nil {
		hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
		h.Hub = hub
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srvCfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}
	if a.cfg.Server.RequireSignature {
		srvCfg.Verifier = crypto.NewVerifier(a.cfg.Server.SignatureSkew.Duration)
		srvCfg.Nonces = deps.Nonces
	}
	srv := server.NewServer(srvCfg, h, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// ensureGame instantiates the market on first start. An existing market is
// left alone unless MigrateOnStart asks for its config to be rewritten.
func (a *App) ensureGame(ctx context.Context, deps *Dependencies) error {
	cfg, err := gameConfig(a.cfg)
	if err != nil {
		return fmt.Errorf("game config: %w", err)
	}
	owner := cfg.Collector
	if a.cfg.Game.OwnerAddress != "" {
		if owner, err = domain.ParsePlayer(a.cfg.Game.OwnerAddress); err != nil {
			return fmt.Errorf("owner_address: %w", err)
		}
	}

	_, err = deps.Game.Instantiate(ctx, domain.Env{Now: time.Now()}, domain.MessageInfo{Sender: owner}, cfg)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrAlreadyInstantiated):
		if a.cfg.Game.MigrateOnStart {
			return deps.Game.Migrate(ctx, cfg)
		}
		a.logger.InfoContext(ctx, "game already instantiated")
		return nil
	default:
		return err
	}
}
