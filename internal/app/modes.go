package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftmarket/internal/config"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/market"
	"github.com/alanyoungcy/nftmarket/internal/pipeline"
	"github.com/alanyoungcy/nftmarket/internal/server"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServerMode builds the engine and serves the HTTP API, the WebSocket event
// hub and, when enabled, the expired-auction sweeper.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	eng, err := a.newEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		StartedAt:      time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		DevAuth:     a.cfg.Server.AuthMode == config.AuthDev,
		MaxSkew:     a.cfg.Server.MaxClockSkew.Duration,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Nonces:      deps.LockManager,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(eng, a.logger, deps.HealthChecks...),
		Listings:    handler.NewListingHandler(eng, a.logger),
		Offers:      handler.NewOfferHandler(eng, a.logger),
		Admin:       handler.NewAdminHandler(eng, a.logger),
		Settlements: handler.NewSettlementHandler(eng, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	if a.cfg.Server.AuthMode == config.AuthDev {
		a.logger.WarnContext(ctx, "server.auth_mode is dev: X-Account is trusted without a signature")
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if interval := a.cfg.Market.SweepInterval.Duration; interval > 0 {
		sweeper := pipeline.NewAuctionSweeper(eng, eng.EscrowAccount(), interval, a.logger)
		g.Go(func() error {
			return sweeper.Run(ctx)
		})
	}

	return g.Wait()
}

// ArchiveMode copies closed ledger rows to S3. With an empty archive.cron it
// runs once and returns; otherwise it runs on the schedule until cancelled.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return errors.New("archive mode: s3 archiver not configured")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)

	if a.cfg.Archive.Cron == "" {
		_, err := archiver.Run(ctx)
		return err
	}
	return archiver.RunCron(ctx, a.cfg.Archive.Cron)
}

// MigrateMode applies the embedded schema migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting migrate mode")

	if deps.Postgres == nil {
		return errors.New("migrate mode: postgres driver required")
	}
	if err := deps.Postgres.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrate mode: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations applied")
	return nil
}

// newEngine builds the market engine over deps and seeds the platform config
// and default admin on first start.
func (a *App) newEngine(ctx context.Context, deps *Dependencies) (*market.Engine, error) {
	mc := a.cfg.Market
	eng, err := market.New(market.Deps{
		Ledger:   deps.Ledger,
		Custody:  deps.Custody,
		Payments: deps.Payments,
		Locks:    deps.LockManager,
		Events:   deps.Publisher,
	}, market.Options{
		EscrowAccount:      common.HexToAddress(mc.EscrowAccount),
		LockTTL:            mc.LockTTL.Duration,
		LockWait:           mc.LockWait.Duration,
		MaxAuctionDuration: mc.MaxAuctionDuration.Duration,
		Logger:             a.logger,
	})
	if err != nil {
		return nil, err
	}

	defaults := domain.PlatformConfig{
		FeeBps: uint16(mc.FeeBps),
	}
	if mc.FeeRecipient != "" {
		defaults.FeeRecipient = common.HexToAddress(mc.FeeRecipient)
	}
	for _, t := range mc.ApprovedTokens {
		defaults = defaults.WithToken(common.HexToAddress(t))
	}
	if err := eng.Bootstrap(ctx, common.HexToAddress(mc.AdminAccount), defaults); err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "market engine ready",
		slog.String("escrow_account", eng.EscrowAccount().Hex()),
	)
	return eng, nil
}
