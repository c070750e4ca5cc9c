package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/assertmarket/internal/pipeline"
	"github.com/alanyoungcy/assertmarket/internal/server"
	"github.com/alanyoungcy/assertmarket/internal/server/handler"
)

// ServeMode runs the HTTP API and websocket hub together with the background
// jobs: the simulated oracle's liveness sweeper and, when enabled, the
// scheduled event archiver.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.String("engine", deps.Engine.Address().Hex()),
		slog.String("currency", deps.Engine.Currency().Hex()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})

	if deps.Simulator != nil {
		g.Go(func() error {
			return ignoreCanceled(deps.Simulator.Run(ctx))
		})
	}

	archiver := a.newArchiver(deps)
	if archiver != nil && a.cfg.Archive.Enabled {
		g.Go(func() error {
			return ignoreCanceled(archiver.RunCron(ctx, a.cfg.Archive.Cron))
		})
	}

	a.startHTTPServer(ctx, g, deps, archiver)

	return g.Wait()
}

// ArchiveMode runs one archive pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	archiver := a.newArchiver(deps)
	if archiver == nil {
		return errors.New("archive mode: s3 is not configured")
	}
	n, err := archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive mode finished", slog.Int64("archived", n))
	return nil
}

func (a *App) newArchiver(deps *Dependencies) *pipeline.Archiver {
	if deps.Archiver == nil {
		return nil
	}
	return pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.Retention.Duration, deps.LockManager, a.logger)
}

// startHTTPServer adds the HTTP server goroutine to g and shuts the server
// down gracefully once ctx is cancelled. archiver may be nil.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, archiver *pipeline.Archiver) {
	var sim handler.OracleSimulator
	if deps.Simulator != nil {
		sim = deps.Simulator
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Markets:    handler.NewMarketHandler(deps.Markets, deps.Engine, a.logger),
		Collateral: handler.NewCollateralHandler(deps.Engine, a.logger),
		Oracle:     handler.NewOracleHandler(deps.Engine, sim, a.logger),
		Events:     handler.NewEventsHandler(deps.Markets, deps.Publisher, a.logger),
	}
	if deps.BlobReader != nil {
		var runner handler.ArchiveRunner
		if archiver != nil {
			runner = archiver
		}
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, runner, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		AdminKey:          a.cfg.Server.AdminKey,
		TrustCallerHeader: a.cfg.Server.TrustCallerHeader,
		MaxSkew:           a.cfg.Server.MaxSkew.Duration,
		RateLimit:         a.cfg.Server.RateLimit,
		RateWindow:        a.cfg.Server.RateWindow.Duration,
		ReplayGuard:       deps.ReplayGuard,
	}, handlers, deps.Hub, deps.RateLimiter, a.logger)

	if a.cfg.Server.TrustCallerHeader {
		a.logger.WarnContext(ctx, "caller signatures are not checked (server.trust_caller_header)")
	}

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats shutdown as a clean exit for background loops.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
