package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/drawsettle/internal/crypto"
	"github.com/alanyoungcy/drawsettle/internal/keeper"
	"github.com/alanyoungcy/drawsettle/internal/notify"
	"github.com/alanyoungcy/drawsettle/internal/server"
	"github.com/alanyoungcy/drawsettle/internal/server/handler"
	"github.com/alanyoungcy/drawsettle/internal/server/ws"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take once the
// context is cancelled.
const shutdownTimeout = 5 * time.Second

// ServerMode serves the HTTP and WebSocket API and forwards bus events to
// the notification channels.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs only the scheduled jobs.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API, the keeper and the notifier in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startKeeper(ctx, g, deps)
	a.startNotifier(ctx, g, deps)
	return g.Wait()
}

// newServer builds the API server over deps. The WebSocket hub is returned
// separately so the caller can run it; it is nil without a signal bus.
func (a *App) newServer(deps *Dependencies) (*server.Server, *ws.Hub) {
	startedAt := time.Now().UTC()
	h := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: &handler.StatusHandler{
			Mode:      strings.ToLower(a.cfg.Mode),
			Storage:   strings.ToLower(a.cfg.Storage.Backend),
			StartedAt: startedAt,
		},
		Config:  handler.NewConfigHandler(deps.Engine, deps.Validator, crypto.NewDeliveryDomain(a.cfg.Oracle.ChainID), a.logger),
		Draws:   handler.NewDrawHandler(deps.Engine, deps.Validator, a.logger),
		Payouts: handler.NewPayoutHandler(deps.Engine, deps.Balances, deps.Validator, a.logger),
		Metrics: deps.Metrics,
	}

	var callbackAuth *crypto.HMACAuth
	if a.cfg.Oracle.CallbackHMAC {
		callbackAuth = &crypto.HMACAuth{Key: a.cfg.Oracle.APIKey, Secret: a.cfg.Oracle.APISecret}
	}
	h.Oracle = handler.NewOracleHandler(deps.Engine, deps.Verifier, callbackAuth, a.logger)

	if deps.SignalBus != nil {
		h.Hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: startedAt,
		})
	} else {
		a.logger.Info("app: websocket feed disabled (redis not enabled)")
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		OpenReads:   a.cfg.Server.OpenReads,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, deps.RateLimiter, a.logger)
	return srv, h.Hub
}

// startHTTPServer adds the API server, its shutdown watcher and the
// WebSocket hub to g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	srv, hub := a.newServer(deps)
	if hub != nil {
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startKeeper adds the scheduled jobs to g.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var opts []keeper.Option
	if deps.Archiver != nil {
		opts = append(opts, keeper.WithArchive(deps.Archiver, deps.Blobs))
	}
	if deps.Metrics != nil {
		opts = append(opts, keeper.WithJobRecorder(deps.Metrics))
	}
	k := keeper.New(deps.Engine, keeperConfig(a.cfg, deps.OracleFee), a.logger, opts...)
	g.Go(func() error {
		return k.Run(ctx)
	})
}

// startNotifier forwards bus events to the notification channels. Without a
// signal bus there is nothing to subscribe to.
func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.SignalBus == nil || deps.Notifier == nil {
		return
	}
	sub := notify.NewSubscriber(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "app: notification subscriber stopped",
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
}
