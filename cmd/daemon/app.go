package main

import (
	"context"

	"github.com/genricoloni/playsync/internal/artwork"
	"github.com/genricoloni/playsync/internal/config"
	"github.com/genricoloni/playsync/internal/coordinator"
	"github.com/genricoloni/playsync/internal/domain"
	"github.com/genricoloni/playsync/internal/engine"
	"github.com/genricoloni/playsync/internal/hub"
	"github.com/genricoloni/playsync/internal/metadata"
	"github.com/genricoloni/playsync/internal/mpris"
	"github.com/genricoloni/playsync/internal/observer"
	"github.com/genricoloni/playsync/internal/server"
	"github.com/genricoloni/playsync/internal/session"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// AppOptions wires every component. A config.Path must be supplied alongside.
var AppOptions = fx.Options(
	fx.Provide(
		config.NewAppConfig,
		newLogger,
		session.New,
		fx.Annotate(observer.NewCDPSurface, fx.As(new(domain.MediaSurface))),
		fx.Annotate(observer.New, fx.As(new(domain.Observer))),
		fx.Annotate(metadata.NewHTTPSource, fx.As(new(domain.MetadataSource))),
		hub.New,
		func(h *hub.Hub) domain.StateSink { return h },
		coordinator.New,
		func(c *coordinator.Coordinator) domain.StateProvider { return c },
		func(c *coordinator.Coordinator) engine.Reconciler { return c },
		engine.NewEngine,
		func(e *engine.Engine) domain.Controller { return e },
		server.New,
		fx.Annotate(artwork.NewHTTPFetcher, fx.As(new(artwork.Fetcher))),
		artwork.NewCache,
		func(c *artwork.Cache) mpris.Thumbnailer { return c },
		mpris.NewService,
	),
	fx.Invoke(registerHooks),
)

type components struct {
	fx.In

	Logger   *zap.Logger
	Config   *config.AppConfig
	Observer domain.Observer
	Engine   *engine.Engine
	Coord    *coordinator.Coordinator
	Hub      *hub.Hub
	Server   *server.Server
	MPRIS    *mpris.Service
}

// registerHooks sets up application lifecycle hooks
func registerHooks(lc fx.Lifecycle, c components) {
	// OnStart contexts expire with the start timeout; the pipeline needs one
	// that lives until OnStop
	runCtx, cancel := context.WithCancel(context.Background())
	observerDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := c.Config.Watch(runCtx, c.Logger); err != nil {
					c.Logger.Warn("Config hot reload unavailable", zap.Error(err))
				}
			}()

			go func() {
				defer close(observerDone)
				if err := c.Observer.Start(runCtx); err != nil {
					c.Logger.Error("Observer stopped with error", zap.Error(err))
				}
			}()

			if err := c.Engine.Start(runCtx); err != nil {
				return err
			}
			if err := c.Server.Start(runCtx); err != nil {
				return err
			}
			if err := c.MPRIS.Start(runCtx); err != nil {
				// desktop integration is optional
				c.Logger.Warn("MPRIS session unavailable", zap.Error(err))
			}

			c.Logger.Info("playsync daemon started", zap.String("listen", c.Server.Addr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Logger.Info("Shutting down")

			var err error
			err = multierr.Append(err, c.Server.Stop(ctx))
			err = multierr.Append(err, c.MPRIS.Stop())

			cancel()
			select {
			case <-observerDone:
			case <-ctx.Done():
				err = multierr.Append(err, ctx.Err())
			}
			err = multierr.Append(err, c.Engine.Stop(ctx))
			err = multierr.Append(err, c.Coord.Close())
			c.Hub.Close()

			_ = c.Logger.Sync()
			return err
		},
	})
}
