package main

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/evanwires/sidekick/internal/config"
	"github.com/evanwires/sidekick/internal/engine"
	"github.com/evanwires/sidekick/internal/metrics"
	"github.com/evanwires/sidekick/internal/web"
)

const defaultAddr = ":7860"

type listenAddr string

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Serve the assist API over HTTP",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.HTTP.Addr
			}
			if addr == "" {
				addr = defaultAddr
			}

			app := fx.New(
				fx.NopLogger,
				fx.Supply(cfg, listenAddr(addr)),
				fx.Provide(
					newServeKB,
					func() *metrics.Metrics { return metrics.New("") },
					newServeEngine,
					func(eng *engine.Engine, m *metrics.Metrics) *web.Server {
						return web.NewServer(eng, m.Handler())
					},
				),
				fx.Invoke(startServer),
			)
			app.Run()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func newServeKB(lc fx.Lifecycle, cfg config.Config) (*sql.DB, error) {
	db, closeFn, err := openKB(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeFn()
			return nil
		},
	})
	return db, nil
}

func newServeEngine(lc fx.Lifecycle, cfg config.Config, db *sql.DB, m *metrics.Metrics) (*engine.Engine, error) {
	deps, err := buildDeps(cfg, db)
	if err != nil {
		return nil, err
	}
	deps.Observer = m
	eng, err := engine.New(engineConfig(cfg), deps)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return eng.Close()
		},
	})
	return eng, nil
}

func startServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, srv *web.Server, addr listenAddr) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(ctx, string(addr)); err != nil {
					log.Error().Err(err).Msg("server stopped")
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
