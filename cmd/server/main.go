package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"combat-meter/internal/config"
	"combat-meter/internal/constants"
	fxmodules "combat-meter/internal/fx"
	"combat-meter/internal/hub"
	"combat-meter/internal/ingest"
	"combat-meter/internal/server"
	"combat-meter/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	meterServer *server.MeterServer,
	sessions *service.SessionService,
	pipeline *ingest.Pipeline,
	source ingest.ChanSource,
	h *hub.Hub,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           meterServer.Routes(),
		ReadHeaderTimeout: constants.ReadHeaderTimeout,
	}

	// capture adapters attach by depending on ingest.ChanSource; none ships in
	// this binary, so POST /api/ingest is the only producer for now
	runCtx, cancelRun := context.WithCancel(context.Background())
	pipelineDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := sessions.Start(ctx, nil, ""); err != nil {
				return fmt.Errorf("start session: %w", err)
			}

			go func() {
				defer close(pipelineDone)
				if err := pipeline.Run(runCtx, source); err != nil {
					logger.Error().Err(err).Msg("ingest pipeline stopped")
				}
			}()

			go func() {
				logger.Info().Str("addr", srv.Addr).Bool("paused", pipeline.Paused()).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			cancelRun()
			<-pipelineDone
			sessions.Stop()
			h.Close()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
