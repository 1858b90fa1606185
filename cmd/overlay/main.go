package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"combat-meter/internal/api"
	"combat-meter/internal/config"
	"combat-meter/internal/detail"
	"combat-meter/internal/logger"
	"combat-meter/internal/replica"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	log := logger.New()

	cfg, err := config.LoadClient(log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load client config")
	}
	log = log.Level(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("overlay stopped")
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, log zerolog.Logger) error {
	client := api.NewMeterClient(cfg)
	rep := replica.New(cfg, logList{logger: log}, log)
	conn := replica.NewConn(cfg, client, rep, log)
	watchdog := replica.NewWatchdog(conn, cfg.ReconnectThreshold, log)

	if err := conn.Connect(ctx); err != nil {
		// the watchdog keeps retrying
		log.Warn().Err(err).Msg("initial connect failed")
	}
	defer conn.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rep.Run(ctx) })
	g.Go(func() error { return watchdog.Run(ctx) })
	if cfg.DetailUID > 0 {
		g.Go(func() error { return bindDetail(ctx, rep, cfg.DetailUID, log) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// bindDetail opens a detail surface for uid once the player shows up and
// reopens it if the binding is dropped.
func bindDetail(ctx context.Context, rep *replica.Replica, uid int64, log zerolog.Logger) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if rep.Binder().State() == detail.Unbound {
			surface := &logDetail{logger: log.With().Str("surface", "detail").Logger()}
			if err := rep.OpenDetail(uid, surface); err == nil {
				// the log surface has no handshake of its own
				rep.Binder().Ready()
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
