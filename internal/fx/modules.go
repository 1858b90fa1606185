package fx

import (
	"combat-meter/internal/aggregate"
	"combat-meter/internal/config"
	"combat-meter/internal/constants"
	"combat-meter/internal/database"
	"combat-meter/internal/history"
	"combat-meter/internal/hub"
	"combat-meter/internal/ingest"
	"combat-meter/internal/logger"
	"combat-meter/internal/metrics"
	"combat-meter/internal/repository"
	"combat-meter/internal/server"
	"combat-meter/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideStore(tables *config.Tables) *aggregate.Store {
	return aggregate.New(tables.Merge)
}

func ProvideSessionService(
	store *aggregate.Store,
	archive *repository.SessionRepository,
	h *hub.Hub,
	tables *config.Tables,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *service.SessionService {
	return service.NewSessionService(store, archive, h, tables, m, logger)
}

func ProvidePayloadService(archive *repository.SessionRepository, tables *config.Tables, logger zerolog.Logger) *service.PayloadService {
	return service.NewPayloadService(archive, tables, logger)
}

func ProvidePipeline(
	cfg *config.Config,
	store *aggregate.Store,
	h *hub.Hub,
	sessions *service.SessionService,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *ingest.Pipeline {
	return ingest.NewPipeline(cfg, store, h, sessions, m, logger)
}

// ProvideCaptureSource is the channel capture adapters send batches into.
func ProvideCaptureSource() ingest.ChanSource {
	return make(ingest.ChanSource, constants.SubscriberBuffer)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(config.LoadTables),
	fx.Provide(metrics.New),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewSessionRepository),
	fx.Provide(history.New),
	// live state
	fx.Provide(ProvideStore),
	fx.Provide(hub.New),
	// svc
	fx.Provide(ProvideSessionService),
	fx.Provide(ProvidePayloadService),
	fx.Provide(ProvidePipeline),
	fx.Provide(ProvideCaptureSource),
	// server
	fx.Provide(server.NewMeterServer),
)
