// Package server exposes the meter over HTTP: query endpoints under /api, the
// push channel on /ws, plus health and metrics.
package server

import (
	"errors"
	"net/http"
	"strconv"

	"combat-meter/internal/aggregate"
	"combat-meter/internal/config"
	"combat-meter/internal/history"
	"combat-meter/internal/hub"
	"combat-meter/internal/ingest"
	"combat-meter/internal/metrics"
	"combat-meter/internal/middleware"
	"combat-meter/internal/repository"
	"combat-meter/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

var (
	errInvalidUID  = errors.New("invalid uid")
	errInvalidBody = errors.New("invalid request body")
)

type MeterServer struct {
	cfg      *config.Config
	store    *aggregate.Store
	pipeline *ingest.Pipeline
	sessions *service.SessionService
	archive  *repository.SessionRepository
	payloads *service.PayloadService
	history  *history.Store
	hub      *hub.Hub
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewMeterServer(
	cfg *config.Config,
	store *aggregate.Store,
	pipeline *ingest.Pipeline,
	sessions *service.SessionService,
	archive *repository.SessionRepository,
	payloads *service.PayloadService,
	hist *history.Store,
	h *hub.Hub,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *MeterServer {
	return &MeterServer{
		cfg:      cfg,
		store:    store,
		pipeline: pipeline,
		sessions: sessions,
		archive:  archive,
		payloads: payloads,
		history:  hist,
		hub:      h,
		metrics:  m,
		logger:   logger,
	}
}

// Routes builds the full handler tree.
func (s *MeterServer) Routes() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r := chi.NewRouter()
	r.Use(c.Handler)
	r.Use(middleware.RequestID(s.logger))
	r.Use(middleware.Recover(s.logger))
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/ws", s.hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/data", s.getData)
		r.Get("/skill/{uid}", s.getSkill)
		r.Get("/clear", s.clear)
		r.Post("/clear", s.clear)
		r.Get("/pause", s.getPause)
		r.Post("/pause", s.setPause)
		r.Post("/ingest", s.ingest)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Get("/{id}", s.getSession)
			r.Delete("/{id}", s.deleteSession)
			r.Get("/{id}/payload/{uid}", s.getSessionPayload)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.listHistory)
			r.Get("/{timestamp}/summary", s.getHistorySummary)
			r.Get("/{timestamp}/data", s.getHistoryData)
			r.Get("/{timestamp}/skill/{uid}", s.getHistorySkill)
			r.Get("/{timestamp}/download", s.downloadHistoryLog)
		})
	})

	return r
}

func (s *MeterServer) healthz(w http.ResponseWriter, r *http.Request) {
	body := envelope{
		"status":      "ok",
		"subscribers": s.hub.Count(),
		"players":     s.store.Len(),
		"paused":      s.pipeline.Paused(),
	}
	if cur, ok := s.sessions.Current(); ok {
		body["session"] = cur.Name
	}
	ok(w, body)
}

func parseUID(raw string) (int64, error) {
	if !history.IsDigits(raw) {
		return 0, errInvalidUID
	}
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || uid <= 0 {
		return 0, errInvalidUID
	}
	return uid, nil
}
