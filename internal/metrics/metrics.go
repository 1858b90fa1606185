package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   *prometheus.CounterVec
	SessionsArchived  prometheus.Counter
	ArchiveFailures   prometheus.Counter
	UpdatesApplied    *prometheus.CounterVec
	UpdatesRejected   *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	StaleFlushes      prometheus.Counter
	Subscribers       prometheus.Gauge
	ActivePlayers     prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
	HTTPRequestTiming *prometheus.HistogramVec
}

func New(logger zerolog.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meter_sessions_started_total",
			Help: "Sessions started, by start reason",
		}, []string{"reason"}),
		SessionsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meter_sessions_archived_total",
			Help: "Sessions written to the archive",
		}),
		ArchiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meter_archive_failures_total",
			Help: "Archive writes that failed",
		}),
		UpdatesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meter_updates_applied_total",
			Help: "Capture updates applied to the aggregate store",
		}, []string{"kind"}),
		UpdatesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meter_updates_rejected_total",
			Help: "Capture updates rejected or dropped",
		}, []string{"kind"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meter_events_published_total",
			Help: "Push events published, by kind",
		}, []string{"kind"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meter_events_dropped_total",
			Help: "Push events dropped for a slow subscriber, by kind",
		}, []string{"kind"}),
		StaleFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meter_stale_flushes_total",
			Help: "Data flushes discarded because the session ended while they were read",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meter_subscribers",
			Help: "Connected push subscribers",
		}),
		ActivePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meter_active_players",
			Help: "Players with recorded activity in the current session",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meter_http_requests_total",
			Help: "HTTP requests, by route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meter_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.SessionsStarted,
		m.SessionsArchived,
		m.ArchiveFailures,
		m.UpdatesApplied,
		m.UpdatesRejected,
		m.EventsPublished,
		m.EventsDropped,
		m.StaleFlushes,
		m.Subscribers,
		m.ActivePlayers,
		m.HTTPRequests,
		m.HTTPRequestTiming,
	)

	logger.Debug().Msg("prometheus metrics initialized")
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestTiming.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
