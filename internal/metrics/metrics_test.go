package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New(zerolog.Nop())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/skill/{uid}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/skill/42", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/skill/{uid}", "404")))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	m := New(zerolog.Nop())
	m.SessionsStarted.WithLabelValues("startup").Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `meter_sessions_started_total{reason="startup"} 1`)
}

func TestNew_IndependentRegistries(t *testing.T) {
	a := New(zerolog.Nop())
	b := New(zerolog.Nop())
	a.SessionsArchived.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.SessionsArchived))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SessionsArchived))
}
