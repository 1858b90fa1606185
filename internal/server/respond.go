package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"combat-meter/internal/aggregate"
	"combat-meter/internal/history"
	"combat-meter/internal/middleware"
	"combat-meter/internal/repository"
	"combat-meter/internal/service"

	"github.com/rs/zerolog"
)

const (
	codeOK   = 0
	codeFail = 1
)

// envelope is the body of every JSON response. code is always present.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["code"] = codeOK
	writeJSON(w, http.StatusOK, body)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{"code": codeFail, "msg": msg})
}

// writeError maps domain errors onto status codes. Anything unrecognized is a
// 500 and gets logged with the request id.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, history.ErrInvalidTimestamp),
		errors.Is(err, history.ErrInvalidUID),
		errors.Is(err, errInvalidUID),
		errors.Is(err, errInvalidBody):
		fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrSessionNotFound):
		fail(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, aggregate.ErrUserNotFound),
		errors.Is(err, service.ErrUserNotInSession):
		fail(w, http.StatusNotFound, "User not found")
	case errors.Is(err, history.ErrNotFound):
		fail(w, http.StatusNotFound, "Not found")
	case errors.Is(err, history.ErrInvalidPath):
		fail(w, http.StatusInternalServerError, "invalid path")
	default:
		zerolog.Ctx(r.Context()).Error().
			Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		fail(w, http.StatusInternalServerError, "internal error")
	}
}
