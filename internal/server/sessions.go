package server

import (
	"net/http"
	"strconv"

	"combat-meter/internal/constants"

	"github.com/go-chi/chi/v5"
)

func (s *MeterServer) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := constants.SessionListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, constants.SessionListLimit)
	}

	list, err := s.archive.List(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, envelope{"data": list})
}

func (s *MeterServer) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.archive.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, envelope{"data": sess})
}

func (s *MeterServer) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.archive.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, envelope{"msg": "Session deleted", "id": id})
}

func (s *MeterServer) getSessionPayload(w http.ResponseWriter, r *http.Request) {
	uid, err := parseUID(chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	payload, err := s.payloads.Historical(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, envelope{"data": payload})
}
