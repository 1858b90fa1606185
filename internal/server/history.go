package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *MeterServer) listHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.history.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, envelope{"data": list})
}

func (s *MeterServer) getHistorySummary(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, s.history.Summary)
}

func (s *MeterServer) getHistoryData(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, s.history.UserData)
}

func (s *MeterServer) getHistorySkill(w http.ResponseWriter, r *http.Request) {
	data, err := s.history.UserSkill(chi.URLParam(r, "timestamp"), chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, envelope{"data": data})
}

func (s *MeterServer) serveArtifact(w http.ResponseWriter, r *http.Request, read func(string) (json.RawMessage, error)) {
	data, err := read(chi.URLParam(r, "timestamp"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, envelope{"data": data})
}

func (s *MeterServer) downloadHistoryLog(w http.ResponseWriter, r *http.Request) {
	ts := chi.URLParam(r, "timestamp")
	f, info, err := s.history.OpenLog(ts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "fight_"+ts+".log"))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
