package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"combat-meter/internal/constants"
	"combat-meter/internal/ingest"

	"github.com/go-chi/chi/v5"
	"go.uber.org/multierr"
)

func (s *MeterServer) getData(w http.ResponseWriter, r *http.Request) {
	ok(w, envelope{"user": s.store.Players()})
}

func (s *MeterServer) getSkill(w http.ResponseWriter, r *http.Request) {
	uid, err := parseUID(chi.URLParam(r, "uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := s.store.UserSkillData(uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, envelope{"data": data})
}

func (s *MeterServer) clear(w http.ResponseWriter, r *http.Request) {
	t, err := s.sessions.Clear(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ok(w, envelope{
		"msg":      fmt.Sprintf("Statistics cleared and new session started on map %q", t.Started.Name),
		"session":  t.Started,
		"archived": t.Archived,
	})
}

func (s *MeterServer) getPause(w http.ResponseWriter, r *http.Request) {
	ok(w, envelope{"paused": s.pipeline.Paused()})
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

func (s *MeterServer) setPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, constants.MaxRequestBody)).Decode(&req); err != nil || req.Paused == nil {
		writeError(w, r, errInvalidBody)
		return
	}

	s.pipeline.SetPaused(*req.Paused)
	msg := "Statistics resumed!"
	if *req.Paused {
		msg = "Statistics paused!"
	}
	ok(w, envelope{"msg": msg, "paused": *req.Paused})
}

func (s *MeterServer) ingest(w http.ResponseWriter, r *http.Request) {
	var batch ingest.Batch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, constants.MaxRequestBody)).Decode(&batch); err != nil {
		writeError(w, r, errInvalidBody)
		return
	}

	res, err := s.pipeline.Apply(r.Context(), batch)
	body := envelope{
		"accepted": res.Accepted,
		"rejected": res.Rejected,
		"removed":  res.Removed,
	}
	if err != nil {
		errs := multierr.Errors(err)
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		body["errors"] = msgs
	}
	ok(w, body)
}
