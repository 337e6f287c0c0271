package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evanwires/sidekick/internal/model"
)

type appendUtteranceRequest struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Seq     uint64 `json:"seq"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleAppendUtterance(w http.ResponseWriter, r *http.Request) {
	var req appendUtteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	speaker, err := model.ParseSpeaker(req.Speaker)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "bad_request", "empty utterance text")
		return
	}
	u, err := s.engine.AppendUtterance(speaker, req.Text, req.Seq)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleAssist(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RequestAssistance(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	tasks := snap.Tasks
	if tasks == nil {
		tasks = []model.Task{}
	}
	s.writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.engine.Snapshot().Task(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "not_found", "no task "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

// taskOp wraps one task decision endpoint: 404 for an unknown id, 409
// for a rejected transition, then the refreshed task on success.
func (s *Server) taskOp(op func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, ok := s.engine.Snapshot().Task(id); !ok {
			s.writeError(w, http.StatusNotFound, "not_found", "no task "+id)
			return
		}
		if err := op(r.Context(), id); err != nil {
			s.writeEngineError(w, err)
			return
		}
		task, ok := s.engine.Snapshot().Task(id)
		if !ok {
			s.writeError(w, http.StatusNotFound, "not_found", "no task "+id)
			return
		}
		s.writeJSON(w, http.StatusOK, task)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Reset(); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": s.engine.SessionID()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, message string) {
	s.writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses:
// sequencing and transition conflicts are 409, everything else 500.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	kind := model.ErrorKind(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrOutOfOrder),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrRetryBudgetExceeded):
		status = http.StatusConflict
	}
	s.writeError(w, status, kind, err.Error())
}
