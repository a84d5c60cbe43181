package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/elisa-tech/BASIL-sub001/internal/model"
	"github.com/elisa-tech/BASIL-sub001/internal/store"
)

// loadRun resolves the {id} URL parameter. It writes the error response and
// returns nil when the run cannot be served.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) *model.Run {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return nil
	}

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "test run not found")
		return nil
	}
	if err != nil {
		s.logger.Error("get test run", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get test run")
		return nil
	}
	return run
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}
