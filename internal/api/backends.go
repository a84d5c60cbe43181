package api

import (
	"net/http"

	"github.com/elisa-tech/BASIL-sub001/internal/backend"
)

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	kinds := backend.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	s.writeJSON(w, http.StatusOK, names)
}
