package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	// A live coordinator has fresher counters than the store.
	if coord, ok := s.registry.Get(sessionID); ok {
		writeJSON(w, http.StatusOK, map[string]any{"session": coord.Session()})
		return
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (s *Server) listSessionPages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	pages, err := s.store.ListPages(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) pauseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	coord, ok := s.registry.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session is not running")
		return
	}
	coord.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"session": coord.Session()})
}

func (s *Server) resumeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	coord, ok := s.registry.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session is not running")
		return
	}
	coord.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"session": coord.Session()})
}
