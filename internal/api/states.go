package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hmip/internal/entity"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000

	// maxQueryParamLen limits path and query parameter length.
	maxQueryParamLen = 100
)

// handleListStates returns every entity state, optionally filtered by ?domain=.
func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if len(domain) > maxQueryParamLen {
		writeBadRequest(w, "invalid domain")
		return
	}

	all := s.states.List()
	states := make([]entity.State, 0, len(all))
	for _, st := range all {
		if domain == "" || st.Domain() == domain {
			states = append(states, st)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"states": states,
		"count":  len(states),
	})
}

// handleGetState returns the current state of one entity.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	entityID, ok := entityIDParam(w, r)
	if !ok {
		return
	}

	state, err := s.states.Get(r.Context(), entityID)
	if err != nil {
		s.writeStateError(w, entityID, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleGetHistory returns recent state changes of one entity, newest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	entityID, ok := entityIDParam(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	history, err := s.states.History(r.Context(), entityID, limit)
	if err != nil {
		s.writeStateError(w, entityID, err)
		return
	}
	if history == nil {
		history = []entity.HistoryEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": entityID,
		"history":   history,
		"count":     len(history),
	})
}

func entityIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	entityID := chi.URLParam(r, "entity_id")
	if len(entityID) > maxQueryParamLen {
		writeBadRequest(w, "invalid entity ID")
		return "", false
	}
	if err := entity.ValidateEntityID(entityID); err != nil {
		writeBadRequest(w, "invalid entity ID")
		return "", false
	}
	return entityID, true
}

func (s *Server) writeStateError(w http.ResponseWriter, entityID string, err error) {
	if errors.Is(err, entity.ErrEntityNotFound) {
		writeNotFound(w, "entity not found")
		return
	}
	s.logger.Error("reading entity state failed", "entity_id", entityID, "error", err)
	writeInternalError(w, "failed to read entity state")
}

// parseHistoryLimit parses ?limit=, defaulting to 50 and capped at 1000.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}
	return limit, nil
}
