package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hmip/internal/light"
)

// handleCallService executes a service call. The request body is the
// service data, e.g. {"entity_id": "light.treppe", "brightness_pct": 40}.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	call := light.ServiceCall{
		Domain:  chi.URLParam(r, "domain"),
		Service: chi.URLParam(r, "service"),
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	call.Data = data

	logArgs := []any{
		"domain", call.Domain,
		"service", call.Service,
		"request_id", r.Context().Value(ctxKeyRequestID),
	}
	if claims, ok := claimsFromContext(r.Context()); ok {
		logArgs = append(logArgs, "subject", claims.Subject)
	}

	if err := s.services.Call(r.Context(), call); err != nil {
		s.logger.Warn("service call failed", append(logArgs, "error", err)...)
		writeServiceError(w, err)
		return
	}

	s.logger.Info("service call executed", logArgs...)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"domain":  call.Domain,
		"service": call.Service,
	})
}

// writeServiceError maps service call failures to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, light.ErrUnknownService):
		writeNotFound(w, err.Error())
	case errors.Is(err, light.ErrEntityNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, light.ErrInvalidParameters):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "cloud request timed out")
	default:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
