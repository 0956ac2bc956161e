// Package api provides HTTP handlers for DialogDesk endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dialogdesk/dialogdesk/internal/models"
)

func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.turnHandler: processing turn request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.turnHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.turnHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result, err := s.engine.ProcessTurn(r.Context(), req)
	if err != nil {
		if isValidationError(err) {
			slog.Warn("Server.turnHandler: validation failed", "error", err, "sessionID", req.SessionID)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		// Store-level failures mean the turn is not durable; the caller
		// should retry rather than silently lose collected slots.
		slog.Error("Server.turnHandler: turn failed", "error", err, "sessionID", req.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process turn"))
		return
	}

	slog.Info("Server.turnHandler: turn processed", "turnID", result.TurnID, "sessionID", result.SessionID, "locked", result.Locked)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/v1/session/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		state, err := s.engine.Sessions().Get(r.Context(), sessionID)
		if err != nil {
			slog.Error("Server.sessionHandler: read failed", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read session"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(state))

	case http.MethodDelete:
		if err := s.engine.Sessions().Delete(r.Context(), sessionID); err != nil {
			slog.Error("Server.sessionHandler: delete failed", "error", err, "sessionID", sessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete session"))
			return
		}
		slog.Info("Server.sessionHandler: session deleted", "sessionID", sessionID)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))

	default:
		w.Header().Set("Allow", "GET, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// toolCheckRequest is the body of POST /v1/tools/check.
type toolCheckRequest struct {
	SessionID  string  `json:"session_id"`
	ToolName   string  `json:"tool_name"`
	Confidence float64 `json:"confidence"`
}

func (s *Server) toolCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req toolCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.toolCheckHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.SessionID == "" || req.ToolName == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("session_id and tool_name are required"))
		return
	}

	decision, err := s.engine.CheckTool(r.Context(), req.SessionID, req.ToolName, req.Confidence)
	if err != nil {
		slog.Error("Server.toolCheckHandler: check failed", "error", err, "sessionID", req.SessionID, "tool", req.ToolName)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to check tool authorization"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(decision))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "dialogdesk"}))
}

func isValidationError(err error) bool {
	return errors.Is(err, models.ErrEmptySessionID) ||
		errors.Is(err, models.ErrEmptyUserMessage) ||
		errors.Is(err, models.ErrUtteranceTooLong) ||
		errors.Is(err, models.ErrTooManyCandidates)
}
