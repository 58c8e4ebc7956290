package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/veilgate/veilgate/internal/events"
	"github.com/veilgate/veilgate/internal/sanitize"
)

type sanitizeRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type reconcileRequest struct {
	SessionID        string `json:"session_id"`
	Text             string `json:"text"`
	AllowConditional bool   `json:"allow_conditional"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

// handleSanitize runs the sanitization pipeline over submitted text.
func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	var req sanitizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id is required"})
		return
	}

	result := s.engine.Sanitize(r.Context(), req.SessionID, req.Text)

	s.hub.Broadcast(events.Event{
		Type:      events.TypeSanitize,
		SessionID: req.SessionID,
		Data:      sanitizePayload(result),
	})

	writeJSON(w, http.StatusOK, result)
}

// handleReconcile restores tokenized spans in provider output per policy.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id is required"})
		return
	}

	result := s.engine.Reconcile(r.Context(), req.SessionID, req.Text, req.AllowConditional)

	s.hub.Broadcast(events.Event{
		Type:      events.TypeReconcile,
		SessionID: req.SessionID,
		Data: events.ReconcilePayload{
			Placeholders: len(result.Events),
			Decoded:      result.Decoded,
			Warnings:     len(result.Warnings),
		},
	})

	writeJSON(w, http.StatusOK, result)
}

// handleDeleteSessionTokens explicitly drops every token mapping for a session.
func (s *Server) handleDeleteSessionTokens(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	removed, err := s.store.DeleteSession(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("session token deletion failed", zap.String("session_id", sessionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "token deletion failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"removed":    removed,
	})
}

// handleRulesValidate compiles a candidate ruleset without publishing it.
func (s *Server) handleRulesValidate(w http.ResponseWriter, r *http.Request) {
	total, lists, err := s.provider.Validate()
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"rules":      total,
		"list_rules": lists,
	})
}

// handleRulesReload compiles and, on success, atomically publishes a new
// snapshot. On failure the previous snapshot keeps serving.
func (s *Server) handleRulesReload(w http.ResponseWriter, r *http.Request) {
	if err := s.provider.Reload(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	snapshot := s.provider.Current()
	total, lists := snapshot.RuleCount()

	s.hub.Broadcast(events.Event{
		Type: events.TypeRuleset,
		Data: events.RulesetPayload{Version: snapshot.Version, Rules: total, ListRules: lists},
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         true,
		"version":    snapshot.Version,
		"rules":      total,
		"list_rules": lists,
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	snapshot := s.provider.Current()
	total, lists := snapshot.RuleCount()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":            "veilgate",
		"ruleset_version": snapshot.Version,
		"rules":           total,
		"list_rules":      lists,
		"token_backend":   s.config.Tokens.Backend,
		"event_clients":   s.hub.ClientCount(),
	})
}

func sanitizePayload(result sanitize.Result) events.SanitizePayload {
	seen := make(map[string]struct{})
	var categories []string
	for _, ev := range result.Events {
		if _, ok := seen[ev.Category]; ok {
			continue
		}
		seen[ev.Category] = struct{}{}
		categories = append(categories, ev.Category)
	}
	return events.SanitizePayload{
		Encoded:    result.Encoded,
		Matches:    len(result.Events),
		Categories: categories,
		Warnings:   len(result.Warnings),
	}
}
