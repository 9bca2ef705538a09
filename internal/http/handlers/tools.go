package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"render-orchestrator/internal/domain"
)

type toolCallRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// ListTools exposes the bridge's negotiated tool catalog.
func (a *App) ListTools(w http.ResponseWriter, r *http.Request) {
	session := a.Bridge.CurrentSession(r.Context())
	a.json(w, http.StatusOK, map[string]any{
		"protocol_version": session.ProtocolVersion,
		"capabilities":     session.Capabilities,
		"simulated":        session.Simulated,
		"tools":            a.Bridge.ListTools(r.Context()),
	})
}

// CallTool is the tool-call surface for heterogeneous callers. Unknown tools
// and malformed arguments are the only explicit errors; generation failures
// come back as degraded or simulated successes.
func (a *App) CallTool(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	result, err := a.Bridge.CallTool(r.Context(), req.Tool, req.Arguments)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownTool):
			a.error(w, http.StatusBadRequest, "unknown_tool", err.Error())
		case errors.Is(err, domain.ErrInvalidSpec):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", err.Error())
		default:
			a.Logger.Error().Err(err).Str("tool", req.Tool).Msg("tool call failed")
			a.error(w, http.StatusInternalServerError, "internal", "tool call failed")
		}
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}
