package handlers

import (
	"encoding/json"
	"net/http"

	"render-orchestrator/internal/artifact"
	"render-orchestrator/internal/bridge"
	"render-orchestrator/internal/infra"
	"render-orchestrator/internal/orchestrator"
)

// App is the handler container holding the service's collaborators.
type App struct {
	Logger infra.Logger
	Orch   *orchestrator.Orchestrator
	Bridge *bridge.Bridge
	Store  *artifact.Store
}

// NewApp wires the HTTP surface.
func NewApp(logger infra.Logger, orch *orchestrator.Orchestrator, br *bridge.Bridge, store *artifact.Store) *App {
	return &App{Logger: logger, Orch: orch, Bridge: br, Store: store}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}
