package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"render-orchestrator/internal/http/handlers"
	"render-orchestrator/internal/infra"
	"render-orchestrator/internal/middleware"
)

// NewRouter builds the chi router with the standard middleware chain.
func NewRouter(app *handlers.App, cfg *infra.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(cfg.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		r.Post("/v1/generate", app.Generate)
		r.Post("/v1/tools/call", app.CallTool)
	})

	r.Get("/v1/tools", app.ListTools)
	r.Route("/v1/sessions/{id}", func(r chi.Router) {
		r.Get("/status", app.SessionStatus)
		r.Get("/archive", app.SessionArchive)
	})
	r.Get("/renders/{file}", app.ServeRender)

	return r
}
