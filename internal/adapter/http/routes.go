package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/philippe-eecs/orchestra/internal/adapter/otel"
)

// NewRouter builds the chi router exposing the engine entry points.
func NewRouter(log *slog.Logger, h *Handlers, corsOrigin string) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery(log))
	r.Use(Logger(log))
	r.Use(SecurityHeaders)
	if corsOrigin != "" {
		r.Use(CORS(corsOrigin))
	}
	r.Use(otel.HTTPMiddleware("orchestrad"))

	r.Get("/healthz", h.Health)
	if h.WS != nil {
		r.Get("/ws", h.WS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": "0.1.0"})
		})

		// Projects and runs
		r.Get("/projects", h.ListProjects)
		r.Post("/projects", h.RegisterProject)
		r.Get("/projects/{id}", h.GetProject)
		r.Delete("/projects/{id}", h.DeleteProject)
		r.Post("/projects/{id}/run", h.RunProject)
		r.Post("/projects/{id}/nodes/{nodeID}/run", h.RunNode)

		// Sessions
		r.Get("/sessions/{sessionID}", h.GetSession)
		r.Get("/sessions/{sessionID}/output", h.SessionOutput)
		r.Get("/sessions/{sessionID}/attach", h.SessionAttach)
		r.Post("/sessions/{sessionID}/stop", h.SessionStop)
		r.Post("/sessions/{sessionID}/checks/{checkID}/approve", h.ApproveCheck)

		// Execution history
		r.Get("/nodes/{nodeID}/sessions", h.ListNodeSessions)
		r.Get("/nodes/{nodeID}/runs", h.ListNodeRuns)

		// Direct backend dispatch
		r.Post("/execute", h.Execute)

		// Sandboxes
		r.Post("/sandboxes", h.CreateSandbox)
		r.Post("/sandboxes/finalize", h.FinalizeSandbox)
		r.Post("/sandboxes/cleanup", h.CleanupSandbox)
	})

	return r
}
