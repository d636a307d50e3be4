// Package httpapi wires the hub's HTTP surface: REST endpoints for jobs and
// workers, the per-job event WebSocket and the operational endpoints.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"renderhub/internal/httpapi/handlers"
	"renderhub/internal/httpkit"
	"renderhub/internal/pkg/logger"
	"renderhub/internal/pkg/middleware"
)

type Deps struct {
	Handlers handlers.Deps

	Log                *logger.Logger
	CORSAllowedOrigins []string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.Recovery(d.Log))

	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   d.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(d.Handlers)

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.PostJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{jobID}", h.GetJob)
		r.Delete("/jobs/{jobID}", h.CancelJob)
		r.Get("/jobs/{jobID}/artifact", h.GetJobArtifact)
		r.Get("/jobs/{jobID}/events", h.StreamJobEvents)

		r.Post("/workers", h.PostWorker)
		r.Get("/workers", h.ListWorkers)
		r.Get("/workers/{workerID}", h.GetWorker)
		r.Delete("/workers/{workerID}", h.DeleteWorker)
		r.Post("/workers/{workerID}/heartbeat", h.Heartbeat)

		r.Get("/stats", h.GetStats)
	})

	return r
}
