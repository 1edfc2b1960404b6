// Package handlers is the HTTP adapter of the sync server.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prudhvinik1/offlinesync/internal/metrics"
	"github.com/prudhvinik1/offlinesync/internal/services"
)

type Handler struct {
	auth       *services.AuthService
	agents     *services.AgentService
	reconciler *services.Reconciler
	status     *services.StatusService
	content    *services.ContentService
}

func NewHandler(
	auth *services.AuthService,
	agents *services.AgentService,
	reconciler *services.Reconciler,
	status *services.StatusService,
	content *services.ContentService,
) *Handler {
	return &Handler{
		auth:       auth,
		agents:     agents,
		reconciler: reconciler,
		status:     status,
		content:    content,
	}
}

// Router builds the chi router. withMetrics adds request metrics and the
// /metrics endpoint.
func (h *Handler) Router(withMetrics bool) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	if withMetrics {
		router.Use(metrics.Middleware)
		router.Handle("/metrics", promhttp.Handler())
	}

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	router.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.login)
		// Registration is open so the first agent can be created.
		r.Post("/agents", h.createAgent)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Post("/auth/logout", h.logout)

			r.Get("/agents", h.listAgents)
			r.Get("/agents/{id}", h.getAgent)
			r.Put("/agents/{id}", h.updateAgent)
			r.Delete("/agents/{id}", h.deactivateAgent)
			r.Get("/agents/{id}/attachments", h.listAttachments)

			r.Post("/sync", h.sync)
			r.Get("/sync/agents/{id}/status", h.syncStatus)

			r.Post("/catalog", h.publishCatalog)
			r.Put("/global/{category}/{key}", h.putGlobal)
			r.Get("/global/{category}/{key}", h.getGlobal)
		})
	})
	return router
}
