package api

import (
	"net/http"

	"incident-engine/api/routegroups"
	"incident-engine/core/rbac"
	"incident-engine/core/store"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(s.traceMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	h := s.newRouteHandlers()
	r.MethodFunc("GET", "/healthz", h.health.Get)
	r.MethodFunc("GET", "/health", h.health.Get)

	guards := s.guards()
	metrics := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	routegroups.RegisterInternal(r, guards, h.incidents, h.logs, metrics)
	routegroups.RegisterProducers(r, guards, h.clientEvents)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "not found"})
	})
	return r
}

func (s *Server) guards() routegroups.Guards {
	return routegroups.Guards{
		WithAPIKey:        s.withAPIKey,
		RequirePermission: func(p string) func(http.HandlerFunc) http.HandlerFunc { return s.requirePermission(rbac.Permission(p)) },
		RateLimit:         s.limiter.Limit,
	}
}

func (s *Server) dialect() store.Dialect {
	return store.DialectFor(s.cfg)
}
