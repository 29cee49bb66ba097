package routegroups

import (
	"net/http"

	"incident-engine/api/handlers"

	"github.com/go-chi/chi/v5"
)

func RegisterInternal(router chi.Router, g Guards, incidents *handlers.IncidentsHandler, logs *handlers.LogsHandler, metrics http.Handler) {
	router.Route("/internal", func(internalRouter chi.Router) {
		internalRouter.MethodFunc("GET", "/incidents/tail", g.KeyPerm("incidents.read", incidents.Tail))
		internalRouter.MethodFunc("GET", "/incidents/{fingerprint:[0-9a-f]+}/events", g.KeyPerm("incidents.read", incidents.Events))
		internalRouter.MethodFunc("GET", "/logs/tail", g.KeyPerm("logs.read", logs.Tail))
	})
	router.MethodFunc("GET", "/metrics", g.KeyPerm("metrics.read", metrics.ServeHTTP))
}

func RegisterProducers(router chi.Router, g Guards, clientEvents *handlers.ClientEventsHandler) {
	router.Route("/v1/debug", func(debugRouter chi.Router) {
		debugRouter.MethodFunc("POST", "/client-events", g.Limited(clientEvents.Post))
	})
}
