package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"incident-engine/config"
	"incident-engine/core/eventlog"
	"incident-engine/core/incidents"
	"incident-engine/core/rbac"
	"incident-engine/core/utils"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// ServerDeps carries everything the HTTP surface reads from.
type ServerDeps struct {
	Incidents *incidents.Manager
	Recorder  *eventlog.Recorder
	Policy    *rbac.Policy
	Gatherer  prometheus.Gatherer
}

// BackgroundWorker is started next to the HTTP server and stopped on shutdown.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context)
	StopWithContext(ctx context.Context) error
}

type Server struct {
	cfg        *config.AppConfig
	logger     *utils.Logger
	incidents  *incidents.Manager
	recorder   *eventlog.Recorder
	policy     *rbac.Policy
	gatherer   prometheus.Gatherer
	limiter    *clientRateLimiter
	router     chi.Router
	httpServer *http.Server
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		incidents: deps.Incidents,
		recorder:  deps.Recorder,
		policy:    deps.Policy,
		gatherer:  deps.Gatherer,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	s.limiter = newClientRateLimiter(cfg.RateLimit.RequestsPerSec, cfg.RateLimit.Burst, s.clientIP)
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	if s.logger != nil {
		s.logger.Printf("http listening on %s", s.cfg.ListenAddr)
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown may run before ListenAndServe; the latter then returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
