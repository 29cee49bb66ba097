package appbootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"incident-engine/api"
	"incident-engine/config"
	"incident-engine/core/eventlog"
	"incident-engine/core/incidents"
	"incident-engine/core/rbac"
	"incident-engine/core/store"
	"incident-engine/core/sweeper"
	"incident-engine/core/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Runtime is the fully wired engine: state store, manager, event log and the
// HTTP surface on top of them.
type Runtime struct {
	Config   *config.AppConfig
	DB       *sql.DB
	Manager  *incidents.Manager
	Recorder *eventlog.Recorder
	Sweeper  *sweeper.Scheduler
	Registry *prometheus.Registry
	Server   *api.Server

	workers []api.BackgroundWorker
}

// Open connects to the state store, applies migrations and composes the runtime.
func Open(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*Runtime, error) {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, store.DialectFor(cfg), logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	rt, err := composeRuntime(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return rt, nil
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*Runtime, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	thresholds := incidents.ThresholdsFromConfig(cfg.Incidents)
	reportsDir := cfg.Incidents.ReportsDir
	if reportsDir == "" {
		reportsDir = filepath.Join(cfg.LogsDir, "incidents")
	}
	manager := incidents.NewManager(incidents.ManagerDeps{
		Store:        store.NewIncidentsStore(db, store.DialectFor(cfg)),
		Reports:      incidents.NewReportWriter(reportsDir, thresholds.WindowMinutes(), logger),
		Thresholds:   thresholds,
		Logger:       logger,
		Metrics:      incidents.NewMetrics(registry),
		StoreTimeout: cfg.Incidents.StoreTimeout,
	})
	writer := eventlog.NewWriter(cfg.LogsDir, cfg.AppName, logger)
	recorder := eventlog.NewRecorder(writer, manager, logger)

	policy, err := rbac.NewPolicy(!cfg.HasInternalKey())
	if err != nil {
		return nil, fmt.Errorf("compose policy: %w", err)
	}
	sweep := sweeper.NewScheduler(cfg.Incidents, manager, logger)
	if err := sweep.Validate(); err != nil {
		return nil, err
	}

	deps := api.ServerDeps{
		Incidents: manager,
		Recorder:  recorder,
		Policy:    policy,
		Gatherer:  registry,
	}
	return &Runtime{
		Config:   cfg,
		DB:       db,
		Manager:  manager,
		Recorder: recorder,
		Sweeper:  sweep,
		Registry: registry,
		Server:   api.NewServer(cfg, deps, logger),
		workers:  []api.BackgroundWorker{sweep},
	}, nil
}

func (rt *Runtime) Close() error {
	if rt == nil || rt.DB == nil {
		return nil
	}
	return rt.DB.Close()
}
