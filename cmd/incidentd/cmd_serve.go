package main

import (
	"os/signal"
	"syscall"

	"incident-engine/core/appbootstrap"
	"incident-engine/core/utils"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP surface and the stale incident sweeper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := utils.NewLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := appbootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger.Printf("incidentd %s app=%s db=%s window=%dm reset=%dm", version, cfg.AppName, cfg.DBDriver, cfg.Incidents.WindowMinutes, cfg.Incidents.ResetMinutes)
	return rt.Serve(ctx, logger)
}
