package main

import (
	"fmt"

	"incident-engine/core/appbootstrap"
	"incident-engine/core/utils"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reset incidents that have been quiet for the reset interval",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := appbootstrap.Open(cmd.Context(), cfg, utils.NewDiscardLogger())
	if err != nil {
		return err
	}
	defer rt.Close()
	n, err := rt.Manager.SweepStale(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reset %d incident(s)\n", n)
	return nil
}
