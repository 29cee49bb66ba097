package main

import (
	"fmt"
	"os"

	"incident-engine/config"
	"incident-engine/core/utils"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "incidentd",
	Short: "Incident aggregation and escalation engine",
	Long:  "incidentd groups recurring failures by fingerprint, escalates them by\nfrequency and writes markdown incident reports for operators.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", os.Getenv("INCIDENT_CONFIG"), "Path to YAML config (env overrides apply)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.Version = version
	rootCmd.SetUsageTemplate(rootCmd.UsageTemplate() + "\nEnvironment:\n" + config.Usage() + "\n")
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		utils.NewLogger().Errorf("%v", err)
		os.Exit(1)
	}
}
