package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsFromEnv(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	inc := cfg.Incidents
	if inc.WindowMinutes != 15 || inc.ResetMinutes != 30 {
		t.Fatalf("unexpected window/reset: %d/%d", inc.WindowMinutes, inc.ResetMinutes)
	}
	if inc.LevelL1 != 3 || inc.LevelL2 != 5 || inc.LevelL3 != 8 {
		t.Fatalf("unexpected thresholds: %d/%d/%d", inc.LevelL1, inc.LevelL2, inc.LevelL3)
	}
	if inc.StoreTimeout != 5*time.Second {
		t.Fatalf("unexpected store timeout: %s", inc.StoreTimeout)
	}
	if cfg.DBDriver != "sqlite" || cfg.IsPostgres() {
		t.Fatalf("expected sqlite default, got %q", cfg.DBDriver)
	}
}

func TestLoadEnvOverridesAndFloors(t *testing.T) {
	t.Setenv("INCIDENT_WINDOW_MIN", "20")
	t.Setenv("INCIDENT_RESET_MIN", "5")
	t.Setenv("INCIDENT_L1", "4")
	t.Setenv("INCIDENT_L2", "2")
	t.Setenv("INCIDENT_L3", "3")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	inc := cfg.Incidents
	if inc.ResetMinutes != 20 {
		t.Fatalf("expected reset floored to window, got %d", inc.ResetMinutes)
	}
	if inc.LevelL2 != 4 || inc.LevelL3 != 4 {
		t.Fatalf("expected thresholds raised to L1, got %d/%d", inc.LevelL2, inc.LevelL3)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "incidents.yml")
	body := "db_driver: postgres\ndb_url: postgres://u:p@localhost/db\nincidents:\n  window_minutes: 10\n  reset_minutes: 40\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsPostgres() {
		t.Fatalf("expected postgres driver")
	}
	if cfg.Incidents.WindowMinutes != 10 || cfg.Incidents.ResetMinutes != 40 {
		t.Fatalf("unexpected incidents config: %+v", cfg.Incidents)
	}
	if cfg.Incidents.LevelL3 != 8 {
		t.Fatalf("expected default L3 from env-default, got %d", cfg.Incidents.LevelL3)
	}
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("INCIDENT_L3", "12")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Incidents.LevelL3 != 12 {
		t.Fatalf("expected env L3, got %d", cfg.Incidents.LevelL3)
	}
}
