package config

import "time"

type AppConfig struct {
	AppName            string          `yaml:"app_name" env:"INCIDENT_APP_NAME" env-default:"video-editor-api"`
	DBDriver           string          `yaml:"db_driver" env:"INCIDENT_DB_DRIVER" env-default:"sqlite"`
	DBURL              string          `yaml:"db_url" env:"INCIDENT_DB_URL"`
	DBPath             string          `yaml:"db_path" env:"VIDEO_DB_PATH" env-default:"storage/video_editor.db"`
	ListenAddr         string          `yaml:"listen_addr" env:"INCIDENT_LISTEN_ADDR" env-default:"0.0.0.0:8081"`
	LogsDir            string          `yaml:"logs_dir" env:"INCIDENT_LOGS_DIR" env-default:"storage/logs"`
	InternalAPIKey     string          `yaml:"internal_api_key" env:"INTERNAL_API_KEY"`
	InternalAPIKeyHash string          `yaml:"internal_api_key_hash" env:"INTERNAL_API_KEY_HASH"`
	TrustedProxies     []string        `yaml:"trusted_proxies" env:"INCIDENT_TRUSTED_PROXIES" env-separator:","`
	Incidents          IncidentsConfig `yaml:"incidents"`
	RateLimit          RateLimitConfig `yaml:"rate_limit"`
}

type IncidentsConfig struct {
	WindowMinutes int           `yaml:"window_minutes" env:"INCIDENT_WINDOW_MIN" env-default:"15"`
	ResetMinutes  int           `yaml:"reset_minutes" env:"INCIDENT_RESET_MIN" env-default:"30"`
	LevelL1       int           `yaml:"level_l1" env:"INCIDENT_L1" env-default:"3"`
	LevelL2       int           `yaml:"level_l2" env:"INCIDENT_L2" env-default:"5"`
	LevelL3       int           `yaml:"level_l3" env:"INCIDENT_L3" env-default:"8"`
	ReportsDir    string        `yaml:"reports_dir" env:"INCIDENT_REPORTS_DIR" env-default:"storage/logs/incidents"`
	StoreTimeout  time.Duration `yaml:"store_timeout" env:"INCIDENT_STORE_TIMEOUT" env-default:"5s"`
	SweepEnabled  bool          `yaml:"sweep_enabled" env:"INCIDENT_SWEEP_ENABLED" env-default:"true"`
	SweepSchedule string        `yaml:"sweep_schedule" env:"INCIDENT_SWEEP_SCHEDULE" env-default:"@every 1m"`
}

type RateLimitConfig struct {
	RequestsPerSec float64 `yaml:"requests_per_sec" env:"INCIDENT_RATE_LIMIT_RPS" env-default:"25"`
	Burst          int     `yaml:"burst" env:"INCIDENT_RATE_LIMIT_BURST" env-default:"50"`
}

const maxStoreTimeout = 30 * time.Second

// IsPostgres reports whether the state store should use the pgx driver.
func (c *AppConfig) IsPostgres() bool {
	if c == nil {
		return false
	}
	switch c.DBDriver {
	case "postgres", "pgx", "postgresql":
		return true
	}
	return false
}

func (c *AppConfig) HasInternalKey() bool {
	if c == nil {
		return false
	}
	return c.InternalAPIKey != "" || c.InternalAPIKeyHash != ""
}

// Normalize clamps the incident thresholds so that window >= 1, reset >= window
// and L1 <= L2 <= L3 always hold.
func (c *IncidentsConfig) Normalize() {
	if c.WindowMinutes < 1 {
		c.WindowMinutes = 1
	}
	if c.ResetMinutes < c.WindowMinutes {
		c.ResetMinutes = c.WindowMinutes
	}
	if c.LevelL1 < 1 {
		c.LevelL1 = 1
	}
	if c.LevelL2 < c.LevelL1 {
		c.LevelL2 = c.LevelL1
	}
	if c.LevelL3 < c.LevelL2 {
		c.LevelL3 = c.LevelL2
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.StoreTimeout > maxStoreTimeout {
		c.StoreTimeout = maxStoreTimeout
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 1m"
	}
}

func (c *IncidentsConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

func (c *IncidentsConfig) Reset() time.Duration {
	return time.Duration(c.ResetMinutes) * time.Minute
}
