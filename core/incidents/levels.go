package incidents

import (
	"time"

	"incident-engine/config"
)

const (
	LevelQuiet    = 0
	LevelRepeat   = 1
	LevelHigh     = 2
	LevelCritical = 3
)

// Thresholds maps occurrence counts inside the window to a severity level.
type Thresholds struct {
	Window time.Duration
	Reset  time.Duration
	L1     int
	L2     int
	L3     int
}

func DefaultThresholds() Thresholds {
	return ThresholdsFromConfig(config.IncidentsConfig{WindowMinutes: 15, ResetMinutes: 30, LevelL1: 3, LevelL2: 5, LevelL3: 8})
}

func ThresholdsFromConfig(cfg config.IncidentsConfig) Thresholds {
	cfg.Normalize()
	return Thresholds{
		Window: cfg.Window(),
		Reset:  cfg.Reset(),
		L1:     cfg.LevelL1,
		L2:     cfg.LevelL2,
		L3:     cfg.LevelL3,
	}
}

func (t Thresholds) Classify(count int) int {
	switch {
	case count >= t.L3:
		return LevelCritical
	case count >= t.L2:
		return LevelHigh
	case count >= t.L1:
		return LevelRepeat
	default:
		return LevelQuiet
	}
}

// ResetDue reports whether the fingerprint stayed silent for the full reset
// period.
func (t Thresholds) ResetDue(lastSeen, now time.Time) bool {
	return now.Sub(lastSeen) >= t.Reset
}

// WindowStart is the inclusive lower bound of the counting window.
func (t Thresholds) WindowStart(now time.Time) time.Time {
	return now.Add(-t.Window)
}

func (t Thresholds) WindowMinutes() int {
	return int(t.Window / time.Minute)
}

// shouldReport decides whether an escalation deserves a new report.
func shouldReport(level, prevLevel int, hasReport bool) bool {
	if level < LevelHigh {
		return false
	}
	return prevLevel < LevelHigh || (prevLevel < LevelCritical && level >= LevelCritical) || !hasReport
}
