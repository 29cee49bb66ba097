package store

import "time"

// IncidentEvent is one append-only row per registration.
type IncidentEvent struct {
	ID            int64     `json:"id"`
	Fingerprint   string    `json:"fingerprint"`
	Level         int       `json:"level"`
	CountInWindow int       `json:"count_in_window"`
	ErrorType     string    `json:"error_type"`
	Message       string    `json:"message"`
	Stack         string    `json:"stack,omitempty"`
	ContextJSON   string    `json:"context_json"`
	Stage         string    `json:"stage"`
	EventName     string    `json:"event_name"`
	TraceID       string    `json:"trace_id"`
	RequestID     string    `json:"request_id,omitempty"`
	RunID         string    `json:"run_id,omitempty"`
	EventAt       time.Time `json:"event_ts"`
	ReportPath    string    `json:"report_path,omitempty"`
}

// IncidentState is the latest view of one fingerprint.
type IncidentState struct {
	Fingerprint   string    `json:"fingerprint"`
	Level         int       `json:"level"`
	CountInWindow int       `json:"count_in_window"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	ResetApplied  bool      `json:"reset_applied"`
	LastEventJSON string    `json:"-"`
	LastTraceID   string    `json:"last_trace_id"`
	LastRequestID string    `json:"last_request_id,omitempty"`
	LastRunID     string    `json:"last_run_id,omitempty"`
	ReportPath    string    `json:"report_path,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type StateFilter struct {
	Fingerprint string
	MinLevel    int
	Limit       int
}
