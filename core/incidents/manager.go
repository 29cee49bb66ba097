package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"incident-engine/core/redact"
	"incident-engine/core/store"
	"incident-engine/core/utils"
)

const (
	typeCap      = 120
	messageCap   = 3000
	stackCap     = 60000
	idCap        = 160
	stageCap     = 120
	eventCap     = 160
	snapshotCap  = 1200
	defaultTail  = 200
	maxTail      = 1000
	defaultDrill = 50
	maxDrill     = 500

	unknownErrorType = "UnknownError"
)

var ErrUnknownFingerprint = errors.New("unknown incident fingerprint")

// Occurrence is one raw failure report from a producer.
type Occurrence struct {
	ErrorType string
	Message   string
	Stack     string
	Context   map[string]any
	Stage     string
	Event     string
	TraceID   string
	RequestID string
	RunID     string
}

// Summary describes the incident state right after a registration.
type Summary struct {
	Fingerprint   string    `json:"incident_fingerprint"`
	Level         int       `json:"incident_level"`
	CountInWindow int       `json:"incident_count"`
	ResetApplied  bool      `json:"incident_reset_applied"`
	ReportPath    string    `json:"report_path,omitempty"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	LastTraceID   string    `json:"last_trace_id"`
}

// LastEvent is the small snapshot kept on the state row.
type LastEvent struct {
	Stage     string `json:"stage"`
	Event     string `json:"event"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Level     int    `json:"level"`
	Count     int    `json:"count"`
	TS        string `json:"ts"`
}

type TailFilter struct {
	Limit       int
	Fingerprint string
	MinLevel    int
}

type TailItem struct {
	Fingerprint   string    `json:"fingerprint"`
	Level         int       `json:"level"`
	CountInWindow int       `json:"count_in_window"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	LastEvent     LastEvent `json:"last_event"`
	LastTraceID   string    `json:"last_trace_id"`
	LastRequestID string    `json:"last_request_id,omitempty"`
	LastRunID     string    `json:"last_run_id,omitempty"`
	ReportPath    string    `json:"report_path,omitempty"`
	ResetApplied  bool      `json:"reset_applied"`
}

type ManagerDeps struct {
	Store        store.IncidentsStore
	Reports      *ReportWriter
	Thresholds   Thresholds
	Clock        func() time.Time
	Logger       *utils.Logger
	Metrics      *Metrics
	StoreTimeout time.Duration
}

// Manager aggregates occurrences into per-fingerprint incidents.
type Manager struct {
	store        store.IncidentsStore
	reports      *ReportWriter
	thresholds   Thresholds
	now          func() time.Time
	logger       *utils.Logger
	metrics      *Metrics
	storeTimeout time.Duration
	locks        *keyedLocks
}

func NewManager(deps ManagerDeps) *Manager {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	thresholds := deps.Thresholds
	if thresholds.Window <= 0 {
		thresholds = DefaultThresholds()
	}
	return &Manager{
		store:        deps.Store,
		reports:      deps.Reports,
		thresholds:   thresholds,
		now:          clock,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		storeTimeout: deps.StoreTimeout,
		locks:        newKeyedLocks(),
	}
}

func (m *Manager) Thresholds() Thresholds {
	return m.thresholds
}

// Register records one occurrence and returns the resulting incident summary.
// Report write failures are absorbed; store failures are returned. Caller
// cancellation is ignored so a registration runs to completion; only the store
// timeout bounds it.
func (m *Manager) Register(ctx context.Context, occ Occurrence) (Summary, error) {
	now := utils.NormalizeTime(m.now())
	occ = sanitizeOccurrence(occ)
	fp := Fingerprint(occ.ErrorType, occ.Message, occ.Stack, occ.Context)
	contextJSON, err := json.Marshal(occ.Context)
	if err != nil {
		contextJSON = []byte("{}")
	}

	unlock := m.locks.lock(fp)
	defer unlock()
	ctx, cancel := m.storeContext(context.WithoutCancel(ctx))
	defer cancel()

	var summary Summary
	err = m.store.RunInTx(ctx, func(tx store.IncidentsTx) error {
		prev, err := tx.GetState(ctx, fp)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		resetApplied := prev != nil && m.thresholds.ResetDue(prev.LastSeenAt, now)
		prior, err := tx.CountSince(ctx, fp, m.thresholds.WindowStart(now))
		if err != nil {
			return fmt.Errorf("count window: %w", err)
		}
		count := prior + 1
		level := m.thresholds.Classify(count)

		prevLevel := LevelQuiet
		reportPath := ""
		if prev != nil {
			prevLevel = prev.Level
			reportPath = prev.ReportPath
		}
		eventReport := ""
		if shouldReport(level, prevLevel, reportPath != "") {
			if path, ok := m.writeReport(fp, level, count, occ, now); ok {
				reportPath = path
				eventReport = path
			}
		}

		if _, err := tx.AppendEvent(ctx, &store.IncidentEvent{
			Fingerprint:   fp,
			Level:         level,
			CountInWindow: count,
			ErrorType:     occ.ErrorType,
			Message:       occ.Message,
			Stack:         occ.Stack,
			ContextJSON:   string(contextJSON),
			Stage:         occ.Stage,
			EventName:     occ.Event,
			TraceID:       occ.TraceID,
			RequestID:     occ.RequestID,
			RunID:         occ.RunID,
			EventAt:       now,
			ReportPath:    eventReport,
		}); err != nil {
			return fmt.Errorf("append event: %w", err)
		}

		snapshot, err := json.Marshal(LastEvent{
			Stage:     occ.Stage,
			Event:     occ.Event,
			ErrorType: occ.ErrorType,
			Message:   redact.Clip(occ.Message, snapshotCap),
			Level:     level,
			Count:     count,
			TS:        utils.FormatTimestamp(now),
		})
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		firstSeen := now
		if prev != nil && prev.FirstSeenAt.Unix() > 0 {
			firstSeen = prev.FirstSeenAt
		}
		if err := tx.UpsertState(ctx, &store.IncidentState{
			Fingerprint:   fp,
			Level:         level,
			CountInWindow: count,
			FirstSeenAt:   firstSeen,
			LastSeenAt:    now,
			ResetApplied:  resetApplied,
			LastEventJSON: string(snapshot),
			LastTraceID:   occ.TraceID,
			LastRequestID: occ.RequestID,
			LastRunID:     occ.RunID,
			ReportPath:    reportPath,
			UpdatedAt:     now,
		}); err != nil {
			return fmt.Errorf("upsert state: %w", err)
		}

		summary = Summary{
			Fingerprint:   fp,
			Level:         level,
			CountInWindow: count,
			ResetApplied:  resetApplied,
			ReportPath:    reportPath,
			LastSeenAt:    now,
			LastTraceID:   occ.TraceID,
		}
		return nil
	})
	if err != nil {
		m.metrics.observeRegisterFailure()
		if m.logger != nil {
			m.logger.Errorf("incidents.register failed fingerprint=%s: %v", fp, err)
		}
		return Summary{}, fmt.Errorf("register incident %s: %w", fp, err)
	}
	m.metrics.observeRegistration(summary.Level)
	return summary, nil
}

func (m *Manager) writeReport(fp string, level, count int, occ Occurrence, now time.Time) (string, bool) {
	path, err := m.reports.Write(ReportInput{
		Fingerprint: fp,
		Level:       level,
		Count:       count,
		ErrorType:   occ.ErrorType,
		Message:     occ.Message,
		Stack:       occ.Stack,
		Context:     occ.Context,
		TraceID:     occ.TraceID,
		RequestID:   occ.RequestID,
		RunID:       occ.RunID,
		At:          now,
	})
	m.metrics.observeReport(err)
	if err != nil {
		if m.logger != nil {
			m.logger.Errorf("incidents.report failed fingerprint=%s level=%d: %v", fp, level, err)
		}
		return "", false
	}
	return path, true
}

// Tail lists incident states, most recently seen first. Quiet fingerprints are
// reset before listing.
func (m *Manager) Tail(ctx context.Context, filter TailFilter) ([]TailItem, error) {
	if _, err := m.SweepStale(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := m.storeContext(ctx)
	defer cancel()
	states, err := m.store.ListStates(ctx, store.StateFilter{
		Fingerprint: strings.TrimSpace(filter.Fingerprint),
		MinLevel:    filter.MinLevel,
		Limit:       clampLimit(filter.Limit, defaultTail, maxTail),
	})
	if err != nil {
		return nil, fmt.Errorf("list incident states: %w", err)
	}
	items := make([]TailItem, 0, len(states))
	for i := range states {
		st := states[i]
		var last LastEvent
		if st.LastEventJSON != "" {
			if err := json.Unmarshal([]byte(st.LastEventJSON), &last); err != nil {
				if m.logger != nil {
					m.logger.Errorf("incidents.tail skipping fingerprint=%s: malformed snapshot: %v", st.Fingerprint, err)
				}
				continue
			}
		}
		items = append(items, TailItem{
			Fingerprint:   st.Fingerprint,
			Level:         st.Level,
			CountInWindow: st.CountInWindow,
			FirstSeenAt:   st.FirstSeenAt,
			LastSeenAt:    st.LastSeenAt,
			LastEvent:     last,
			LastTraceID:   st.LastTraceID,
			LastRequestID: st.LastRequestID,
			LastRunID:     st.LastRunID,
			ReportPath:    st.ReportPath,
			ResetApplied:  st.ResetApplied,
		})
	}
	return items, nil
}

// Events returns the latest event rows of one fingerprint.
func (m *Manager) Events(ctx context.Context, fingerprint string, limit int) ([]store.IncidentEvent, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	ctx, cancel := m.storeContext(ctx)
	defer cancel()
	st, err := m.store.GetState(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if st == nil {
		return nil, ErrUnknownFingerprint
	}
	events, err := m.store.ListEvents(ctx, fingerprint, clampLimit(limit, defaultDrill, maxDrill))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// SweepStale forces fingerprints that stayed silent for the reset period back
// to level 0 and returns how many were reset.
func (m *Manager) SweepStale(ctx context.Context) (int, error) {
	now := utils.NormalizeTime(m.now())
	cutoff := now.Add(-m.thresholds.Reset)
	ctx, cancel := m.storeContext(ctx)
	defer cancel()
	fingerprints, err := m.store.ListStaleFingerprints(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale incidents: %w", err)
	}
	reset := 0
	for _, fp := range fingerprints {
		unlock := m.locks.lock(fp)
		changed, err := m.store.ResetStale(ctx, fp, cutoff, now)
		unlock()
		if err != nil {
			m.metrics.observeStaleResets(reset)
			return reset, fmt.Errorf("reset stale incident %s: %w", fp, err)
		}
		if changed {
			reset++
		}
	}
	m.metrics.observeStaleResets(reset)
	if reset > 0 && m.logger != nil {
		m.logger.Printf("incidents.sweep reset=%d cutoff=%s", reset, utils.FormatTimestamp(cutoff))
	}
	return reset, nil
}

func (m *Manager) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.storeTimeout)
}

func sanitizeOccurrence(occ Occurrence) Occurrence {
	out := Occurrence{
		Context:   redact.Map(occ.Context, "context"),
		ErrorType: redact.Clip(strings.TrimSpace(redact.String(occ.ErrorType, "error_type")), typeCap),
		Message:   redact.Clip(redact.String(occ.Message, "message"), messageCap),
		Stack:     redact.Clip(redact.Scrub(occ.Stack), stackCap),
		Stage:     redact.Clip(strings.TrimSpace(occ.Stage), stageCap),
		Event:     redact.Clip(strings.TrimSpace(occ.Event), eventCap),
		TraceID:   redact.Clip(orDash(strings.TrimSpace(occ.TraceID)), idCap),
		RequestID: redact.Clip(strings.TrimSpace(occ.RequestID), idCap),
		RunID:     redact.Clip(strings.TrimSpace(occ.RunID), idCap),
	}
	if out.ErrorType == "" {
		out.ErrorType = unknownErrorType
	}
	return out
}

func clampLimit(limit, def, upper int) int {
	if limit <= 0 {
		return def
	}
	if limit > upper {
		return upper
	}
	return limit
}
