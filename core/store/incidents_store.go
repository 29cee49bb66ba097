package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"incident-engine/core/utils"
)

// IncidentsStore persists the append-only event log and the per-fingerprint
// state table.
type IncidentsStore interface {
	// RunInTx executes fn inside one transaction; fn must only use the given tx.
	RunInTx(ctx context.Context, fn func(tx IncidentsTx) error) error

	GetState(ctx context.Context, fingerprint string) (*IncidentState, error)
	ListStates(ctx context.Context, filter StateFilter) ([]IncidentState, error)
	ListEvents(ctx context.Context, fingerprint string, limit int) ([]IncidentEvent, error)
	ListStaleFingerprints(ctx context.Context, cutoff time.Time) ([]string, error)
	ResetStale(ctx context.Context, fingerprint string, cutoff, now time.Time) (bool, error)
}

// IncidentsTx is the transactional subset used by a single registration.
type IncidentsTx interface {
	GetState(ctx context.Context, fingerprint string) (*IncidentState, error)
	CountSince(ctx context.Context, fingerprint string, since time.Time) (int, error)
	AppendEvent(ctx context.Context, ev *IncidentEvent) (int64, error)
	UpsertState(ctx context.Context, st *IncidentState) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type incidentsStore struct {
	db      *sql.DB
	dialect Dialect
}

type incidentsTx struct {
	q       querier
	dialect Dialect
}

func NewIncidentsStore(db *sql.DB, dialect Dialect) IncidentsStore {
	return &incidentsStore{db: db, dialect: dialect}
}

const stateColumns = `fingerprint, level, count_in_window, first_seen_at, last_seen_at, reset_applied, last_event_json, last_trace_id, last_request_id, last_run_id, report_path, updated_at`

const eventColumns = `id, fingerprint, level, count_in_window, error_type, message, stack, context_json, stage, event_name, trace_id, request_id, run_id, event_ts, report_path`

func (s *incidentsStore) RunInTx(ctx context.Context, fn func(tx IncidentsTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&incidentsTx{q: tx, dialect: s.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *incidentsStore) GetState(ctx context.Context, fingerprint string) (*IncidentState, error) {
	return getState(ctx, s.db, s.dialect, fingerprint)
}

func (t *incidentsTx) GetState(ctx context.Context, fingerprint string) (*IncidentState, error) {
	return getState(ctx, t.q, t.dialect, fingerprint)
}

func getState(ctx context.Context, q querier, d Dialect, fingerprint string) (*IncidentState, error) {
	row := q.QueryRowContext(ctx, rebind(d, `SELECT `+stateColumns+` FROM incident_states WHERE fingerprint=?`), fingerprint)
	return scanIncidentState(row)
}

func (t *incidentsTx) CountSince(ctx context.Context, fingerprint string, since time.Time) (int, error) {
	var count sql.NullInt64
	err := t.q.QueryRowContext(ctx, rebind(t.dialect, `
		SELECT COUNT(1) FROM incident_events WHERE fingerprint=? AND event_ts>=?`),
		fingerprint, utils.FormatTimestamp(since)).Scan(&count)
	if err != nil {
		return 0, err
	}
	if !count.Valid {
		return 0, nil
	}
	return int(count.Int64), nil
}

func (t *incidentsTx) AppendEvent(ctx context.Context, ev *IncidentEvent) (int64, error) {
	var id int64
	err := t.q.QueryRowContext(ctx, rebind(t.dialect, `
		INSERT INTO incident_events(fingerprint, level, count_in_window, error_type, message, stack, context_json, stage, event_name, trace_id, request_id, run_id, event_ts, report_path)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		RETURNING id`),
		ev.Fingerprint, ev.Level, ev.CountInWindow, ev.ErrorType, ev.Message, ev.Stack, ev.ContextJSON,
		ev.Stage, ev.EventName, ev.TraceID, nullString(ev.RequestID), nullString(ev.RunID),
		utils.FormatTimestamp(ev.EventAt), nullString(ev.ReportPath)).Scan(&id)
	if err != nil {
		return 0, err
	}
	ev.ID = id
	return id, nil
}

func (t *incidentsTx) UpsertState(ctx context.Context, st *IncidentState) error {
	_, err := t.q.ExecContext(ctx, rebind(t.dialect, `
		INSERT INTO incident_states(`+stateColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (fingerprint)
		DO UPDATE SET
			level=excluded.level,
			count_in_window=excluded.count_in_window,
			last_seen_at=excluded.last_seen_at,
			reset_applied=excluded.reset_applied,
			last_event_json=excluded.last_event_json,
			last_trace_id=excluded.last_trace_id,
			last_request_id=excluded.last_request_id,
			last_run_id=excluded.last_run_id,
			report_path=COALESCE(excluded.report_path, incident_states.report_path),
			updated_at=excluded.updated_at`),
		st.Fingerprint, st.Level, st.CountInWindow, utils.FormatTimestamp(st.FirstSeenAt), utils.FormatTimestamp(st.LastSeenAt),
		boolToInt(st.ResetApplied), nullString(st.LastEventJSON), nullString(st.LastTraceID), nullString(st.LastRequestID),
		nullString(st.LastRunID), nullString(st.ReportPath), utils.FormatTimestamp(st.UpdatedAt))
	return err
}

func (s *incidentsStore) ListStates(ctx context.Context, filter StateFilter) ([]IncidentState, error) {
	clauses := []string{"1=1"}
	var args []any
	if fp := strings.TrimSpace(filter.Fingerprint); fp != "" {
		clauses = append(clauses, "fingerprint=?")
		args = append(args, fp)
	}
	if filter.MinLevel > 0 {
		clauses = append(clauses, "level>=?")
		args = append(args, filter.MinLevel)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query := `SELECT ` + stateColumns + ` FROM incident_states WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY last_seen_at DESC, fingerprint ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []IncidentState
	for rows.Next() {
		st, err := scanIncidentState(rows)
		if err != nil {
			return nil, err
		}
		if st != nil {
			res = append(res, *st)
		}
	}
	return res, rows.Err()
}

func (s *incidentsStore) ListEvents(ctx context.Context, fingerprint string, limit int) ([]IncidentEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, `
		SELECT `+eventColumns+`
		FROM incident_events WHERE fingerprint=? ORDER BY event_ts DESC, id DESC LIMIT ?`), fingerprint, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []IncidentEvent
	for rows.Next() {
		var ev IncidentEvent
		var requestID, runID, reportPath sql.NullString
		var eventTS string
		if err := rows.Scan(&ev.ID, &ev.Fingerprint, &ev.Level, &ev.CountInWindow, &ev.ErrorType, &ev.Message, &ev.Stack,
			&ev.ContextJSON, &ev.Stage, &ev.EventName, &ev.TraceID, &requestID, &runID, &eventTS, &reportPath); err != nil {
			return nil, err
		}
		ev.RequestID = requestID.String
		ev.RunID = runID.String
		ev.ReportPath = reportPath.String
		ev.EventAt = utils.ParseTimestamp(eventTS)
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *incidentsStore) ListStaleFingerprints(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.dialect, `
		SELECT fingerprint FROM incident_states WHERE level>0 AND last_seen_at<? ORDER BY fingerprint`),
		utils.FormatTimestamp(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		res = append(res, fp)
	}
	return res, rows.Err()
}

// ResetStale forces a quiet fingerprint back to level 0. The stale predicate is
// re-checked so a registration that refreshed last_seen_at wins.
func (s *incidentsStore) ResetStale(ctx context.Context, fingerprint string, cutoff, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, rebind(s.dialect, `
		UPDATE incident_states
		SET level=0, count_in_window=0, reset_applied=1, updated_at=?
		WHERE fingerprint=? AND level>0 AND last_seen_at<?`),
		utils.FormatTimestamp(now), fingerprint, utils.FormatTimestamp(cutoff))
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func scanIncidentState(row interface {
	Scan(dest ...any) error
}) (*IncidentState, error) {
	var st IncidentState
	var firstSeen, lastSeen, updatedAt string
	var resetInt sql.NullInt64
	var lastEvent, lastTrace, lastRequest, lastRun, reportPath sql.NullString
	if err := row.Scan(
		&st.Fingerprint, &st.Level, &st.CountInWindow, &firstSeen, &lastSeen, &resetInt,
		&lastEvent, &lastTrace, &lastRequest, &lastRun, &reportPath, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	st.FirstSeenAt = utils.ParseTimestamp(firstSeen)
	st.LastSeenAt = utils.ParseTimestamp(lastSeen)
	st.UpdatedAt = utils.ParseTimestamp(updatedAt)
	st.ResetApplied = resetInt.Valid && resetInt.Int64 == 1
	st.LastEventJSON = lastEvent.String
	st.LastTraceID = lastTrace.String
	st.LastRequestID = lastRequest.String
	st.LastRunID = lastRun.String
	st.ReportPath = reportPath.String
	return &st, nil
}
