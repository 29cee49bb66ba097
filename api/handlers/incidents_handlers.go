package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"incident-engine/core/eventlog"
	"incident-engine/core/incidents"
	"incident-engine/core/store"
)

// IncidentsReader is the read side of the incident manager.
type IncidentsReader interface {
	Tail(ctx context.Context, filter incidents.TailFilter) ([]incidents.TailItem, error)
	Events(ctx context.Context, fingerprint string, limit int) ([]store.IncidentEvent, error)
}

type IncidentsHandler struct {
	incidents IncidentsReader
	recorder  *eventlog.Recorder
}

func NewIncidentsHandler(reader IncidentsReader, recorder *eventlog.Recorder) *IncidentsHandler {
	return &IncidentsHandler{incidents: reader, recorder: recorder}
}

func (h *IncidentsHandler) Tail(w http.ResponseWriter, r *http.Request) {
	if h.incidents == nil {
		writeDetail(w, http.StatusServiceUnavailable, "incidents unavailable")
		return
	}
	q := r.URL.Query()
	limit, ok := parseBoundedInt(q.Get("limit"), 200, 1, 1000)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "limit must be between 1 and 1000")
		return
	}
	minLevel, ok := parseBoundedInt(q.Get("minLevel"), 0, 0, 3)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "minLevel must be between 0 and 3")
		return
	}
	fingerprint := strings.TrimSpace(q.Get("fingerprint"))
	items, err := h.incidents.Tail(r.Context(), incidents.TailFilter{Limit: limit, Fingerprint: fingerprint, MinLevel: minLevel})
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "server error")
		return
	}
	if h.recorder != nil {
		h.recorder.LogEvent(r.Context(), "info", TraceID(r), "incidents", "tail_read", map[string]any{
			"count":       len(items),
			"limit":       limit,
			"fingerprint": nullable(fingerprint),
			"min_level":   minLevel,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}

func (h *IncidentsHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.incidents == nil {
		writeDetail(w, http.StatusServiceUnavailable, "incidents unavailable")
		return
	}
	fingerprint := urlParam(r, "fingerprint")
	limit, ok := parseBoundedInt(r.URL.Query().Get("limit"), 50, 1, 500)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "limit must be between 1 and 500")
		return
	}
	events, err := h.incidents.Events(r.Context(), fingerprint, limit)
	if err != nil {
		if errors.Is(err, incidents.ErrUnknownFingerprint) {
			writeDetail(w, http.StatusNotFound, "incident_not_found")
			return
		}
		writeDetail(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fingerprint": fingerprint, "count": len(events), "items": events})
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
