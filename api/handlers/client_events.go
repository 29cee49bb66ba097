package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"incident-engine/core/eventlog"
)

const clientEventMaxBytes = 256 * 1024

type clientEventPayload struct {
	TraceID string         `json:"trace_id"`
	Stage   string         `json:"stage"`
	Event   string         `json:"event"`
	Level   string         `json:"level"`
	Meta    map[string]any `json:"meta"`
}

func (p clientEventPayload) validate() error {
	if n := utf8.RuneCountInString(p.TraceID); n < 4 || n > 120 {
		return errors.New("trace_id must have 4 to 120 characters")
	}
	if n := utf8.RuneCountInString(p.Stage); n < 1 || n > 80 {
		return errors.New("stage must have 1 to 80 characters")
	}
	if n := utf8.RuneCountInString(p.Event); n < 1 || n > 120 {
		return errors.New("event must have 1 to 120 characters")
	}
	if n := utf8.RuneCountInString(p.Level); n > 16 {
		return errors.New("level must have at most 16 characters")
	}
	return nil
}

type ClientEventsHandler struct {
	recorder *eventlog.Recorder
}

func NewClientEventsHandler(recorder *eventlog.Recorder) *ClientEventsHandler {
	return &ClientEventsHandler{recorder: recorder}
}

func (h *ClientEventsHandler) Post(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, clientEventMaxBytes)
	var payload clientEventPayload
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeDetail(w, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.Level == "" {
		payload.Level = "info"
	}
	if err := payload.validate(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	summary := h.recorder.RecordClientEvent(r.Context(), eventlog.ClientEvent{
		Level:          payload.Level,
		Stage:          payload.Stage,
		Event:          payload.Event,
		TraceID:        payload.TraceID,
		Meta:           payload.Meta,
		Path:           r.URL.Path,
		RequestTraceID: TraceID(r),
		ClientIP:       clientIP(r),
		UserAgent:      r.Header.Get("User-Agent"),
	})
	resp := map[string]any{"ok": true}
	if summary.Fingerprint != "" {
		resp["incident"] = summary
	}
	writeJSON(w, http.StatusOK, resp)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
