package eventlog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"incident-engine/core/incidents"
	"incident-engine/core/redact"
	"incident-engine/core/utils"
)

const (
	clientStageCap   = 80
	clientEventCap   = 120
	clientTraceCap   = 120
	clientMessageCap = 2500
	clientStackCap   = 20000
	userAgentCap     = 240
	inferredTypeCap  = 80
	lookupCap        = 160
)

var (
	errorWordRe   = regexp.MustCompile(`\b([A-Za-z]+(?:Error|Exception|Domain))\b`)
	leadingNameRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_.-]{2,40})`)

	genericErrorTypes = map[string]struct{}{
		"errorString": {},
		"wrapError":   {},
		"wrapErrors":  {},
		"joinError":   {},
	}
)

// Recorder is what request handlers and workers call to log and, for failures,
// register incidents.
type Recorder struct {
	writer *Writer
	sink   incidents.Sink
	logger *utils.Logger
}

func NewRecorder(writer *Writer, sink incidents.Sink, logger *utils.Logger) *Recorder {
	return &Recorder{writer: writer, sink: sink, logger: logger}
}

func (r *Recorder) Writer() *Writer {
	return r.writer
}

func (r *Recorder) LogEvent(ctx context.Context, level, traceID, stage, event string, meta map[string]any) {
	if _, err := r.writer.Write(Entry{Level: level, TraceID: traceID, Stage: stage, Event: event, Meta: meta}); err != nil && r.logger != nil {
		r.logger.Errorf("eventlog write failed stage=%s event=%s: %v", stage, event, err)
	}
}

// LogError registers the failure as an incident occurrence and writes an error
// line that carries the resulting incident fields. An empty stack is captured
// from the caller.
func (r *Recorder) LogError(ctx context.Context, traceID, stage, event string, err error, stack string, meta map[string]any) incidents.Summary {
	safeMeta := redact.Map(meta, "meta")
	if stack == "" {
		stack = captureStack(2)
	}
	message := ""
	if err != nil {
		message = err.Error()
	}
	errorType := ErrorTypeName(err)

	occContext := make(map[string]any, len(safeMeta)+2)
	for k, v := range safeMeta {
		occContext[k] = v
	}
	occContext["stage"] = stage
	occContext["event"] = event

	summary := incidents.RegisterBestEffort(ctx, r.sink, incidents.Occurrence{
		ErrorType: errorType,
		Message:   message,
		Stack:     stack,
		Context:   occContext,
		Stage:     stage,
		Event:     event,
		TraceID:   traceID,
		RequestID: metaLookup(safeMeta, "request_id", "requestId", "http_request_id"),
		RunID:     metaLookup(safeMeta, "run_id", "runId", "job_id", "video_id"),
	}, r.logger)

	lineMeta := make(map[string]any, len(safeMeta)+7)
	for k, v := range safeMeta {
		lineMeta[k] = v
	}
	lineMeta["error"] = message
	lineMeta["error_type"] = errorType
	lineMeta["stack"] = stack
	mergeSummary(lineMeta, summary)
	r.LogEvent(ctx, "error", traceID, stage, event, lineMeta)
	return summary
}

// ClientEvent is a diagnostic event posted by a client application.
type ClientEvent struct {
	Level          string
	Stage          string
	Event          string
	TraceID        string
	Meta           map[string]any
	Path           string
	RequestTraceID string
	ClientIP       string
	UserAgent      string
}

// RecordClientEvent logs a client event and, when it looks like a failure,
// registers it as an incident occurrence under stage client_<stage>.
func (r *Recorder) RecordClientEvent(ctx context.Context, ev ClientEvent) incidents.Summary {
	traceID := redact.Clip(strings.TrimSpace(ev.TraceID), clientTraceCap)
	if traceID == "" {
		traceID = ev.RequestTraceID
	}
	level := NormalizeLevel(ev.Level)
	meta := redact.Map(ev.Meta, "meta")
	stage := redact.Clip(strings.TrimSpace(ev.Stage), clientStageCap)
	event := redact.Clip(strings.TrimSpace(ev.Event), clientEventCap)
	clientStage := "client_" + stage

	var summary incidents.Summary
	if ShouldTrackClientEvent(level, event) {
		message := redact.Clip(firstText(meta, event, "error", "raw_error", "reason"), clientMessageCap)
		stack := redact.Clip(firstText(meta, "", "stack", "error_stack"), clientStackCap)
		errorType := redact.Clip(firstText(meta, "", "error_type"), 120)
		if errorType == "" {
			errorType = InferErrorType(message)
		}
		summary = incidents.RegisterBestEffort(ctx, r.sink, incidents.Occurrence{
			ErrorType: errorType,
			Message:   message,
			Stack:     stack,
			Context:   clientContext(stage, event, meta, ev.Path),
			Stage:     clientStage,
			Event:     event,
			TraceID:   traceID,
			RequestID: metaLookup(meta, "request_id", "requestId"),
			RunID:     metaLookup(meta, "run_id", "runId", "job_id", "video_id"),
		}, r.logger)
	}

	lineMeta := make(map[string]any, len(meta)+6)
	for k, v := range meta {
		lineMeta[k] = v
	}
	mergeSummary(lineMeta, summary)
	if ev.ClientIP != "" {
		lineMeta["client_ip"] = ev.ClientIP
	} else {
		lineMeta["client_ip"] = nil
	}
	lineMeta["user_agent"] = redact.Clip(ev.UserAgent, userAgentCap)
	r.LogEvent(ctx, level, traceID, clientStage, event, lineMeta)
	return summary
}

func NormalizeLevel(level string) string {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "info", "warn", "error":
		return l
	}
	return "info"
}

// ShouldTrackClientEvent reports whether a client event describes a failure.
func ShouldTrackClientEvent(level, event string) bool {
	if level == "warn" || level == "error" {
		return true
	}
	lowered := strings.ToLower(event)
	return strings.Contains(lowered, "failed") || strings.Contains(lowered, "error")
}

// InferErrorType guesses an error class name from a free-form message.
func InferErrorType(message string) string {
	text := strings.TrimSpace(message)
	if text == "" {
		return "UnknownError"
	}
	for _, re := range []*regexp.Regexp{errorWordRe, leadingNameRe} {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return redact.Clip(m[1], inferredTypeCap)
		}
	}
	return "ClientEventError"
}

// ErrorTypeName names the concrete type of the innermost error. Anonymous
// errors built with errors.New or fmt.Errorf report as RuntimeError.
func ErrorTypeName(err error) string {
	if err == nil {
		return "RuntimeError"
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	name := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	if _, generic := genericErrorTypes[name]; generic || name == "" {
		return "RuntimeError"
	}
	return name
}

func clientContext(stage, event string, meta map[string]any, path string) map[string]any {
	pick := func(keys ...string) any {
		for _, k := range keys {
			if v, ok := meta[k]; ok && v != nil && v != "" {
				return v
			}
		}
		return nil
	}
	return map[string]any{
		"stage":      stage,
		"event":      event,
		"source":     pick("source"),
		"platform":   pick("platform"),
		"reason":     pick("reason"),
		"code":       pick("code", "error_code"),
		"video_id":   pick("video_id"),
		"order_id":   pick("order_id"),
		"job_id":     pick("job_id"),
		"request_id": pick("request_id", "requestId"),
		"run_id":     pick("run_id", "runId"),
		"path":       path,
	}
}

func mergeSummary(meta map[string]any, s incidents.Summary) {
	if s.Fingerprint == "" {
		meta["incident_fingerprint"] = nil
	} else {
		meta["incident_fingerprint"] = s.Fingerprint
	}
	meta["incident_level"] = s.Level
	meta["incident_count"] = s.CountInWindow
	meta["incident_reset_applied"] = s.ResetApplied
}

func metaLookup(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		if text := strings.TrimSpace(redact.Text(meta[k], 1<<16)); text != "" {
			return redact.Clip(text, lookupCap)
		}
	}
	return ""
}

func firstText(meta map[string]any, fallback string, keys ...string) string {
	for _, k := range keys {
		if text := redact.Text(meta[k], 1<<16); text != "" {
			return text
		}
	}
	return fallback
}

// captureStack renders the caller frames without goroutine ids or argument
// values so that identical failures hash identically.
func captureStack(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
