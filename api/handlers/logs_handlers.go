package handlers

import (
	"context"
	"net/http"
	"strings"

	"incident-engine/core/eventlog"
)

type LogTailer interface {
	Tail(ctx context.Context, filter eventlog.TailFilter) ([]map[string]any, error)
}

type LogsHandler struct {
	logs     LogTailer
	recorder *eventlog.Recorder
}

func NewLogsHandler(logs LogTailer, recorder *eventlog.Recorder) *LogsHandler {
	return &LogsHandler{logs: logs, recorder: recorder}
}

func (h *LogsHandler) Tail(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.logs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"count": 0, "items": []map[string]any{}})
		return
	}
	q := r.URL.Query()
	limit, ok := parseBoundedInt(q.Get("limit"), 200, 1, 1000)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "limit must be between 1 and 1000")
		return
	}
	filter := eventlog.TailFilter{
		VideoID: strings.TrimSpace(q.Get("videoId")),
		OrderID: strings.TrimSpace(q.Get("orderId")),
		TraceID: strings.TrimSpace(q.Get("traceId")),
		Limit:   limit,
	}
	items, err := h.logs.Tail(r.Context(), filter)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "server error")
		return
	}
	if h.recorder != nil {
		h.recorder.LogEvent(r.Context(), "info", TraceID(r), "logs", "tail_read", map[string]any{
			"count":           len(items),
			"video_id":        nullable(filter.VideoID),
			"order_id":        nullable(filter.OrderID),
			"trace_id_filter": nullable(filter.TraceID),
			"limit":           limit,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "items": items})
}
