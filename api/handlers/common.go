package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

type ctxKey string

const (
	traceIDKey  ctxKey = "trace_id"
	clientIPKey ctxKey = "client_ip"
)

// WithTraceID stores the request trace id for handlers further down the chain.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if v, ok := r.Context().Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClientIP stores the proxy-aware caller address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func clientIP(r *http.Request) string {
	if v, ok := r.Context().Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return remoteHost(r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// parseBoundedInt parses an optional query value and rejects anything outside
// [lo, hi].
func parseBoundedInt(val string, def, lo, hi int) (int, bool) {
	val = strings.TrimSpace(val)
	if val == "" {
		return def, true
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < lo || n > hi {
		return 0, false
	}
	return n, true
}
