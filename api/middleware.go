package api

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"incident-engine/api/handlers"
	"incident-engine/core/rbac"
	"incident-engine/core/redact"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	traceHeader  = "X-Trace-Id"
	apiKeyHeader = "X-API-Key"
	maxTraceLen  = 120
)

type subjectKey struct{}

func withSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

func subjectFrom(r *http.Request) string {
	v, _ := r.Context().Value(subjectKey{}).(string)
	return v
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", rec)
			}
			if s.logger != nil {
				s.logger.Errorf("PANIC %s %s: %v", r.Method, r.URL.Path, rec)
			}
			if s.recorder != nil {
				s.recorder.LogError(r.Context(), handlers.TraceID(r), "http", "request_unhandled_exception", err, string(debug.Stack()), map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
				})
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal server error"})
		}()
		next.ServeHTTP(w, r)
	})
}

// traceMiddleware accepts the caller's trace id or mints one, and echoes it back.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := redact.Clip(strings.TrimSpace(r.Header.Get(traceHeader)), maxTraceLen)
		if traceID == "" {
			traceID = newTraceID()
		}
		w.Header().Set(traceHeader, traceID)
		ctx := handlers.WithTraceID(r.Context(), traceID)
		ctx = handlers.WithClientIP(ctx, s.clientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTraceID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Sprintf("trace_%016x", time.Now().UnixNano())
	}
	return "trace_" + hex.EncodeToString(id.Bytes())[:16]
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		if s.logger != nil {
			s.logger.Printf("RESP %s %s status=%d dur=%s bytes=%d", r.Method, r.URL.Path, rec.status, dur, rec.size)
		}
		if s.recorder != nil {
			s.recorder.LogEvent(r.Context(), "info", handlers.TraceID(r), "http", "request_done", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": dur.Milliseconds(),
			})
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// withAPIKey resolves the caller subject from X-API-Key. Without a configured
// key every caller is anonymous and the policy decides what that allows.
func (s *Server) withAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := rbac.SubjectAnonymous
		if s.cfg.HasInternalKey() {
			if !s.validAPIKey(r.Header.Get(apiKeyHeader)) {
				if s.logger != nil {
					s.logger.Printf("AUTH fail (api key) %s %s ip=%s", r.Method, r.URL.Path, s.clientIP(r))
				}
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "unauthorized"})
				return
			}
			subject = rbac.SubjectInternal
		}
		next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), subject)))
	}
}

func (s *Server) validAPIKey(provided string) bool {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return false
	}
	if s.cfg.InternalAPIKeyHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.InternalAPIKeyHash), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.InternalAPIKey)) == 1
}

func (s *Server) requirePermission(perm rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			subject := subjectFrom(r)
			if subject == "" {
				if s.logger != nil {
					s.logger.Printf("PERM fail (no subject) %s %s need=%s", r.Method, r.URL.Path, perm)
				}
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "unauthorized"})
				return
			}
			if !s.policy.Allowed(subject, perm) {
				if s.logger != nil {
					s.logger.Printf("PERM fail %s %s subject=%s need=%s", r.Method, r.URL.Path, subject, perm)
				}
				writeJSON(w, http.StatusForbidden, map[string]string{"detail": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		}
	}
}

// clientIP trusts forwarding headers only when the direct peer is a configured proxy.
func (s *Server) clientIP(r *http.Request) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		ip = r.RemoteAddr
	}
	ip = strings.TrimSpace(ip)
	if s == nil || s.cfg == nil || !isTrustedProxy(ip, s.cfg.TrustedProxies) {
		return ip
	}
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if candidate := extractClientIPFromXFF(xff, s.cfg.TrustedProxies); candidate != "" {
			return candidate
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		if parsed := net.ParseIP(realIP); parsed != nil {
			return parsed.String()
		}
	}
	return ip
}

func extractClientIPFromXFF(xff string, trusted []string) string {
	parts := strings.Split(xff, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		parsed := net.ParseIP(strings.TrimSpace(parts[i]))
		if parsed == nil {
			continue
		}
		if val := parsed.String(); !isTrustedProxy(val, trusted) {
			return val
		}
	}
	return ""
}

func isTrustedProxy(ip string, trusted []string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, raw := range trusted {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if strings.Contains(val, "/") {
			if _, block, err := net.ParseCIDR(val); err == nil && block.Contains(parsed) {
				return true
			}
			continue
		}
		if parsed.Equal(net.ParseIP(val)) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
