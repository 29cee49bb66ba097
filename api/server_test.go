package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"incident-engine/config"
	"incident-engine/core/eventlog"
	"incident-engine/core/incidents"
	"incident-engine/core/rbac"
	"incident-engine/core/store"
	"incident-engine/core/utils"

	"github.com/prometheus/client_golang/prometheus"
)

type testServer struct {
	server  *Server
	manager *incidents.Manager
	ts      *httptest.Server
}

func newTestServer(t *testing.T, cfg *config.AppConfig) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg.AppName = "video-editor-api"
	cfg.DBDriver = "sqlite"
	cfg.DBPath = filepath.Join(dir, "state.db")
	logger := utils.NewDiscardLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, store.DialectSQLite, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	registry := prometheus.NewRegistry()
	thresholds := incidents.DefaultThresholds()
	manager := incidents.NewManager(incidents.ManagerDeps{
		Store:        store.NewIncidentsStore(db, store.DialectSQLite),
		Reports:      incidents.NewReportWriter(filepath.Join(dir, "incidents"), thresholds.WindowMinutes(), logger),
		Thresholds:   thresholds,
		Logger:       logger,
		Metrics:      incidents.NewMetrics(registry),
		StoreTimeout: 5 * time.Second,
	})
	recorder := eventlog.NewRecorder(eventlog.NewWriter(filepath.Join(dir, "logs"), cfg.AppName, logger), manager, logger)
	policy, err := rbac.NewPolicy(!cfg.HasInternalKey())
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	s := NewServer(cfg, ServerDeps{Incidents: manager, Recorder: recorder, Policy: policy, Gatherer: registry}, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testServer{server: s, manager: manager, ts: ts}
}

func (e *testServer) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", string(raw), err)
		}
	}
	out["_raw"] = string(raw)
	return resp, out
}

const failedUpload = `{"trace_id":"trace-client-1","stage":"upload","event":"asset_export_failed","level":"error","meta":{"error":"TimeoutError: connection timed out while exporting","video_id":"vid-9","access_token":"abc"}}`

func TestHealthAndTraceHeader(t *testing.T) {
	env := newTestServer(t, &config.AppConfig{})
	resp, body := env.do(t, "GET", "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["ok"] != true || body["app"] != "video-editor-api" || body["db"] != "sqlite" {
		t.Fatalf("unexpected health: %d %v", resp.StatusCode, body)
	}
	trace := resp.Header.Get("X-Trace-Id")
	if !strings.HasPrefix(trace, "trace_") || len(trace) != len("trace_")+16 {
		t.Fatalf("unexpected generated trace id %q", trace)
	}
	resp, _ = env.do(t, "GET", "/health", "", map[string]string{"X-Trace-Id": "abc-123"})
	if got := resp.Header.Get("X-Trace-Id"); got != "abc-123" {
		t.Fatalf("expected caller trace id echoed, got %q", got)
	}
}

func TestInternalRoutesRequireAPIKey(t *testing.T) {
	env := newTestServer(t, &config.AppConfig{InternalAPIKey: "s3cret"})
	resp, body := env.do(t, "GET", "/internal/incidents/tail", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || body["detail"] != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %v", resp.StatusCode, body)
	}
	resp, _ = env.do(t, "GET", "/internal/incidents/tail", "", map[string]string{"X-API-Key": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", resp.StatusCode)
	}
	resp, body = env.do(t, "GET", "/internal/incidents/tail", "", map[string]string{"X-API-Key": "s3cret"})
	if resp.StatusCode != http.StatusOK || body["count"] != float64(0) {
		t.Fatalf("expected empty tail, got %d %v", resp.StatusCode, body)
	}
	resp, _ = env.do(t, "GET", "/metrics", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected metrics to require key, got %d", resp.StatusCode)
	}
}

func TestInternalRoutesOpenWithoutConfiguredKey(t *testing.T) {
	env := newTestServer(t, &config.AppConfig{})
	for _, path := range []string{"/internal/incidents/tail", "/internal/logs/tail", "/metrics"} {
		resp, body := env.do(t, "GET", path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected %s open, got %d %v", path, resp.StatusCode, body)
		}
	}
}

func TestClientEventEscalatesAndShowsInTail(t *testing.T) {
	env := newTestServer(t, &config.AppConfig{})
	var fingerprint string
	for i := 1; i <= 3; i++ {
		resp, body := env.do(t, "POST", "/v1/debug/client-events", failedUpload, nil)
		if resp.StatusCode != http.StatusOK || body["ok"] != true {
			t.Fatalf("post %d: %d %v", i, resp.StatusCode, body)
		}
		incident, ok := body["incident"].(map[string]any)
		if !ok {
			t.Fatalf("post %d: missing incident summary %v", i, body)
		}
		fingerprint, _ = incident["incident_fingerprint"].(string)
		if incident["incident_count"] != float64(i) {
			t.Fatalf("post %d: unexpected count %v", i, incident["incident_count"])
		}
	}

	resp, body := env.do(t, "GET", "/internal/incidents/tail?minLevel=1", "", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("unexpected tail: %d %v", resp.StatusCode, body)
	}
	item := body["items"].([]any)[0].(map[string]any)
	if item["fingerprint"] != fingerprint || item["level"] != float64(1) {
		t.Fatalf("unexpected tail item %v", item)
	}
	last := item["last_event"].(map[string]any)
	if last["stage"] != "client_upload" || last["error_type"] != "TimeoutError" {
		t.Fatalf("unexpected last event %v", last)
	}

	resp, body = env.do(t, "GET", "/internal/incidents/"+fingerprint+"/events?limit=2", "", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("unexpected events: %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, "GET", "/internal/logs/tail?traceId=trace-client-1", "", nil)
	if resp.StatusCode != http.StatusOK || body["count"] != float64(3) {
		t.Fatalf("unexpected log tail: %d %v", resp.StatusCode, body)
	}
	if strings.Contains(body["_raw"].(string), `"abc"`) {
		t.Fatalf("token leaked into log tail: %s", body["_raw"])
	}

	resp, body = env.do(t, "GET", "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body["_raw"].(string), `incident_registrations_total{level="1"} 1`) {
		t.Fatalf("unexpected metrics: %d %s", resp.StatusCode, body["_raw"])
	}
}

func TestClientEventInfoIsLoggedOnly(t *testing.T) {
	env := newTestServer(t, &config.AppConfig{})
	resp, body := env.do(t, "POST", "/v1/debug/client-events", `{"trace_id":"trace-2","stage":"editor","event":"opened"}`, nil)
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}
	if _, ok := body["incident"]; ok {
		t.Fatalf("info event must not register an incident: %v", body)
	}
}

func TestClientEventValidation(t *testing.T) {
	env := newTestServer(t, &config.AppConfig{})
	cases := []struct {
		body string
		code int
	}{
		{`{"trace_id":"ab","stage":"upload","event":"x"}`, http.StatusUnprocessableEntity},
		{`{"trace_id":"trace-1","stage":"","event":"x"}`, http.StatusUnprocessableEntity},
		{`{"trace_id":"trace-1","stage":"upload","event":"x","level":"` + strings.Repeat("e", 17) + `"}`, http.StatusUnprocessableEntity},
		{`{not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, body := env.do(t, "POST", "/v1/debug/client-events", tc.body, nil)
		if resp.StatusCode != tc.code {
			t.Fatalf("body %s: expected %d, got %d %v", tc.body, tc.code, resp.StatusCode, body)
		}
	}
}

func TestTailRejectsOutOfRangeQuery(t *testing.T) {
	env := newTestServer(t, &config.AppConfig{})
	for _, path := range []string{"/internal/incidents/tail?minLevel=7", "/internal/incidents/tail?limit=0", "/internal/logs/tail?limit=5000"} {
		resp, _ := env.do(t, "GET", path, "", nil)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", path, resp.StatusCode)
		}
	}
}

func TestEventsUnknownFingerprint(t *testing.T) {
	env := newTestServer(t, &config.AppConfig{})
	resp, body := env.do(t, "GET", "/internal/incidents/deadbeef/events", "", nil)
	if resp.StatusCode != http.StatusNotFound || body["detail"] != "incident_not_found" {
		t.Fatalf("expected 404 incident_not_found, got %d %v", resp.StatusCode, body)
	}
}

func TestClientEventsRateLimited(t *testing.T) {
	env := newTestServer(t, &config.AppConfig{RateLimit: config.RateLimitConfig{RequestsPerSec: 0.001, Burst: 1}})
	resp, _ := env.do(t, "POST", "/v1/debug/client-events", `{"trace_id":"trace-3","stage":"editor","event":"opened"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first post: %d", resp.StatusCode)
	}
	resp, body := env.do(t, "POST", "/v1/debug/client-events", `{"trace_id":"trace-3","stage":"editor","event":"opened"}`, nil)
	if resp.StatusCode != http.StatusTooManyRequests || body["detail"] != "rate limit exceeded" {
		t.Fatalf("expected 429, got %d %v", resp.StatusCode, body)
	}
	resp, _ = env.do(t, "GET", "/internal/incidents/tail", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("internal routes must not share the producer limiter, got %d", resp.StatusCode)
	}
}

func TestPanicIsRecoveredAndRegistered(t *testing.T) {
	env := newTestServer(t, &config.AppConfig{})
	h := env.server.traceMiddleware(env.server.recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("render exploded")
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/render", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	items, err := env.manager.Tail(context.Background(), incidents.TailFilter{})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(items) != 1 || items[0].LastEvent.Stage != "http" || items[0].LastEvent.Event != "request_unhandled_exception" {
		t.Fatalf("expected registered panic incident, got %+v", items)
	}
	if items[0].LastTraceID != rr.Header().Get("X-Trace-Id") {
		t.Fatalf("incident trace %q does not match response %q", items[0].LastTraceID, rr.Header().Get("X-Trace-Id"))
	}
}
