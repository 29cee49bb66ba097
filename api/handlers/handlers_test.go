package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"incident-engine/core/incidents"
	"incident-engine/core/store"
)

func TestParseBoundedInt(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"", 200, true},
		{" 5 ", 5, true},
		{"1000", 1000, true},
		{"0", 0, false},
		{"1001", 0, false},
		{"ten", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseBoundedInt(tc.in, 200, 1, 1000)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseBoundedInt(%q) = %d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestClientEventPayloadValidate(t *testing.T) {
	ok := clientEventPayload{TraceID: "trace", Stage: "upload", Event: "failed", Level: "error"}
	if err := ok.validate(); err != nil {
		t.Fatalf("expected valid payload: %v", err)
	}
	bad := ok
	bad.TraceID = strings.Repeat("t", 121)
	if err := bad.validate(); err == nil {
		t.Fatalf("expected trace_id length error")
	}
	bad = ok
	bad.Event = ""
	if err := bad.validate(); err == nil {
		t.Fatalf("expected empty event error")
	}
}

type stubReader struct {
	gotFilter incidents.TailFilter
}

func (s *stubReader) Tail(_ context.Context, filter incidents.TailFilter) ([]incidents.TailItem, error) {
	s.gotFilter = filter
	return []incidents.TailItem{{Fingerprint: "abc", Level: 2}}, nil
}

func (s *stubReader) Events(_ context.Context, fingerprint string, limit int) ([]store.IncidentEvent, error) {
	if fingerprint != "abc" {
		return nil, incidents.ErrUnknownFingerprint
	}
	return []store.IncidentEvent{{Fingerprint: fingerprint}}, nil
}

func TestIncidentsTailPassesFilter(t *testing.T) {
	reader := &stubReader{}
	h := NewIncidentsHandler(reader, nil)
	rr := httptest.NewRecorder()
	h.Tail(rr, httptest.NewRequest(http.MethodGet, "/internal/incidents/tail?limit=10&minLevel=2&fingerprint=abc", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	want := incidents.TailFilter{Limit: 10, Fingerprint: "abc", MinLevel: 2}
	if reader.gotFilter != want {
		t.Fatalf("filter = %+v, want %+v", reader.gotFilter, want)
	}
	if !strings.Contains(rr.Body.String(), `"count":1`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestIncidentsEventsPathFallback(t *testing.T) {
	h := NewIncidentsHandler(&stubReader{}, nil)
	rr := httptest.NewRecorder()
	h.Events(rr, httptest.NewRequest(http.MethodGet, "/internal/incidents/abc/events", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	rr = httptest.NewRecorder()
	h.Events(rr, httptest.NewRequest(http.MethodGet, "/internal/incidents/ffff/events", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestIncidentsHandlerWithoutReader(t *testing.T) {
	h := NewIncidentsHandler(nil, nil)
	rr := httptest.NewRecorder()
	h.Tail(rr, httptest.NewRequest(http.MethodGet, "/internal/incidents/tail", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
