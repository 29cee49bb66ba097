package utils

import (
	"testing"
	"time"
)

func TestFormatTimestampTruncatesToSeconds(t *testing.T) {
	ts := time.Date(2026, 2, 22, 12, 0, 5, 987654321, time.FixedZone("BRT", -3*3600))
	if got := FormatTimestamp(ts); got != "2026-02-22T15:00:05Z" {
		t.Fatalf("unexpected timestamp %q", got)
	}
}

func TestParseTimestampRoundTripAndFallback(t *testing.T) {
	ts := time.Date(2026, 2, 22, 12, 0, 5, 0, time.UTC)
	if got := ParseTimestamp(FormatTimestamp(ts)); !got.Equal(ts) {
		t.Fatalf("round trip mismatch: %s", got)
	}
	if got := ParseTimestamp("2026-02-22T09:00:05-03:00"); !got.Equal(ts) {
		t.Fatalf("offset parse mismatch: %s", got)
	}
	if got := ParseTimestamp("not-a-time"); got.Unix() != 0 {
		t.Fatalf("expected epoch fallback, got %s", got)
	}
}
