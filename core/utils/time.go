package utils

import (
	"strings"
	"time"
)

// TimestampLayout is the persisted UTC, second-precision form. Values in this
// layout sort lexicographically in time order.
const TimestampLayout = "2006-01-02T15:04:05Z"

func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func FormatTimestamp(t time.Time) string {
	return NormalizeTime(t).Format(TimestampLayout)
}

// ParseTimestamp accepts the persisted layout and RFC3339 variants. Unparseable
// or empty input yields the Unix epoch, so a corrupt value reads as "long ago".
func ParseTimestamp(raw string) time.Time {
	val := strings.TrimSpace(raw)
	if val == "" {
		return time.Unix(0, 0).UTC()
	}
	layouts := []string{
		TimestampLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, val); err == nil {
			return NormalizeTime(parsed)
		}
	}
	return time.Unix(0, 0).UTC()
}
