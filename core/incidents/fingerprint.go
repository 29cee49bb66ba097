package incidents

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"incident-engine/core/redact"
)

const (
	fingerprintTypeCap    = 120
	fingerprintMessageCap = 1600
	fingerprintStackCap   = 6000
	fingerprintHexLen     = 24
	fallbackPrimaryKeys   = 8
)

var primaryContextKeys = []string{"stage", "event", "path", "route", "platform", "source", "reason", "code", "error_code"}

var correlationKeys = map[string]struct{}{
	"request_id":      {},
	"requestId":       {},
	"trace_id":        {},
	"traceId":         {},
	"run_id":          {},
	"runId":           {},
	"http_request_id": {},
}

// Fingerprint hashes the stable part of a failure signature. Inputs are
// redacted before capping, so a raw secret and its mask hash the same.
// Correlation ids never contribute, so retries of the same failure collapse
// onto one incident.
func Fingerprint(errorType, message, stack string, context map[string]any) string {
	primary, err := json.Marshal(PrimaryContext(redact.Map(context, "context")))
	if err != nil {
		primary = []byte("{}")
	}
	raw := strings.Join([]string{
		redact.Clip(redact.String(errorType, "error_type"), fingerprintTypeCap),
		redact.Clip(redact.String(message, "message"), fingerprintMessageCap),
		redact.Clip(redact.Scrub(stack), fingerprintStackCap),
		string(primary),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:fingerprintHexLen]
}

// PrimaryContext selects the context keys that identify where a failure
// happened.
func PrimaryContext(context map[string]any) map[string]any {
	out := map[string]any{}
	for _, key := range primaryContextKeys {
		if v, ok := context[key]; ok && !emptyValue(v) {
			out[key] = v
		}
	}
	if len(out) > 0 {
		return out
	}
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(out) == fallbackPrimaryKeys {
			break
		}
		if _, skip := correlationKeys[k]; skip {
			continue
		}
		if emptyValue(context[k]) {
			continue
		}
		out[k] = context[k]
	}
	return out
}

func emptyValue(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	}
	return false
}
