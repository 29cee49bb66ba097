// Package redact strips credentials from loosely typed event payloads before
// they are hashed, persisted or logged.
package redact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

const (
	Mask        = "***"
	DepthMarker = "***depth_limit***"

	MaxDepth       = 8
	MaxListItems   = 200
	MaxMapKeys     = 300
	MaxStringRunes = 16000
)

var sensitiveKeyRe = regexp.MustCompile(`(?i)(token|password|passwd|pwd|cookie|authorization|secret|api[_-]?key)`)

var sensitiveValueRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{8,}\b`),
	regexp.MustCompile(`(?i)\bxox[pbars]-[A-Za-z0-9-]{8,}\b`),
}

// SensitiveKey reports whether a mapping key names a credential.
func SensitiveKey(key string) bool {
	return key != "" && sensitiveKeyRe.MatchString(key)
}

// Scrub replaces every secret-shaped substring of raw with the mask.
func Scrub(raw string) string {
	out := raw
	for _, re := range sensitiveValueRes {
		out = re.ReplaceAllString(out, Mask)
	}
	return out
}

// String redacts a single scalar string found under keyHint.
func String(raw, keyHint string) string {
	if SensitiveKey(keyHint) {
		return Mask
	}
	return Clip(Scrub(raw), MaxStringRunes)
}

// Map redacts a context mapping. The result is always a mapping: a non-map
// redaction result is wrapped under keyHint.
func Map(m map[string]any, keyHint string) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := Value(m, keyHint)
	if typed, ok := out.(map[string]any); ok {
		return typed
	}
	return map[string]any{keyHint: out}
}

// Value returns a redacted copy of v. Mappings and sequences are rebuilt, so the
// input is never mutated.
func Value(v any, keyHint string) any {
	return walk(v, keyHint, 0)
}

func walk(v any, keyHint string, depth int) any {
	if depth > MaxDepth {
		return DepthMarker
	}
	switch typed := v.(type) {
	case nil:
		return nil
	case string:
		return String(typed, keyHint)
	case bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		if SensitiveKey(keyHint) {
			return Mask
		}
		return typed
	case []any:
		return walkList(typed, keyHint, depth)
	case []string:
		items := make([]any, len(typed))
		for i := range typed {
			items[i] = typed[i]
		}
		return walkList(items, keyHint, depth)
	case map[string]any:
		return walkMap(typed, depth)
	case map[string]string:
		m := make(map[string]any, len(typed))
		for k, val := range typed {
			m[k] = val
		}
		return walkMap(m, depth)
	case error:
		return String(typed.Error(), keyHint)
	case fmt.Stringer:
		return String(typed.String(), keyHint)
	default:
		return String(fmt.Sprint(typed), keyHint)
	}
}

func walkList(items []any, keyHint string, depth int) []any {
	if len(items) > MaxListItems {
		items = items[:MaxListItems]
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, walk(item, keyHint, depth+1))
	}
	return out
}

func walkMap(m map[string]any, depth int) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > MaxMapKeys {
		keys = keys[:MaxMapKeys]
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = walk(m[k], k, depth+1)
	}
	return out
}

// Clip truncates s to at most n runes.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Text renders an arbitrary scalar as a clipped string: nil becomes "".
func Text(v any, n int) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return Clip(typed, n)
	case float64:
		return Clip(strconv.FormatFloat(typed, 'f', -1, 64), n)
	default:
		return Clip(fmt.Sprint(typed), n)
	}
}
