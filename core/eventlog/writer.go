// Package eventlog is the local append-only JSONL log the producers write to,
// plus the hooks that turn error lines into incident registrations.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"incident-engine/core/redact"
	"incident-engine/core/utils"
)

const (
	defaultTailLimit = 200
	maxTailLimit     = 1000
	maxLineBytes     = 4 << 20
)

type Entry struct {
	Level   string
	TraceID string
	Stage   string
	Event   string
	Meta    map[string]any
}

type Writer struct {
	dir    string
	app    string
	logger *utils.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewWriter(dir, app string, logger *utils.Logger) *Writer {
	if strings.TrimSpace(app) == "" {
		app = "app"
	}
	return &Writer{dir: dir, app: app, logger: logger, now: time.Now}
}

func (w *Writer) fileFor(ts time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl", w.app, ts.UTC().Format("2006-01-02")))
}

// Write redacts the whole entry and appends it as one JSON line.
func (w *Writer) Write(entry Entry) (map[string]any, error) {
	if w == nil {
		return nil, errors.New("nil event log writer")
	}
	now := utils.NormalizeTime(w.now())
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	payload := redact.Map(map[string]any{
		"ts":       utils.FormatTimestamp(now),
		"app":      w.app,
		"level":    entry.Level,
		"trace_id": entry.TraceID,
		"stage":    entry.Stage,
		"event":    entry.Event,
		"meta":     meta,
	}, "root")
	line, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode log entry: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	f, err := os.OpenFile(w.fileFor(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("append log line: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	if w.logger != nil {
		w.logger.Printf("%s", line)
	}
	return payload, nil
}

type TailFilter struct {
	VideoID string
	OrderID string
	TraceID string
	Limit   int
}

// Tail returns the newest matching lines across all daily files. Lines that do
// not decode are skipped.
func (w *Writer) Tail(ctx context.Context, filter TailFilter) ([]map[string]any, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTailLimit
	}
	if limit > maxTailLimit {
		limit = maxTailLimit
	}
	files, err := filepath.Glob(filepath.Join(w.dir, w.app+"-*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	out := make([]map[string]any, 0, limit)
	for _, path := range files {
		if len(out) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, err := readLines(path)
		if err != nil {
			return nil, err
		}
		for i := len(lines) - 1; i >= 0 && len(out) < limit; i-- {
			var item map[string]any
			if err := json.Unmarshal([]byte(lines[i]), &item); err != nil {
				continue
			}
			if !filter.matches(item) {
				continue
			}
			out = append(out, item)
		}
	}
	return out, nil
}

func (f TailFilter) matches(item map[string]any) bool {
	meta, _ := item["meta"].(map[string]any)
	if f.VideoID != "" && redact.Text(meta["video_id"], 160) != f.VideoID {
		return false
	}
	if f.OrderID != "" && redact.Text(meta["order_id"], 160) != f.OrderID {
		return false
	}
	if f.TraceID != "" && redact.Text(item["trace_id"], 160) != f.TraceID {
		return false
	}
	return true
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	var lines []string
	for scanner.Scan() {
		if text := strings.TrimSpace(scanner.Text()); text != "" {
			lines = append(lines, text)
		}
	}
	return lines, scanner.Err()
}
