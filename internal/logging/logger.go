// Package logging provides leveled logging and run diagnostics for quicksim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A DiagnosticLogger for structured JSONL run diagnostics (<output>/diagnostics.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DiagnosticsFile is the JSONL file name written by DiagnosticLogger.
const DiagnosticsFile = "diagnostics.jsonl"

// LevelTrace is a custom slog level below Debug. At this level every
// interval weight and dropped entry is logged.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// DiagnosticLogger writes structured diagnostic events to a JSONL file.
// It is safe for concurrent use. A nil DiagnosticLogger is safe to use;
// all methods are no-ops on nil receiver.
type DiagnosticLogger struct {
	mu      sync.Mutex
	file    *os.File
	runID   string
	written int
}

// NewDiagnosticLogger creates a diagnostic logger writing to
// dir/diagnostics.jsonl. At "info" level it returns nil and no file is
// created. At "debug" or "trace" level the file is opened for append.
// Returns nil if the file cannot be opened. All methods are nil-safe.
func NewDiagnosticLogger(dir, level, runID string) *DiagnosticLogger {
	if ParseLevel(level) == slog.LevelInfo {
		return nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(dir, DiagnosticsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}

	return &DiagnosticLogger{file: f, runID: runID}
}

// Log writes a diagnostic event as a single JSONL line. "time" and, when
// set, "run_id" fields are added. The caller's map is not mutated.
func (dl *DiagnosticLogger) Log(event map[string]any) {
	if dl == nil || dl.file == nil {
		return
	}

	entry := make(map[string]any, len(event)+2)
	for k, v := range event {
		entry[k] = v
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	if dl.runID != "" {
		entry["run_id"] = dl.runID
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.file == nil {
		return
	}
	if _, err := dl.file.Write(data); err == nil {
		dl.written++
	}
}

// Written returns the number of events written so far.
func (dl *DiagnosticLogger) Written() int {
	if dl == nil {
		return 0
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.written
}

// Close closes the underlying file. Safe to call on nil receiver.
func (dl *DiagnosticLogger) Close() {
	if dl == nil {
		return
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file != nil {
		dl.file.Close()
		dl.file = nil
	}
}
