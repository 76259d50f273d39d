// Package report appends one JSON line per finished turn to a log file.
//
// The report is an operational artifact: a flat record of every turn's
// outcome and headline latency, cheap to grep and cheap to ship into any log
// pipeline. Writing is best-effort; a failed append is logged and never
// disturbs the session that produced it.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mynah-ai/mynah/pkg/types"
)

// Record is one turn in the report log.
type Record struct {
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`

	// Outcome is "completed", "interrupted", or "error".
	Outcome string `json:"outcome"`

	// AgentResponseDelayMs is the delay between detected end of speech and
	// the first audio leaving the server. Zero when the turn never produced
	// audio.
	AgentResponseDelayMs int64 `json:"agent_response_delay_ms"`

	// Interrupted mirrors Outcome == "interrupted" for easy filtering.
	Interrupted bool `json:"interrupted"`
}

// Writer appends records to a JSONL file. Safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	log  *slog.Logger
	path string
}

// Open creates or opens the report file for appending.
func Open(path string, log *slog.Logger) (*Writer, error) {
	if log == nil {
		log = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report: open %q: %w", path, err)
	}
	return &Writer{f: f, log: log, path: path}, nil
}

// Append writes one record. Failures are logged, not returned; the report is
// never worth failing a turn over.
func (w *Writer) Append(rec Record) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		w.log.Warn("report: marshal failed", "error", err)
		return
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return
	}
	if _, err := w.f.Write(data); err != nil {
		w.log.Warn("report: append failed", "path", w.path, "error", err)
	}
}

// TurnHook adapts the writer to the turn controller's end-of-turn callback
// for one session.
func (w *Writer) TurnHook(sessionID, agentID string) func(outcome string, telemetry types.TurnTelemetry) {
	return func(outcome string, telemetry types.TurnTelemetry) {
		w.Append(Record{
			SessionID:            sessionID,
			AgentID:              agentID,
			Outcome:              outcome,
			AgentResponseDelayMs: telemetry.AgentResponseDelay.Milliseconds(),
			Interrupted:          outcome == "interrupted",
		})
	}
}

// Close flushes and closes the underlying file. Append calls after Close are
// dropped.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	if err != nil {
		return fmt.Errorf("report: close %q: %w", w.path, err)
	}
	return nil
}
