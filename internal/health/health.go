// Package health serves the ops liveness and readiness endpoints of the
// voice server.
//
//   - /healthz: liveness; a process that can still serve HTTP answers 200.
//   - /readyz:  readiness; runs every registered probe and answers 200 only
//     while the server can accept new voice sessions.
//
// Probes run concurrently so one slow dependency cannot starve the rest of
// the report. A failing probe marked [Checker.Optional] degrades the report
// without taking the server out of rotation: sessions can run without
// retrieval, they cannot run without their agent definitions.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds a single readiness probe. Probes race each other, so
// the whole /readyz request is bounded by the slowest probe, not the sum.
const probeTimeout = 5 * time.Second

// Checker is one named readiness probe.
type Checker struct {
	// Name labels the probe in the JSON report (e.g. "database", "agents").
	Name string

	// Optional marks a capability sessions can run without. A failing
	// optional probe reports status "degraded" but keeps /readyz at 200.
	Optional bool

	// Check probes the dependency. It must respect ctx cancellation.
	Check func(ctx context.Context) error
}

// probeResult is the per-probe entry in the readiness report.
type probeResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// report is the JSON body served by both endpoints. Status is "ok",
// "degraded", or "fail".
type report struct {
	Status string                 `json:"status"`
	Checks map[string]probeResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. Safe for concurrent use; the probe
// list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New creates a Handler that runs the given probes on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe concurrently, each under its own probeTimeout
// derived from the request context, and aggregates:
//
//	all pass                      -> 200 "ok"
//	only optional probes failing  -> 200 "degraded"
//	any required probe failing    -> 503 "fail"
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]probeResult, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			res := probeResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			results[i] = res
		}()
	}
	wg.Wait()

	rep := report{Status: "ok", Checks: make(map[string]probeResult, len(h.checkers))}
	code := http.StatusOK
	for i, c := range h.checkers {
		rep.Checks[c.Name] = results[i]
		if results[i].Status != "fail" {
			continue
		}
		if c.Optional {
			if rep.Status == "ok" {
				rep.Status = "degraded"
			}
		} else {
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, rep)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
