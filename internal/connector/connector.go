// Package connector pulls raw settlement rows from external sources into
// the staging store and runs the worker's periodic maintenance loop.
package connector

import (
	"context"
	"sync"
	"time"

	"github.com/settleline-recon-engine/internal/domain/shared"
	"github.com/settleline-recon-engine/internal/domain/staging"
)

// Fetcher pulls one source's rows for a settlement cycle
type Fetcher interface {
	// Name identifies the source in logs, metrics and run history
	Name() string
	// Side reports which reconciliation side the source feeds
	Side() shared.SourceSide
	// Fetch returns the raw rows for the cycle date (YYYY-MM-DD)
	Fetch(ctx context.Context, cycleDate string) ([]*staging.RawRow, error)
}

// RunRecord is one entry of a source's fetch history
type RunRecord struct {
	StartedAt time.Time
	Duration  time.Duration
	Rows      int
	Err       string // empty on success
}

// History is a fixed-size ring of the most recent fetch runs per source.
// Safe for concurrent use.
type History struct {
	mu      sync.Mutex
	size    int
	records map[string][]RunRecord
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{
		size:    size,
		records: make(map[string][]RunRecord),
	}
}

// Record appends a run, evicting the oldest once the ring is full
func (h *History) Record(source string, rec RunRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	runs := append(h.records[source], rec)
	if len(runs) > h.size {
		runs = runs[len(runs)-h.size:]
	}
	h.records[source] = runs
}

// Snapshot returns a copy of a source's run history, oldest first
func (h *History) Snapshot(source string) []RunRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	runs := h.records[source]
	out := make([]RunRecord, len(runs))
	copy(out, runs)
	return out
}

// LastError returns the error of the most recent run, empty when the last
// run succeeded or no run happened yet
func (h *History) LastError(source string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	runs := h.records[source]
	if len(runs) == 0 {
		return ""
	}
	return runs[len(runs)-1].Err
}

// HealthState grades a source by its recent fetch runs
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// Health is the client-facing snapshot for one source
type Health struct {
	Source    string            `json:"source"`
	Side      shared.SourceSide `json:"side"`
	State     HealthState       `json:"state"`
	LastRunAt *time.Time        `json:"last_run_at,omitempty"`
	LastRows  int               `json:"last_rows,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	Hint      string            `json:"hint,omitempty"`
}

// HealthFor grades one source from its run history: the last run decides
// healthy vs not, and a window with zero successes is unhealthy
func (h *History) HealthFor(source string, side shared.SourceSide) Health {
	runs := h.Snapshot(source)
	out := Health{Source: source, Side: side, State: HealthHealthy}
	if len(runs) == 0 {
		out.State = HealthDegraded
		out.Hint = "no fetch has completed yet"
		return out
	}
	last := runs[len(runs)-1]
	started := last.StartedAt
	out.LastRunAt = &started
	out.LastRows = last.Rows
	out.LastError = last.Err
	if last.Err == "" {
		return out
	}
	for _, r := range runs {
		if r.Err == "" {
			out.State = HealthDegraded
			out.Hint = "last fetch failed, earlier runs in the window succeeded"
			return out
		}
	}
	out.State = HealthUnhealthy
	out.Hint = "every recent fetch failed, check source availability and credentials"
	return out
}

// StaticFetcher serves a fixed row set. Used in tests and local setups
// where no upstream source is reachable.
type StaticFetcher struct {
	name string
	side shared.SourceSide
	rows []*staging.RawRow
	err  error
}

func NewStaticFetcher(name string, side shared.SourceSide, rows []*staging.RawRow, err error) *StaticFetcher {
	return &StaticFetcher{name: name, side: side, rows: rows, err: err}
}

func (f *StaticFetcher) Name() string            { return f.name }
func (f *StaticFetcher) Side() shared.SourceSide { return f.side }

func (f *StaticFetcher) Fetch(ctx context.Context, cycleDate string) ([]*staging.RawRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*staging.RawRow, len(f.rows))
	copy(out, f.rows)
	return out, nil
}
