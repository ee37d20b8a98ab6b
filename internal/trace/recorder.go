// Package trace records the scheduler's event stream for a run.
package trace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/me/kthreads/internal/logging"
	"github.com/me/kthreads/pkg/model"
)

// Recorder collects kernel events in order and assigns them sequence
// numbers. It satisfies kernel.Observer.
type Recorder struct {
	mu      sync.Mutex
	events  []model.Event
	limit   int
	dropped int64
	logger  *slog.Logger
}

// NewRecorder creates a recorder that keeps at most limit events
// (0 = unlimited). Events past the limit are counted but dropped.
func NewRecorder(limit int, logger *slog.Logger) *Recorder {
	return &Recorder{
		limit:  limit,
		logger: logging.OrDiscard(logger).With("component", "trace"),
	}
}

// Observe records e.
func (r *Recorder) Observe(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit > 0 && len(r.events) >= r.limit {
		if r.dropped == 0 {
			r.logger.Warn("trace limit reached, dropping further events", "limit", r.limit)
		}
		r.dropped++
		return
	}
	e.Seq = int64(len(r.events)) + 1
	r.events = append(r.events, e)
	if r.logger.Enabled(context.Background(), slog.LevelDebug) {
		r.logger.Debug("event", "seq", e.Seq, "tick", e.Tick, "kind", e.Kind, "thread", e.Thread, "priority", e.Priority, "detail", e.Detail)
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Dropped returns the number of events discarded past the limit.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Filter returns the recorded events of the given kinds.
func (r *Recorder) Filter(kinds ...model.EventKind) []model.Event {
	want := make(map[model.EventKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, e := range r.events {
		if want[e.Kind] {
			out = append(out, e)
		}
	}
	return out
}

// Dispatches returns the names of dispatched threads in order.
func (r *Recorder) Dispatches() []string {
	var out []string
	for _, e := range r.Filter(model.EventDispatch) {
		out = append(out, e.Thread)
	}
	return out
}

// Logs returns the messages recorded with Kernel.Log in order.
func (r *Recorder) Logs() []string {
	var out []string
	for _, e := range r.Filter(model.EventLog) {
		out = append(out, e.Detail)
	}
	return out
}
