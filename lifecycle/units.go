package lifecycle

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// DefaultUnitsCapacity is how many ended spans Units remembers by default.
const DefaultUnitsCapacity = 4096

var _ sdktrace.SpanProcessor = (*Units)(nil)

// Units remembers which spans recently ended, so a datastore operation that
// completes after its enclosing unit of work can be told apart from one that
// completes in time.
//
// Register it on the tracer provider:
//
//	units := lifecycle.NewUnits(0)
//	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(units), ...)
//
// Memory is bounded: only the last capacity ended spans are remembered, and a
// span that is not remembered is assumed to be live.
type Units struct {
	mu    sync.Mutex
	ended map[trace.SpanID]struct{}
	ring  []trace.SpanID
	next  int
}

// NewUnits creates a store remembering up to capacity ended spans.
// A non-positive capacity selects DefaultUnitsCapacity.
func NewUnits(capacity int) *Units {
	if capacity <= 0 {
		capacity = DefaultUnitsCapacity
	}
	return &Units{
		ended: make(map[trace.SpanID]struct{}, capacity),
		ring:  make([]trace.SpanID, capacity),
	}
}

// OnStart implements sdktrace.SpanProcessor.
func (u *Units) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd implements sdktrace.SpanProcessor.
func (u *Units) OnEnd(s sdktrace.ReadOnlySpan) {
	id := s.SpanContext().SpanID()
	if !id.IsValid() {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.ended[id]; ok {
		return
	}
	if old := u.ring[u.next]; old.IsValid() {
		delete(u.ended, old)
	}
	u.ring[u.next] = id
	u.ended[id] = struct{}{}
	u.next = (u.next + 1) % len(u.ring)
}

// Shutdown implements sdktrace.SpanProcessor.
func (u *Units) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdktrace.SpanProcessor.
func (u *Units) ForceFlush(context.Context) error { return nil }

// Ended reports whether the span with the given id is known to have ended.
func (u *Units) Ended(id trace.SpanID) bool {
	if u == nil || !id.IsValid() {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.ended[id]
	return ok
}
