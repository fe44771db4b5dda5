package lifecycle

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-mysql/metadata"
)

// Handle is the open span of one operation.
//
// A nil Handle is valid and does nothing; Begin returns one when there is no
// unit of work.
type Handle struct {
	m         *Manager
	span      trace.Span
	unit      trace.SpanID
	name      string
	operation string
	start     time.Time
	finished  atomic.Bool
}

// Span returns the underlying span, or a non-recording span for a nil Handle.
func (h *Handle) Span() trace.Span {
	if h == nil {
		return trace.SpanFromContext(context.Background())
	}
	return h.span
}

// Name returns the span name as opened.
func (h *Handle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// Annotate records instance attributes learned after the span opened, such
// as the group a cluster acquisition resolved to.
func (h *Handle) Annotate(info metadata.Info) {
	if h == nil {
		return
	}
	h.span.SetAttributes(h.m.instanceAttributes(info)...)
}

// SetAttributes records extra attributes on the span.
func (h *Handle) SetAttributes(kv ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.span.SetAttributes(kv...)
}

// Finished reports whether Finish already ran.
func (h *Handle) Finished() bool {
	return h != nil && h.finished.Load()
}

// Discard abandons the span without ending it, so it is never exported.
// It is for calls the driver declined (driver.ErrSkip) and database/sql
// retries another way, which opens its own span.
func (h *Handle) Discard() {
	if h == nil || !h.finished.CompareAndSwap(false, true) {
		return
	}
	h.m.stats.started.Add(-1)
}

// Finish ends the span, recording err if non-nil.
//
// Only the first call has effect. Later calls are counted as double finishes
// and logged at warn level.
func (h *Handle) Finish(err error) {
	if h == nil {
		return
	}

	ctx := context.Background()
	m := h.m

	if !h.finished.CompareAndSwap(false, true) {
		m.stats.doubleFinished.Add(1)
		m.metrics.recordDoubleFinish(ctx, m.baseAttributes())
		m.logger.Warn().
			Str("span", h.name).
			AnErr("finish_error", err).
			Msg("datastore span finished more than once")
		return
	}

	if err != nil {
		h.span.RecordError(err)
		h.span.SetStatus(codes.Error, err.Error())
	}

	if m.units.Ended(h.unit) {
		h.span.SetName(TruncatedPrefix + h.name)
		h.span.SetAttributes(attribute.Bool(AttrTruncated, true))
		m.stats.orphaned.Add(1)
		m.metrics.recordOrphaned(ctx, m.baseAttributes())
		m.logger.Debug().
			Str("span", h.name).
			Str("unit_span_id", h.unit.String()).
			Msg("datastore span finished after its unit of work ended")
	}

	m.metrics.recordDuration(ctx, time.Since(h.start), h.operation, m.baseAttributes(), err)
	h.span.End()
	m.stats.finished.Add(1)
}
