package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestUnits_Ended(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		spans    int
		probe    int
		want     bool
	}{
		{
			name:     "given ended span within capacity, then reports ended",
			capacity: 4,
			spans:    3,
			probe:    0,
			want:     true,
		},
		{
			name:     "given ended span evicted by newer spans, then assumes live",
			capacity: 2,
			spans:    3,
			probe:    0,
			want:     false,
		},
		{
			name:     "given most recent span, then reports ended",
			capacity: 2,
			spans:    3,
			probe:    2,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units := NewUnits(tt.capacity)
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(units))
			defer tp.Shutdown(context.Background())

			tracer := tp.Tracer("test")
			ids := make([]trace.SpanID, tt.spans)
			for i := range ids {
				_, span := tracer.Start(context.Background(), "span")
				ids[i] = span.SpanContext().SpanID()
				span.End()
			}

			assert.Equal(t, tt.want, units.Ended(ids[tt.probe]))
		})
	}
}

func TestUnits_LiveSpan(t *testing.T) {
	units := NewUnits(0)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(units))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "span")

	assert.False(t, units.Ended(span.SpanContext().SpanID()))
	span.End()
	assert.True(t, units.Ended(span.SpanContext().SpanID()))
}

func TestUnits_Nil(t *testing.T) {
	var units *Units

	assert.False(t, units.Ended(trace.SpanID{1}))
}
