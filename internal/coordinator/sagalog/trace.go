package sagalog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// NewEntry builds a log entry for one phase transition, stamping the otel
// trace and span ids from ctx when a span is active (in tests there usually
// is none; the fields stay empty).
func NewEntry(ctx context.Context, sagaID, orderID string, phase Phase, detail, payload string) *Entry {
	entry := &Entry{
		SagaID:    sagaID,
		OrderID:   orderID,
		Phase:     phase,
		Detail:    detail,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}

	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}
	return entry
}
