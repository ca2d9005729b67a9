// Package sagalog defines the audit trail written by the order-creation
// saga. Each phase transition appends one row, so the database answers both
// "where is saga X right now" and, via the trace_id column, "show me the
// distributed trace this row belongs to". On restart the log tells an
// operator which sagas were mid-flight when the process died.
package sagalog

import "time"

// Phase is the saga lifecycle state at the time a row is written.
type Phase string

const (
	PhaseGathering  Phase = "GATHERING"
	PhaseValidating Phase = "VALIDATING"
	PhasePersisting Phase = "PERSISTING"
	PhaseReserving  Phase = "RESERVING"
	PhaseConfirmed  Phase = "CONFIRMED"
	PhaseStockError Phase = "STOCK_ERROR"
	PhaseFailed     Phase = "FAILED"
)

// Entry is a single row in the saga_logs table: a point-in-time snapshot of
// one saga execution.
type Entry struct {
	// SagaID identifies the saga execution. The coordinator uses the
	// triggering message's correlation id, so log rows join with broker
	// traffic; once an order is persisted, OrderID joins with business data.
	SagaID string

	// OrderID is empty until the PERSISTING phase succeeds.
	OrderID string

	// Phase is the state the saga just entered.
	Phase Phase

	// Detail is a human-readable note for the transition (the failing
	// entity, the reservation outcome, ...).
	Detail string

	// Payload is the JSON-serialised request that started the saga.
	// Written once on the GATHERING row.
	Payload string

	// TraceID and SpanID come from the active OpenTelemetry span, linking
	// the row to the full distributed trace.
	TraceID string
	SpanID  string

	// UpdatedAt is the wall-clock time of this transition.
	UpdatedAt time.Time
}
