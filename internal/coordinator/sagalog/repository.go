package sagalog

import "context"

// Repository persists saga log entries. The coordinator depends on this
// port, not on SQLite, so tests can swap in an in-memory recorder.
type Repository interface {
	// Save appends one row; the log is append-only, never upserted.
	Save(ctx context.Context, entry *Entry) error
}
