// Package sqlite is the SQLite-backed sagalog.Repository.
//
// WAL mode is enabled on Open so readers never block writers: the saga
// goroutines write while the HTTP surface may be reading for a status view.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jcortesdev/microcommerce/internal/coordinator/sagalog"

	// Pure-Go SQLite driver; no CGO, so the services build on Alpine images.
	_ "modernc.org/sqlite"
)

// The table is append-only: each row is an immutable event in a saga's
// lifecycle. MAX(updated_at) per saga_id gives the current phase.
const schema = `
CREATE TABLE IF NOT EXISTS saga_logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,

    -- Correlation id of the triggering message; one saga, many rows.
    saga_id     TEXT NOT NULL,

    -- Order id, empty until the order is persisted.
    order_id    TEXT NOT NULL DEFAULT '',

    -- Phase the saga entered when this row was written.
    phase       TEXT NOT NULL,

    detail      TEXT NOT NULL DEFAULT '',

    -- JSON request that started the saga. Written once, NULL afterwards.
    payload     TEXT,

    -- W3C identifiers of the active OTel span.
    trace_id    TEXT NOT NULL DEFAULT '',
    span_id     TEXT NOT NULL DEFAULT '',

    -- RFC3339 stored as TEXT, the SQLite idiom.
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_logs_saga_id ON saga_logs(saga_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_saga_logs_order_id ON saga_logs(order_id);
CREATE INDEX IF NOT EXISTS idx_saga_logs_trace_id ON saga_logs(trace_id);
`

type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Repository, error) {
	// _pragma query params configure each connection: WAL for concurrent
	// readers, busy_timeout to wait on locks instead of failing.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Save inserts one saga log row. Safe for concurrent use.
func (r *Repository) Save(ctx context.Context, entry *sagalog.Entry) error {
	const q = `
		INSERT INTO saga_logs
			(saga_id, order_id, phase, detail, payload, trace_id, span_id, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, q,
		entry.SagaID,
		entry.OrderID,
		string(entry.Phase),
		entry.Detail,
		nullableString(entry.Payload),
		entry.TraceID,
		entry.SpanID,
		entry.UpdatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z"),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save saga log for %q: %w", entry.SagaID, err)
	}
	return nil
}

// GetLatest returns the most recent entry for a saga id.
func (r *Repository) GetLatest(ctx context.Context, sagaID string) (*sagalog.Entry, error) {
	const q = `
		SELECT saga_id, order_id, phase, detail, COALESCE(payload,''), trace_id, span_id, updated_at
		FROM   saga_logs
		WHERE  saga_id = ?
		ORDER  BY updated_at DESC, id DESC
		LIMIT  1`

	row := r.db.QueryRowContext(ctx, q, sagaID)

	var entry sagalog.Entry
	var updatedAt string
	err := row.Scan(
		&entry.SagaID,
		&entry.OrderID,
		&entry.Phase,
		&entry.Detail,
		&entry.Payload,
		&entry.TraceID,
		&entry.SpanID,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: saga %q not found", sagaID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get latest for %q: %w", sagaID, err)
	}

	entry.UpdatedAt, err = parseRFC3339(updatedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// parseRFC3339 parses the timestamp TEXT stored in SQLite, which has no
// native datetime type.
func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

// nullableString maps "" to NULL so non-initial rows keep a clean payload
// column.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
