package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists the queue in a local SQLite database. Writes are
// serialized through a mutex to avoid SQLite locking issues, and the
// connection runs with synchronous=FULL so every mutating call is durable
// before it returns.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// OpenSQLiteStore opens (or creates) the queue database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}

	const schema = `CREATE TABLE IF NOT EXISTS mutation_queue (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        item_id TEXT NOT NULL UNIQUE,
        user_id TEXT NOT NULL,
        operation_name TEXT NOT NULL,
        arguments TEXT NOT NULL,
        enqueued_at TEXT NOT NULL,
        attempt_count INTEGER NOT NULL DEFAULT 0,
        state TEXT NOT NULL DEFAULT 'pending',
        failure_reason TEXT NOT NULL DEFAULT ''
    );
    CREATE INDEX IF NOT EXISTS idx_mutation_queue_user ON mutation_queue(user_id, seq);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append inserts one item at the end of the queue.
func (s *SQLiteStore) Append(ctx context.Context, m Mutation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO mutation_queue (item_id, user_id, operation_name, arguments, enqueued_at, attempt_count, state, failure_reason)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.OperationName, string(m.Arguments), m.EnqueuedAt.UTC().Format(time.RFC3339Nano), m.AttemptCount, string(m.State), m.FailureReason,
	)
	return err
}

// List returns the user's items in enqueue order.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT item_id, user_id, operation_name, arguments, enqueued_at, attempt_count, state, failure_reason
        FROM mutation_queue WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Mutation
	for rows.Next() {
		var m Mutation
		var arguments, enqueuedAt, state string
		if err := rows.Scan(&m.ID, &m.UserID, &m.OperationName, &arguments, &enqueuedAt, &m.AttemptCount, &state, &m.FailureReason); err != nil {
			return nil, err
		}
		m.Arguments = json.RawMessage(arguments)
		m.State = State(state)
		if ts, parseErr := time.Parse(time.RFC3339Nano, enqueuedAt); parseErr == nil {
			m.EnqueuedAt = ts
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// Update rewrites an item's retry bookkeeping.
func (s *SQLiteStore) Update(ctx context.Context, m Mutation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
        UPDATE mutation_queue SET attempt_count = ?, state = ?, failure_reason = ? WHERE item_id = ?`,
		m.AttemptCount, string(m.State), m.FailureReason, m.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no queue row for item %s", m.ID)
	}
	return nil
}

// Delete removes one item.
func (s *SQLiteStore) Delete(ctx context.Context, itemID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM mutation_queue WHERE item_id = ?`, itemID)
	return err
}

// Clear removes all items for the user.
func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM mutation_queue WHERE user_id = ?`, userID)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
