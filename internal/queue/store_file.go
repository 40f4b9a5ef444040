package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// queueDocument is the on-disk format: an ordered list of mutations wrapped
// in a versioned envelope so the file stays forward-readable across
// application versions.
type queueDocument struct {
	Version int               `json:"version"`
	Items   []json.RawMessage `json:"items"`
}

const queueDocumentVersion = 1

// fileEntry is the serialized form of one Mutation. Arguments are stored as
// a JSON string, not an embedded document, so the encoder can never reformat
// the enqueued bytes; replay must reproduce them exactly as given.
type fileEntry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	OperationName string    `json:"operation_name"`
	Arguments     string    `json:"arguments"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	AttemptCount  int       `json:"attempt_count"`
	State         State     `json:"state"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// decodeEntry reads one stored item. Documents written before the
// opaque-string encoding carried arguments as an inline JSON value; both
// forms load.
func decodeEntry(raw json.RawMessage) (Mutation, error) {
	var probe struct {
		fileEntry
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Mutation{}, err
	}

	args := []byte(probe.Arguments)
	if len(args) > 0 && args[0] == '"' {
		var s string
		if err := json.Unmarshal(args, &s); err != nil {
			return Mutation{}, err
		}
		args = []byte(s)
	}

	return Mutation{
		ID:            probe.ID,
		UserID:        probe.UserID,
		OperationName: probe.OperationName,
		Arguments:     args,
		EnqueuedAt:    probe.EnqueuedAt,
		AttemptCount:  probe.AttemptCount,
		State:         probe.State,
		FailureReason: probe.FailureReason,
	}, nil
}

// FileStore persists the queue as a single JSON document, rewritten in full
// on every mutating call via an atomic temp-file rename. An entry that no
// longer decodes is skipped-and-reported on load, never fatal to the rest of
// the queue.
type FileStore struct {
	path   string
	logger *log.Logger

	mu    sync.Mutex
	items []Mutation
}

// OpenFileStore loads (or creates) the queue document at path.
func OpenFileStore(path string, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &FileStore{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}

	var doc queueDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("queue document at %s is corrupt: %w", path, err)
	}

	for i, raw := range doc.Items {
		m, err := decodeEntry(raw)
		if err != nil || m.ID == "" || m.OperationName == "" {
			s.logger.Printf("queue: skipping unreadable entry %d in %s", i, path)
			continue
		}
		if m.State == "" {
			m.State = StatePending
		}
		s.items = append(s.items, m)
	}
	return s, nil
}

// Append adds one item and persists the full queue state before returning.
func (s *FileStore) Append(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append(append([]Mutation(nil), s.items...), m)
	if err := s.persist(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// List returns the user's items in enqueue order.
func (s *FileStore) List(ctx context.Context, userID string) ([]Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Mutation, 0, len(s.items))
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, nil
}

// Update rewrites an item's retry bookkeeping.
func (s *FileStore) Update(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append([]Mutation(nil), s.items...)
	for i := range next {
		if next[i].ID == m.ID {
			next[i] = m
			if err := s.persist(next); err != nil {
				return err
			}
			s.items = next
			return nil
		}
	}
	return fmt.Errorf("no queue entry for item %s", m.ID)
}

// Delete removes one item.
func (s *FileStore) Delete(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Mutation, 0, len(s.items))
	for _, item := range s.items {
		if item.ID != itemID {
			next = append(next, item)
		}
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// Clear removes all items for the user.
func (s *FileStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Mutation, 0, len(s.items))
	for _, item := range s.items {
		if item.UserID != userID {
			next = append(next, item)
		}
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// persist writes the whole document durably: temp file, fsync, rename, then
// fsync of the directory so the rename itself survives a power loss.
func (s *FileStore) persist(items []Mutation) error {
	doc := queueDocument{Version: queueDocumentVersion, Items: make([]json.RawMessage, 0, len(items))}
	for _, item := range items {
		raw, err := json.Marshal(fileEntry{
			ID:            item.ID,
			UserID:        item.UserID,
			OperationName: item.OperationName,
			Arguments:     string(item.Arguments),
			EnqueuedAt:    item.EnqueuedAt,
			AttemptCount:  item.AttemptCount,
			State:         item.State,
			FailureReason: item.FailureReason,
		})
		if err != nil {
			return err
		}
		doc.Items = append(doc.Items, raw)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".queue-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
