package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")

	store, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	q := New(store, "user-1")

	idA, err := q.Enqueue(ctx, "log.record", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	idB, err := q.Enqueue(ctx, "log.record", json.RawMessage(`{"n":2}`))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Simulate an app restart: a fresh store loads from the same file.
	reopened, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	items, err := New(reopened, "user-1").PeekAll(ctx)
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if len(items) != 2 || items[0].ID != idA || items[1].ID != idB {
		t.Fatalf("reopened queue lost order or items: %+v", items)
	}
	if string(items[0].Arguments) != `{"n":1}` {
		t.Fatalf("arguments not preserved: %s", items[0].Arguments)
	}
}

func TestFileStorePreservesArgumentBytes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")

	store, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	q := New(store, "user-1")

	// Interior whitespace must survive the round trip untouched; a JSON
	// encoder that reformats the stored document would alter these bytes.
	spaced := `{ "client_mutation_id": "tok-1",  "n": 1 }`
	id, err := q.Enqueue(ctx, "log.record", json.RawMessage(spaced))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	reopened, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	items, err := New(reopened, "user-1").PeekAll(ctx)
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("reopened queue lost the item: %+v", items)
	}
	if string(items[0].Arguments) != spaced {
		t.Fatalf("arguments rewritten on disk: got %s, want %s", items[0].Arguments, spaced)
	}
}

func TestFileStoreSkipsUnreadableEntries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")

	doc := map[string]interface{}{
		"version": 1,
		"items": []json.RawMessage{
			json.RawMessage(`{"id":"good-1","user_id":"user-1","operation_name":"log.record","arguments":{},"state":"pending"}`),
			json.RawMessage(`{"unknown_shape":true}`),
			json.RawMessage(`{"id":"good-2","user_id":"user-1","operation_name":"log.record","arguments":{},"state":"pending"}`),
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var buf bytes.Buffer
	store, err := OpenFileStore(path, log.New(&buf, "", 0))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	items, err := New(store, "user-1").PeekAll(ctx)
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if len(items) != 2 || items[0].ID != "good-1" || items[1].ID != "good-2" {
		t.Fatalf("readable entries must survive: %+v", items)
	}
	if !strings.Contains(buf.String(), "skipping unreadable entry") {
		t.Fatalf("skipped entry must be reported, log was: %q", buf.String())
	}
}

func TestFileStoreMissingStateDefaultsToPending(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")

	doc := `{"version":1,"items":[{"id":"old-1","user_id":"user-1","operation_name":"log.record","arguments":{}}]}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	store, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	items, err := New(store, "user-1").PeekAll(ctx)
	if err != nil {
		t.Fatalf("peek failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("entry written by an older version must still replay, got %+v", items)
	}
}

func TestFileStoreDeleteAndUpdatePersist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")

	store, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	q := New(store, "user-1", WithMaxAttempts(1))

	idA, _ := q.Enqueue(ctx, "log.record", json.RawMessage(`{"n":1}`))
	idB, _ := q.Enqueue(ctx, "log.record", json.RawMessage(`{"n":2}`))

	if err := q.Remove(ctx, idA); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := q.RecordFailure(ctx, idB); err != nil {
		t.Fatalf("record failure failed: %v", err)
	}

	reopened, err := OpenFileStore(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	items, err := New(reopened, "user-1").All(ctx)
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != idB {
		t.Fatalf("expected only the failed item to remain, got %+v", items)
	}
	if items[0].State != StateFailed || items[0].AttemptCount != 1 {
		t.Fatalf("retry bookkeeping not persisted: %+v", items[0])
	}
}
