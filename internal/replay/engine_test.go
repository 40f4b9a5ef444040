package replay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"example.com/setlog/internal/queue"
	"example.com/setlog/internal/remote"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	return queue.New(&memStore{}, "user-1", queue.WithMaxAttempts(3))
}

// memStore is an in-process queue.Store for engine tests.
type memStore struct {
	mu    sync.Mutex
	items []queue.Mutation
}

func (s *memStore) Append(ctx context.Context, m queue.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, m)
	return nil
}

func (s *memStore) List(ctx context.Context, userID string) ([]queue.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]queue.Mutation, 0, len(s.items))
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memStore) Update(ctx context.Context, m queue.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == m.ID {
			s.items[i] = m
			return nil
		}
	}
	return errors.New("item not found")
}

func (s *memStore) Delete(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.items[:0]
	for _, item := range s.items {
		if item.ID != itemID {
			next = append(next, item)
		}
	}
	s.items = next
	return nil
}

func (s *memStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.items[:0]
	for _, item := range s.items {
		if item.UserID != userID {
			next = append(next, item)
		}
	}
	s.items = next
	return nil
}

func TestRunPassReplaysInEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for _, payload := range []string{`{"n":"A"}`, `{"n":"B"}`, `{"n":"C"}`} {
		if _, err := q.Enqueue(ctx, "log.record", json.RawMessage(payload)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	invoker := &stubInvoker{}
	engine := NewEngine(q, invoker, WithLogger(quietLogger()))

	report, err := engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if report.Succeeded != 3 {
		t.Fatalf("expected 3 successes, got %+v", report)
	}
	if len(invoker.calls) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(invoker.calls))
	}
	for i, want := range []string{"A", "B", "C"} {
		var args map[string]string
		if err := json.Unmarshal(invoker.calls[i], &args); err != nil {
			t.Fatalf("bad recorded arguments: %v", err)
		}
		if args["n"] != want {
			t.Fatalf("call %d: expected %s got %s", i, want, args["n"])
		}
	}

	remaining, _ := q.All(ctx)
	if len(remaining) != 0 {
		t.Fatalf("successful items must leave the queue, got %+v", remaining)
	}
}

func TestRunPassTransientFailureLeavesItemQueued(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "log.record", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	invoker := &stubInvoker{err: &remote.TransientError{Err: errors.New("connection refused")}}
	engine := NewEngine(q, invoker, WithLogger(quietLogger()))

	report, err := engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if report.Transient != 1 || report.Succeeded != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	pending, _ := q.PeekAll(ctx)
	if len(pending) != 1 {
		t.Fatal("transiently failed item must stay queued")
	}
	if pending[0].AttemptCount != 1 {
		t.Fatalf("attempt count not recorded: %+v", pending[0])
	}
}

func TestRunPassPermanentRejectionParksItem(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "log.record", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	invoker := &stubInvoker{err: &remote.PermanentError{Code: "validation_failed", Detail: "invalid reps"}}
	engine := NewEngine(q, invoker, WithLogger(quietLogger()))

	report, err := engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if report.Permanent != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	pending, _ := q.PeekAll(ctx)
	if len(pending) != 0 {
		t.Fatal("rejected item must leave the retry pool")
	}
	all, _ := q.All(ctx)
	if len(all) != 1 || all[0].State != queue.StateFailed {
		t.Fatalf("rejected item must be retained as failed: %+v", all)
	}
}

func TestRunPassStuckItemDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "log.record", json.RawMessage(`{"n":"fails"}`)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "log.record", json.RawMessage(`{"n":"ok"}`)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	invoker := &stubInvoker{failFirst: true}
	engine := NewEngine(q, invoker, WithLogger(quietLogger()))

	report, err := engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if report.Succeeded != 1 || report.Transient != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunPassSkipsUnknownOperations(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "log.futureOp", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	invoker := &stubInvoker{}
	engine := NewEngine(q, invoker, WithLogger(quietLogger()))

	report, err := engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if report.Skipped != 1 || report.Attempted != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(invoker.calls) != 0 {
		t.Fatal("unknown operation must not be invoked")
	}

	pending, _ := q.PeekAll(ctx)
	if len(pending) != 1 {
		t.Fatal("skipped item must stay queued for a newer client version")
	}
}

func TestRunPassCountsDuplicates(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "log.record", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	invoker := &stubInvoker{duplicate: true}
	engine := NewEngine(q, invoker, WithLogger(quietLogger()))

	report, err := engine.RunPass(ctx)
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if report.Succeeded != 1 || report.Duplicates != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	remaining, _ := q.All(ctx)
	if len(remaining) != 0 {
		t.Fatal("an already-applied item is done and must leave the queue")
	}
}

func TestRunPassSingleFlight(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "log.record", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	invoker := &stubInvoker{block: func() {
		close(started)
		<-release
	}}
	engine := NewEngine(q, invoker, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := engine.RunPass(ctx); err != nil {
			t.Errorf("pass failed: %v", err)
		}
	}()

	<-started
	if _, err := engine.RunPass(ctx); !errors.Is(err, ErrPassInProgress) {
		t.Fatalf("overlapping pass must be refused, got %v", err)
	}
	close(release)
	wg.Wait()

	if len(invoker.calls) != 1 {
		t.Fatalf("item must be replayed exactly once, got %d calls", len(invoker.calls))
	}
}

func TestWatchRunsPassOnOnlineTransition(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "log.record", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	invoker := &stubInvoker{}
	engine := NewEngine(q, invoker, WithLogger(quietLogger()))

	transitions := make(chan bool)
	done := make(chan error, 1)
	go func() {
		done <- engine.Watch(ctx, transitions)
	}()

	transitions <- false // offline, no pass
	transitions <- true  // online, replay
	close(transitions)

	if err := <-done; err != nil {
		t.Fatalf("watch returned error: %v", err)
	}
	if len(invoker.calls) != 1 {
		t.Fatalf("expected one replay, got %d", len(invoker.calls))
	}
}

func TestProberEmitsOnlyTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	healthy := false
	probe := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return nil
		}
		return errors.New("unreachable")
	}

	prober := NewProber(probe, 5*time.Millisecond)
	go prober.Run(ctx)

	// Initial state is reported once.
	if online := <-prober.Transitions(); online {
		t.Fatal("expected initial offline report")
	}

	mu.Lock()
	healthy = true
	mu.Unlock()

	if online := <-prober.Transitions(); !online {
		t.Fatal("expected online transition")
	}

	// No further signals while the state holds steady.
	select {
	case online := <-prober.Transitions():
		t.Fatalf("unexpected extra transition %v", online)
	case <-time.After(50 * time.Millisecond):
	}
}

// stubInvoker records invocations and fails on demand.
type stubInvoker struct {
	mu        sync.Mutex
	calls     []json.RawMessage
	err       error
	failFirst bool
	duplicate bool
	block     func()
}

func (s *stubInvoker) Supports(name string) bool {
	return name == "log.record"
}

func (s *stubInvoker) Invoke(ctx context.Context, name string, arguments json.RawMessage) (remote.Outcome, error) {
	if s.block != nil {
		s.block()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFirst && len(s.calls) == 0 {
		s.calls = append(s.calls, nil)
		return remote.Outcome{}, &remote.TransientError{Err: errors.New("timeout")}
	}
	if s.err != nil {
		s.calls = append(s.calls, append(json.RawMessage(nil), arguments...))
		return remote.Outcome{}, s.err
	}
	s.calls = append(s.calls, append(json.RawMessage(nil), arguments...))
	return remote.Outcome{LogID: "log-1", Duplicate: s.duplicate}, nil
}
