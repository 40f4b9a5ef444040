// Package replay drains the mutation queue against the backend whenever
// connectivity is available, preserving enqueue order.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"

	"example.com/setlog/internal/queue"
	"example.com/setlog/internal/remote"
)

// Invoker exposes the minimal remote-client surface the engine needs.
type Invoker interface {
	Invoke(ctx context.Context, name string, arguments json.RawMessage) (remote.Outcome, error)
	Supports(name string) bool
}

// ErrPassInProgress reports that a replay pass was skipped because another
// pass over the same queue is still running.
var ErrPassInProgress = errors.New("replay pass already in progress")

// Report tallies one replay pass.
type Report struct {
	Attempted  int
	Succeeded  int
	Duplicates int // succeeded via the backend's idempotency ledger
	Transient  int // left queued for a later pass
	Permanent  int // rejected by the backend, parked as failed
	Skipped    int // unknown operation names, left queued untouched
}

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithLogger overrides the logger used to report item outcomes.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine replays queued mutations strictly in enqueue order. An item is only
// removed once its replay is confirmed successful or confirmed permanently
// rejected; every ambiguous outcome stays queued, relying on the backend's
// idempotency guarantee to make resubmission safe.
type Engine struct {
	queue   *queue.Queue
	invoker Invoker
	logger  *log.Logger
	running int32
}

// NewEngine constructs an Engine over the provided queue and invoker.
func NewEngine(q *queue.Queue, invoker Invoker, opts ...Option) *Engine {
	e := &Engine{
		queue:   q,
		invoker: invoker,
		logger:  log.New(log.Writer(), "[replay] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunPass snapshots the queue and processes it once, awaiting each remote
// call before starting the next. The single-flight guard ensures overlapping
// triggers never race two in-flight replays of the same item: a second caller
// gets ErrPassInProgress instead of a concurrent pass.
func (e *Engine) RunPass(ctx context.Context) (Report, error) {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return Report{}, ErrPassInProgress
	}
	defer atomic.StoreInt32(&e.running, 0)

	var report Report

	snapshot, err := e.queue.PeekAll(ctx)
	if err != nil {
		return report, err
	}

	for _, item := range snapshot {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if !e.invoker.Supports(item.OperationName) {
			e.logger.Printf("skipping item %s: unknown operation %q", item.ID, item.OperationName)
			recordItemOutcome(item.OperationName, "skipped")
			report.Skipped++
			continue
		}

		report.Attempted++
		outcome, invokeErr := e.invoker.Invoke(ctx, item.OperationName, item.Arguments)
		if invokeErr == nil {
			if err := e.queue.Remove(ctx, item.ID); err != nil {
				return report, err
			}
			report.Succeeded++
			if outcome.Duplicate {
				report.Duplicates++
			}
			recordItemOutcome(item.OperationName, "succeeded")
			continue
		}

		var permanent *remote.PermanentError
		if errors.As(invokeErr, &permanent) {
			e.logger.Printf("item %s permanently rejected: %v", item.ID, invokeErr)
			if err := e.queue.MarkRejected(ctx, item.ID, invokeErr.Error()); err != nil {
				return report, err
			}
			report.Permanent++
			recordItemOutcome(item.OperationName, "rejected")
			continue
		}

		// Transient or ambiguous: the item stays queued. Later items still
		// attempt so one stuck mutation does not block unrelated operations.
		e.logger.Printf("item %s failed transiently (attempt %d): %v", item.ID, item.AttemptCount+1, invokeErr)
		retryable, err := e.queue.RecordFailure(ctx, item.ID)
		if err != nil {
			return report, err
		}
		if !retryable {
			e.logger.Printf("item %s exhausted its retry budget", item.ID)
		}
		report.Transient++
		recordItemOutcome(item.OperationName, "transient")
	}

	recordPass(report)
	return report, nil
}

// Watch subscribes to connectivity transitions and runs a pass each time the
// host reports the backend reachable. A signal arriving while a pass is still
// running is absorbed by the single-flight guard.
func (e *Engine) Watch(ctx context.Context, transitions <-chan bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case online, ok := <-transitions:
			if !ok {
				return nil
			}
			if !online {
				continue
			}
			report, err := e.RunPass(ctx)
			if errors.Is(err, ErrPassInProgress) {
				continue
			}
			if err != nil {
				e.logger.Printf("replay pass aborted: %v", err)
				continue
			}
			if report.Attempted > 0 || report.Skipped > 0 {
				e.logger.Printf("replay pass: %d succeeded (%d duplicates), %d transient, %d rejected, %d skipped",
					report.Succeeded, report.Duplicates, report.Transient, report.Permanent, report.Skipped)
			}
		}
	}
}
