// Package queue durably buffers write intents on the client so no user action
// is lost across an app restart or loss of connectivity.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State tracks an item's position in its retry lifecycle.
type State string

const (
	// StatePending items are awaiting replay.
	StatePending State = "pending"
	// StateFailed items exhausted their retry budget or were permanently
	// rejected by the backend. They are retained and reported, never
	// auto-discarded.
	StateFailed State = "failed"
)

var (
	// ErrPersistenceUnavailable means a write intent could not be durably
	// recorded. It must be surfaced to the user: swallowing it is data loss.
	ErrPersistenceUnavailable = errors.New("mutation queue storage unavailable")
	// ErrNotFound is returned when a queue item id does not exist.
	ErrNotFound = errors.New("queue item not found")
)

// Mutation is one buffered write intent. Arguments are immutable once
// enqueued: replay reproduces the original call byte-for-byte, including the
// client-generated idempotency token embedded in it.
type Mutation struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	OperationName string          `json:"operation_name"`
	Arguments     json.RawMessage `json:"arguments"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	AttemptCount  int             `json:"attempt_count"`
	State         State           `json:"state"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Store persists the queue. Implementations must make every mutating call
// durable before returning, so a crash immediately after Append still leaves
// the item recoverable on next load.
type Store interface {
	Append(ctx context.Context, m Mutation) error
	List(ctx context.Context, userID string) ([]Mutation, error)
	Update(ctx context.Context, m Mutation) error
	Delete(ctx context.Context, itemID string) error
	Clear(ctx context.Context, userID string) error
}

// DefaultMaxAttempts is the retry ceiling before an item is parked as failed.
const DefaultMaxAttempts = 8

// Queue is the durable mutation queue for a single user. It is never shared
// across users; Clear must be called on sign-out.
type Queue struct {
	store       Store
	userID      string
	maxAttempts int
}

// Option configures optional behaviour for the Queue.
type Option func(*Queue)

// WithMaxAttempts overrides the retry ceiling.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// New constructs a Queue bound to one user over the provided store.
func New(store Store, userID string, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		userID:      userID,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a write intent to the end of the persisted queue and
// returns its queue item id.
func (q *Queue) Enqueue(ctx context.Context, operationName string, arguments json.RawMessage) (string, error) {
	if operationName == "" {
		return "", errors.New("operation name is required")
	}
	if len(arguments) == 0 || !json.Valid(arguments) {
		return "", errors.New("arguments must be valid JSON")
	}

	m := Mutation{
		ID:            uuid.NewString(),
		UserID:        q.userID,
		OperationName: operationName,
		Arguments:     append(json.RawMessage(nil), arguments...),
		EnqueuedAt:    time.Now().UTC(),
		State:         StatePending,
	}

	if err := q.store.Append(ctx, m); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	recordEnqueued(operationName)
	return m.ID, nil
}

// PeekAll returns a non-destructive ordered snapshot of the items still
// awaiting replay.
func (q *Queue) PeekAll(ctx context.Context) ([]Mutation, error) {
	items, err := q.store.List(ctx, q.userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	pending := make([]Mutation, 0, len(items))
	for _, item := range items {
		if item.State == StatePending {
			pending = append(pending, item)
		}
	}
	updateDepthGauge(len(pending))
	return pending, nil
}

// All returns every retained item, including parked failures, for status
// reporting.
func (q *Queue) All(ctx context.Context) ([]Mutation, error) {
	items, err := q.store.List(ctx, q.userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return items, nil
}

// Remove deletes one entry after its replay was confirmed successful.
func (q *Queue) Remove(ctx context.Context, itemID string) error {
	if err := q.store.Delete(ctx, itemID); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

// RecordFailure increments the item's attempt count. Past the ceiling the
// item is retained but parked as failed so it stops consuming retry passes.
// The returned boolean reports whether the item is still retryable.
func (q *Queue) RecordFailure(ctx context.Context, itemID string) (bool, error) {
	item, err := q.find(ctx, itemID)
	if err != nil {
		return false, err
	}

	item.AttemptCount++
	retryable := item.AttemptCount < q.maxAttempts
	if !retryable {
		item.State = StateFailed
		item.FailureReason = fmt.Sprintf("retry budget exhausted after %d attempts", item.AttemptCount)
	}

	if err := q.store.Update(ctx, *item); err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return retryable, nil
}

// MarkRejected parks an item the backend permanently rejected. It leaves the
// retry pool but stays queued with the rejection reason so the user can
// re-enter the data manually.
func (q *Queue) MarkRejected(ctx context.Context, itemID, reason string) error {
	item, err := q.find(ctx, itemID)
	if err != nil {
		return err
	}

	item.State = StateFailed
	item.FailureReason = reason
	if err := q.store.Update(ctx, *item); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

// Clear wipes the user's queue. Called on sign-out so buffered writes never
// leak across users sharing a device.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.store.Clear(ctx, q.userID); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	updateDepthGauge(0)
	return nil
}

func (q *Queue) find(ctx context.Context, itemID string) (*Mutation, error) {
	items, err := q.store.List(ctx, q.userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	for i := range items {
		if items[i].ID == itemID {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, itemID)
}
