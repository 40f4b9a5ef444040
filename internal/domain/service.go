// Package domain defines the business logic for recording exercise sessions.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateSubmission indicates a log already exists for the submitted
	// client mutation token. Callers treat this as success, not as a failure.
	ErrDuplicateSubmission = errors.New("log already exists for client mutation token")
	// ErrLogNotFound is returned when a log cannot be located.
	ErrLogNotFound = errors.New("log not found")
	// ErrPartialWriteAborted wraps any mid-transaction failure; the store is
	// guaranteed to contain no rows from the aborted submission.
	ErrPartialWriteAborted = errors.New("log write aborted, transaction rolled back")
)

// ValidationError rejects a submission before anything is written. It maps to
// the permanent failure category: resubmitting the same payload can never
// succeed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// LogRepository captures persistence operations for the log record tree.
// Apply must write the entire tree in one transaction: parent, sets, and form
// parameters all commit together or not at all.
type LogRepository interface {
	FindByMutationToken(ctx context.Context, userID, clientMutationID string) (*LogAggregate, error)
	Apply(ctx context.Context, aggregate LogAggregate) error
	Get(ctx context.Context, userID, logID string) (*LogAggregate, error)
	ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]LogAggregate, *Cursor, error)
}

// Cursor models the pagination token for log listings.
type Cursor struct {
	PerformedAt time.Time
	ID          string
}

// Service orchestrates log workflows.
type Service struct {
	repo LogRepository
}

// NewService constructs a Service.
func NewService(repo LogRepository) *Service {
	return &Service{repo: repo}
}

// SetInput is one set entry in a record-log submission. FormParameters must
// already be normalized: callers collapse absent, null, and empty form-data
// payloads into an empty slice before reaching this layer.
type SetInput struct {
	SetNumber      int
	Reps           *int
	DurationSec    *int
	DistanceM      *float64
	Side           Side
	ManualReps     bool
	PartialReps    bool
	PerformedAt    *time.Time
	FormParameters []FormParameter
}

// RecordLogInput captures a full session-creation request.
type RecordLogInput struct {
	UserID           string
	ExerciseID       string
	ActivityKind     string
	Note             string
	PerformedAt      time.Time
	ClientMutationID string
	Sets             []SetInput
}

// Validate rejects malformed submissions before any row is written.
func (in RecordLogInput) Validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return &ValidationError{Field: "user_id", Reason: "required"}
	}
	if strings.TrimSpace(in.ExerciseID) == "" {
		return &ValidationError{Field: "exercise_id", Reason: "required"}
	}
	if strings.TrimSpace(in.ClientMutationID) == "" {
		return &ValidationError{Field: "client_mutation_id", Reason: "required"}
	}
	if in.PerformedAt.IsZero() {
		return &ValidationError{Field: "performed_at", Reason: "required"}
	}
	if len(in.Sets) == 0 {
		return &ValidationError{Field: "sets", Reason: "at least one set is required"}
	}

	seen := make(map[int]struct{}, len(in.Sets))
	for _, set := range in.Sets {
		if set.SetNumber <= 0 {
			return &ValidationError{Field: "set_number", Reason: "must be a positive integer"}
		}
		if _, dup := seen[set.SetNumber]; dup {
			return &ValidationError{Field: "set_number", Reason: fmt.Sprintf("duplicate set number %d", set.SetNumber)}
		}
		seen[set.SetNumber] = struct{}{}

		if set.Reps != nil && *set.Reps < 0 {
			return &ValidationError{Field: "reps", Reason: "must not be negative"}
		}
		if set.DurationSec != nil && *set.DurationSec < 0 {
			return &ValidationError{Field: "duration_sec", Reason: "must not be negative"}
		}
		if set.DistanceM != nil && *set.DistanceM < 0 {
			return &ValidationError{Field: "distance_m", Reason: "must not be negative"}
		}
		switch set.Side {
		case "", SideLeft, SideRight, SideBoth:
		default:
			return &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown value %q", set.Side)}
		}
		for _, param := range set.FormParameters {
			if strings.TrimSpace(param.Name) == "" {
				return &ValidationError{Field: "form_data", Reason: "parameter name is required"}
			}
		}
	}
	return nil
}

// RecordLog applies one session-creation request exactly once per client
// mutation token. The boolean result reports an idempotent replay: the log
// already existed and nothing was written.
func (s *Service) RecordLog(ctx context.Context, input RecordLogInput) (*LogAggregate, bool, error) {
	if err := input.Validate(); err != nil {
		return nil, false, err
	}

	if existing, err := s.repo.FindByMutationToken(ctx, input.UserID, input.ClientMutationID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}

	now := time.Now().UTC()
	aggregate := LogAggregate{
		ID:               uuid.NewString(),
		UserID:           input.UserID,
		ExerciseID:       input.ExerciseID,
		ActivityKind:     input.ActivityKind,
		Note:             input.Note,
		PerformedAt:      input.PerformedAt.UTC(),
		ClientMutationID: input.ClientMutationID,
		State:            LogStatePending,
		CreatedAt:        now,
		UpdatedAt:        now,
		Sets:             make([]SetRecord, 0, len(input.Sets)),
	}

	for _, set := range input.Sets {
		performedAt := aggregate.PerformedAt
		if set.PerformedAt != nil {
			performedAt = set.PerformedAt.UTC()
		}
		aggregate.Sets = append(aggregate.Sets, SetRecord{
			SetNumber:      set.SetNumber,
			Reps:           set.Reps,
			DurationSec:    set.DurationSec,
			DistanceM:      set.DistanceM,
			Side:           set.Side,
			ManualReps:     set.ManualReps,
			PartialReps:    set.PartialReps,
			PerformedAt:    performedAt,
			FormParameters: set.FormParameters,
		})
	}

	if err := s.repo.Apply(ctx, aggregate); err != nil {
		if errors.Is(err, ErrDuplicateSubmission) {
			// Lost a race against a concurrent submission with the same token.
			if existing, findErr := s.repo.FindByMutationToken(ctx, input.UserID, input.ClientMutationID); findErr == nil && existing != nil {
				return existing, true, nil
			}
			return nil, false, err
		}
		return nil, false, err
	}

	if stored, err := s.repo.Get(ctx, aggregate.UserID, aggregate.ID); err == nil && stored != nil {
		return stored, false, nil
	}
	return &aggregate, false, nil
}

// GetLog fetches a full log tree by ID.
func (s *Service) GetLog(ctx context.Context, userID, logID string) (*LogAggregate, error) {
	agg, err := s.repo.Get(ctx, userID, logID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, ErrLogNotFound
	}
	return agg, nil
}

// ListLogs fetches logs with cursor pagination, newest first.
func (s *Service) ListLogs(ctx context.Context, userID string, cursor *Cursor, limit int) ([]LogAggregate, *Cursor, error) {
	return s.repo.ListByUser(ctx, userID, cursor, limit)
}
