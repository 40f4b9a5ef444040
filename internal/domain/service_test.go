package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func validInput() RecordLogInput {
	reps := 10
	return RecordLogInput{
		UserID:           "user-1",
		ExerciseID:       "bench-press",
		ActivityKind:     "strength",
		PerformedAt:      time.Date(2026, time.March, 4, 18, 30, 0, 0, time.UTC),
		ClientMutationID: "token-1",
		Sets: []SetInput{
			{SetNumber: 1, Reps: &reps},
		},
	}
}

func TestRecordLogStoresTree(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo)

	stored, duplicate, err := service.RecordLog(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if duplicate {
		t.Fatal("first submission reported as duplicate")
	}
	if stored == nil || stored.ID == "" {
		t.Fatal("expected stored aggregate with generated id")
	}
	if len(repo.applied) != 1 {
		t.Fatalf("expected one apply call, got %d", len(repo.applied))
	}
	if repo.applied[0].State != LogStatePending {
		t.Fatalf("expected pending state, got %s", repo.applied[0].State)
	}
	if got := repo.applied[0].Sets[0].PerformedAt; !got.Equal(repo.applied[0].PerformedAt) {
		t.Fatalf("set without own timestamp should inherit the log's, got %s", got)
	}
}

func TestRecordLogRejectsNegativeRepsBeforeWriting(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo)

	input := validInput()
	reps := -1
	input.Sets[0].Reps = &reps

	_, _, err := service.RecordLog(context.Background(), input)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Field != "reps" {
		t.Fatalf("expected reps field, got %s", verr.Field)
	}
	if len(repo.applied) != 0 || repo.findCalls != 0 {
		t.Fatal("repository must not be touched for a malformed submission")
	}
}

func TestRecordLogValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RecordLogInput)
		field  string
	}{
		{"missing exercise", func(in *RecordLogInput) { in.ExerciseID = " " }, "exercise_id"},
		{"missing token", func(in *RecordLogInput) { in.ClientMutationID = "" }, "client_mutation_id"},
		{"no sets", func(in *RecordLogInput) { in.Sets = nil }, "sets"},
		{"zero set number", func(in *RecordLogInput) { in.Sets[0].SetNumber = 0 }, "set_number"},
		{"duplicate set number", func(in *RecordLogInput) {
			in.Sets = append(in.Sets, SetInput{SetNumber: 1})
		}, "set_number"},
		{"bad side", func(in *RecordLogInput) { in.Sets[0].Side = "upside" }, "side"},
		{"negative duration", func(in *RecordLogInput) {
			d := -5
			in.Sets[0].DurationSec = &d
		}, "duration_sec"},
		{"unnamed form parameter", func(in *RecordLogInput) {
			in.Sets[0].FormParameters = []FormParameter{{Name: "", Value: "wide"}}
		}, "form_data"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			err := input.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, verr.Field)
			}
		})
	}
}

func TestRecordLogReplaySameTokenIsIdempotent(t *testing.T) {
	repo := &stubRepo{}
	service := NewService(repo)

	first, duplicate, err := service.RecordLog(context.Background(), validInput())
	if err != nil || duplicate {
		t.Fatalf("first submission failed: dup=%v err=%v", duplicate, err)
	}

	second, duplicate, err := service.RecordLog(context.Background(), validInput())
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !duplicate {
		t.Fatal("replay with the same token must be reported as duplicate")
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different log: %s vs %s", second.ID, first.ID)
	}
	if len(repo.applied) != 1 {
		t.Fatalf("replay must not write again, got %d applies", len(repo.applied))
	}
}

func TestRecordLogLosingDuplicateRaceReturnsWinner(t *testing.T) {
	winner := LogAggregate{ID: "winner", UserID: "user-1", ClientMutationID: "token-1"}
	repo := &stubRepo{
		applyErr: ErrDuplicateSubmission,
		// The ledger pre-check misses, the insert collides, the re-read hits.
		findAfterApply: &winner,
	}
	service := NewService(repo)

	stored, duplicate, err := service.RecordLog(context.Background(), validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !duplicate {
		t.Fatal("losing the insert race must surface as a duplicate")
	}
	if stored.ID != "winner" {
		t.Fatalf("expected the winner's row, got %s", stored.ID)
	}
}

func TestRecordLogPartialWritePropagates(t *testing.T) {
	repo := &stubRepo{applyErr: ErrPartialWriteAborted}
	service := NewService(repo)

	_, _, err := service.RecordLog(context.Background(), validInput())
	if !errors.Is(err, ErrPartialWriteAborted) {
		t.Fatalf("expected partial write error, got %v", err)
	}
}

func TestGetLogNotFound(t *testing.T) {
	service := NewService(&stubRepo{})

	_, err := service.GetLog(context.Background(), "user-1", "missing")
	if !errors.Is(err, ErrLogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type stubRepo struct {
	applied        []LogAggregate
	applyErr       error
	findAfterApply *LogAggregate
	findCalls      int
}

func (s *stubRepo) FindByMutationToken(ctx context.Context, userID, clientMutationID string) (*LogAggregate, error) {
	s.findCalls++
	for i := range s.applied {
		if s.applied[i].UserID == userID && s.applied[i].ClientMutationID == clientMutationID {
			return &s.applied[i], nil
		}
	}
	if s.applyErr != nil && s.findCalls > 1 {
		return s.findAfterApply, nil
	}
	return nil, nil
}

func (s *stubRepo) Apply(ctx context.Context, aggregate LogAggregate) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, aggregate)
	return nil
}

func (s *stubRepo) Get(ctx context.Context, userID, logID string) (*LogAggregate, error) {
	for i := range s.applied {
		if s.applied[i].UserID == userID && s.applied[i].ID == logID {
			return &s.applied[i], nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]LogAggregate, *Cursor, error) {
	return nil, nil, nil
}
