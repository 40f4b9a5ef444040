package domain

import "time"

// LogState represents the downstream processing status of an exercise log.
type LogState string

const (
	LogStatePending LogState = "pending"
	LogStateSynced  LogState = "synced"
	LogStateFailed  LogState = "failed"
)

// Side identifies which side of the body a set was performed on.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
	SideBoth  Side = "both"
)

// FormParameter is a named modifier attached to a specific set, such as a
// resistance level or support-surface type.
type FormParameter struct {
	Name  string
	Value string
}

// SetRecord is one completed set within an exercise log.
type SetRecord struct {
	ID             string
	SetNumber      int
	Reps           *int
	DurationSec    *int
	DistanceM      *float64
	Side           Side
	ManualReps     bool
	PartialReps    bool
	PerformedAt    time.Time
	FormParameters []FormParameter
}

// LogAggregate is the full exercise session tree stored in Postgres. The ID is
// server-generated and distinct from ClientMutationID, the client-generated
// idempotency token that stays constant across resubmissions.
type LogAggregate struct {
	ID               string
	UserID           string
	ExerciseID       string
	ActivityKind     string
	Note             string
	PerformedAt      time.Time
	ClientMutationID string
	State            LogState
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Sets             []SetRecord
}
