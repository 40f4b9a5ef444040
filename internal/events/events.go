// Package events defines event payloads emitted by the setlog backend.
package events

import "time"

// LogRecorded is emitted when a session log is accepted and fully applied.
type LogRecorded struct {
	LogID        string    `json:"log_id"`
	UserID       string    `json:"user_id"`
	ExerciseID   string    `json:"exercise_id"`
	ActivityKind string    `json:"activity_kind"`
	PerformedAt  time.Time `json:"performed_at"`
	SetCount     int       `json:"set_count"`
	Version      string    `json:"version"`
}

// LogStateChanged tracks state transitions (pending, synced, failed) for
// optimistic UI flows.
type LogStateChanged struct {
	LogID      string    `json:"log_id"`
	UserID     string    `json:"user_id"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
	Reason     string    `json:"reason,omitempty"`
}
