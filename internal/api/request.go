package api

import (
	"bytes"
	"encoding/json"
	"time"

	"example.com/setlog/internal/domain"
)

// RecordLogRequest is the payload for POST /v1/logs. The client mutation ID is
// part of the body, so a replayed request reproduces the original call
// byte-for-byte, token included.
type RecordLogRequest struct {
	ExerciseID       string       `json:"exercise_id"`
	ActivityKind     string       `json:"activity_kind"`
	Note             string       `json:"note"`
	PerformedAt      time.Time    `json:"performed_at"`
	ClientMutationID string       `json:"client_mutation_id"`
	Sets             []SetPayload `json:"sets"`
}

// SetPayload is one set entry in the request.
type SetPayload struct {
	SetNumber   int             `json:"set_number"`
	Reps        *int            `json:"reps,omitempty"`
	DurationSec *int            `json:"duration_sec,omitempty"`
	DistanceM   *float64        `json:"distance_m,omitempty"`
	Side        string          `json:"side,omitempty"`
	ManualReps  bool            `json:"manual_reps,omitempty"`
	PartialReps bool            `json:"partial_reps,omitempty"`
	PerformedAt *time.Time      `json:"performed_at,omitempty"`
	FormData    FormDataPayload `json:"form_data,omitempty"`
}

// FormParameterPayload is a single named form modifier.
type FormParameterPayload struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FormDataPayload normalizes the three shapes clients send for a set's form
// parameters: key omitted, explicit null, and an empty collection all decode
// to the same "no parameters" value instead of raising a type error.
type FormDataPayload []FormParameterPayload

// UnmarshalJSON treats a JSON null as an empty collection.
func (f *FormDataPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = nil
		return nil
	}
	var params []FormParameterPayload
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return err
	}
	*f = params
	return nil
}

// toInput maps the request onto the domain input under the caller's identity.
func (r RecordLogRequest) toInput(userID string) domain.RecordLogInput {
	input := domain.RecordLogInput{
		UserID:           userID,
		ExerciseID:       r.ExerciseID,
		ActivityKind:     r.ActivityKind,
		Note:             r.Note,
		PerformedAt:      r.PerformedAt,
		ClientMutationID: r.ClientMutationID,
		Sets:             make([]domain.SetInput, 0, len(r.Sets)),
	}
	for _, set := range r.Sets {
		setInput := domain.SetInput{
			SetNumber:   set.SetNumber,
			Reps:        set.Reps,
			DurationSec: set.DurationSec,
			DistanceM:   set.DistanceM,
			Side:        domain.Side(set.Side),
			ManualReps:  set.ManualReps,
			PartialReps: set.PartialReps,
			PerformedAt: set.PerformedAt,
		}
		for _, param := range set.FormData {
			setInput.FormParameters = append(setInput.FormParameters, domain.FormParameter{
				Name:  param.Name,
				Value: param.Value,
			})
		}
		input.Sets = append(input.Sets, setInput)
	}
	return input
}

// RecordLogResponse describes the response body for record.
type RecordLogResponse struct {
	LogID     string `json:"log_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}
