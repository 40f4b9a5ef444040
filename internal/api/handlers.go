// Package api exposes HTTP handlers for the setlog backend.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/setlog/internal/auth"
	"example.com/setlog/internal/domain"
	"example.com/setlog/internal/observability"
	"example.com/setlog/internal/persistence"
)

// Failure categories reported to clients so the replay engine can decide
// between retrying and dropping an item from the retry pool.
const (
	CategoryTransient = "transient"
	CategoryPermanent = "permanent"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/logs", h.logs)
	mux.HandleFunc("/v1/logs/", h.logByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks and client
// connectivity probes.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.recordLog(w, r)
	case http.MethodGet:
		h.listLogs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", CategoryPermanent, "unsupported method")
	}
}

func (h *Handler) logByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/logs/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", CategoryPermanent, "missing log id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getLog(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", CategoryPermanent, "unsupported method")
	}
}

func (h *Handler) recordLog(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", CategoryPermanent, "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeLogsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", CategoryPermanent, "scope logs:write required")
		return
	}

	var req RecordLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", CategoryPermanent, "unable to parse body")
		return
	}

	aggregate, duplicate, err := h.service.RecordLog(r.Context(), req.toInput(claims.Subject))
	if err != nil {
		var validationErr *domain.ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeError(w, http.StatusBadRequest, "validation_failed", CategoryPermanent, validationErr.Error())
		case errors.Is(err, domain.ErrDuplicateSubmission):
			// Race loser with no readable winner row yet; resubmission is safe.
			writeError(w, http.StatusConflict, "duplicate_submission", CategoryTransient, err.Error())
		case errors.Is(err, domain.ErrPartialWriteAborted):
			writeError(w, http.StatusInternalServerError, "partial_write_aborted", CategoryTransient, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "server_error", CategoryTransient, err.Error())
		}
		return
	}

	resp := RecordLogResponse{
		LogID:     aggregate.ID,
		Status:    string(aggregate.State),
		Duplicate: duplicate,
	}

	status := http.StatusCreated
	if duplicate {
		status = http.StatusOK
		observability.RecordDuplicateSubmission()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", CategoryPermanent, "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeLogsRead) && !claims.HasScope(auth.ScopeLogsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", CategoryPermanent, "scope logs:read required")
		return
	}

	aggregate, err := h.service.GetLog(r.Context(), claims.Subject, id)
	if err != nil {
		if errors.Is(err, domain.ErrLogNotFound) {
			writeError(w, http.StatusNotFound, "not_found", CategoryPermanent, "log not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", CategoryTransient, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toLogView(*aggregate))
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", CategoryPermanent, "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeLogsRead) && !claims.HasScope(auth.ScopeLogsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", CategoryPermanent, "scope logs:read required")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", CategoryPermanent, "invalid cursor")
		return
	}

	aggregates, next, err := h.service.ListLogs(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", CategoryTransient, err.Error())
		return
	}

	items := make([]LogView, 0, len(aggregates))
	for _, agg := range aggregates {
		items = append(items, toLogView(agg))
	}

	writeJSON(w, http.StatusOK, ListLogsResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func writeError(w http.ResponseWriter, status int, code, category, detail string) {
	payload := map[string]string{
		"type":     code,
		"category": category,
		"detail":   detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toLogView(agg domain.LogAggregate) LogView {
	view := LogView{
		LogID:            agg.ID,
		UserID:           agg.UserID,
		ExerciseID:       agg.ExerciseID,
		ActivityKind:     agg.ActivityKind,
		Note:             agg.Note,
		PerformedAt:      agg.PerformedAt,
		ClientMutationID: agg.ClientMutationID,
		Status:           string(agg.State),
		CreatedAt:        agg.CreatedAt,
		UpdatedAt:        agg.UpdatedAt,
		Sets:             make([]SetView, 0, len(agg.Sets)),
	}
	for _, set := range agg.Sets {
		setView := SetView{
			SetID:       set.ID,
			SetNumber:   set.SetNumber,
			Reps:        set.Reps,
			DurationSec: set.DurationSec,
			DistanceM:   set.DistanceM,
			Side:        string(set.Side),
			ManualReps:  set.ManualReps,
			PartialReps: set.PartialReps,
			PerformedAt: set.PerformedAt,
		}
		for _, param := range set.FormParameters {
			setView.FormData = append(setView.FormData, FormParameterPayload{Name: param.Name, Value: param.Value})
		}
		view.Sets = append(view.Sets, setView)
	}
	return view
}

// LogView exposes the full log tree.
type LogView struct {
	LogID            string    `json:"log_id"`
	UserID           string    `json:"user_id"`
	ExerciseID       string    `json:"exercise_id"`
	ActivityKind     string    `json:"activity_kind,omitempty"`
	Note             string    `json:"note,omitempty"`
	PerformedAt      time.Time `json:"performed_at"`
	ClientMutationID string    `json:"client_mutation_id"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Sets             []SetView `json:"sets"`
}

// SetView exposes one set within a log.
type SetView struct {
	SetID       string                 `json:"set_id"`
	SetNumber   int                    `json:"set_number"`
	Reps        *int                   `json:"reps,omitempty"`
	DurationSec *int                   `json:"duration_sec,omitempty"`
	DistanceM   *float64               `json:"distance_m,omitempty"`
	Side        string                 `json:"side,omitempty"`
	ManualReps  bool                   `json:"manual_reps"`
	PartialReps bool                   `json:"partial_reps"`
	PerformedAt time.Time              `json:"performed_at"`
	FormData    []FormParameterPayload `json:"form_data,omitempty"`
}

// ListLogsResponse packages list results.
type ListLogsResponse struct {
	Items      []LogView `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
