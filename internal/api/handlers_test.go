package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/setlog/internal/auth"
	"example.com/setlog/internal/domain"
)

func writerContext(ctx context.Context) context.Context {
	return auth.WithClaims(ctx, &auth.Claims{
		Subject: "user-1",
		Scopes: map[string]struct{}{
			auth.ScopeLogsWrite: {},
		},
		ExpiresAt: time.Now().Add(time.Hour),
	})
}

func recordBody(mutationID, extra string) string {
	return fmt.Sprintf(`{
		"exercise_id": "bench-press",
		"activity_kind": "strength",
		"performed_at": "2026-03-04T18:30:00Z",
		"client_mutation_id": %q,
		"sets": [{"set_number": 1, "reps": 10%s}]
	}`, mutationID, extra)
}

func TestRecordLogCreates(t *testing.T) {
	handler := NewHandler(domain.NewService(&memoryRepo{}))

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", strings.NewReader(recordBody("tok-1", "")))
	req = req.WithContext(writerContext(req.Context()))

	rr := httptest.NewRecorder()
	handler.recordLog(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp RecordLogResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.LogID == "" {
		t.Fatal("expected log_id")
	}
	if resp.Duplicate {
		t.Fatal("first submission flagged as duplicate")
	}
}

func TestRecordLogReplayReturnsOriginal(t *testing.T) {
	handler := NewHandler(domain.NewService(&memoryRepo{}))

	send := func() (*httptest.ResponseRecorder, RecordLogResponse) {
		req := httptest.NewRequest(http.MethodPost, "/v1/logs", strings.NewReader(recordBody("tok-replay", "")))
		req = req.WithContext(writerContext(req.Context()))
		rr := httptest.NewRecorder()
		handler.recordLog(rr, req)
		var resp RecordLogResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		return rr, resp
	}

	first, firstResp := send()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", first.Code)
	}

	second, secondResp := send()
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 for replay got %d", second.Code)
	}
	if !secondResp.Duplicate {
		t.Fatal("replay must be flagged as duplicate")
	}
	if secondResp.LogID != firstResp.LogID {
		t.Fatalf("replay returned a different log: %s vs %s", secondResp.LogID, firstResp.LogID)
	}
}

func TestRecordLogValidationFailureIsPermanent(t *testing.T) {
	repo := &memoryRepo{}
	handler := NewHandler(domain.NewService(repo))

	body := recordBody("tok-bad", "") // then break the reps value
	body = strings.Replace(body, `"reps": 10`, `"reps": -1`, 1)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", strings.NewReader(body))
	req = req.WithContext(writerContext(req.Context()))

	rr := httptest.NewRecorder()
	handler.recordLog(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
	var failure map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &failure); err != nil {
		t.Fatalf("failed to decode failure body: %v", err)
	}
	if failure["type"] != "validation_failed" {
		t.Fatalf("unexpected failure type %q", failure["type"])
	}
	if failure["category"] != CategoryPermanent {
		t.Fatalf("validation failures must be permanent, got %q", failure["category"])
	}
	if len(repo.applied) != 0 {
		t.Fatal("nothing may be written for a rejected submission")
	}
}

func TestRecordLogServerFailureIsTransient(t *testing.T) {
	handler := NewHandler(domain.NewService(&memoryRepo{applyErr: domain.ErrPartialWriteAborted}))

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", strings.NewReader(recordBody("tok-err", "")))
	req = req.WithContext(writerContext(req.Context()))

	rr := httptest.NewRecorder()
	handler.recordLog(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
	var failure map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &failure); err != nil {
		t.Fatalf("failed to decode failure body: %v", err)
	}
	if failure["category"] != CategoryTransient {
		t.Fatalf("aborted writes must be retryable, got %q", failure["category"])
	}
}

func TestRecordLogFormDataShapesAreEquivalent(t *testing.T) {
	shapes := []struct {
		name  string
		extra string
	}{
		{"absent", ""},
		{"null", `, "form_data": null`},
		{"empty", `, "form_data": []`},
	}

	for _, shape := range shapes {
		t.Run(shape.name, func(t *testing.T) {
			repo := &memoryRepo{}
			handler := NewHandler(domain.NewService(repo))

			body := recordBody("tok-"+shape.name, shape.extra)
			req := httptest.NewRequest(http.MethodPost, "/v1/logs", strings.NewReader(body))
			req = req.WithContext(writerContext(req.Context()))

			rr := httptest.NewRecorder()
			handler.recordLog(rr, req)

			if rr.Code != http.StatusCreated {
				t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
			}
			if len(repo.applied) != 1 {
				t.Fatalf("expected one apply, got %d", len(repo.applied))
			}
			if got := repo.applied[0].Sets[0].FormParameters; len(got) != 0 {
				t.Fatalf("expected no form parameters, got %v", got)
			}
		})
	}
}

func TestRecordLogRequiresWriteScope(t *testing.T) {
	handler := NewHandler(domain.NewService(&memoryRepo{}))

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", strings.NewReader(recordBody("tok-scope", "")))
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		Subject:   "user-1",
		Scopes:    map[string]struct{}{auth.ScopeLogsRead: {}},
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	rr := httptest.NewRecorder()
	handler.recordLog(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestRecordLogRequiresClaims(t *testing.T) {
	handler := NewHandler(domain.NewService(&memoryRepo{}))

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", strings.NewReader(recordBody("tok-anon", "")))
	rr := httptest.NewRecorder()
	handler.recordLog(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestGetLogNotFound(t *testing.T) {
	handler := NewHandler(domain.NewService(&memoryRepo{}))

	req := httptest.NewRequest(http.MethodGet, "/v1/logs/missing", nil)
	req = req.WithContext(writerContext(req.Context()))

	rr := httptest.NewRecorder()
	handler.getLog(rr, req, "missing")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

type memoryRepo struct {
	applied  []domain.LogAggregate
	applyErr error
}

func (m *memoryRepo) FindByMutationToken(ctx context.Context, userID, clientMutationID string) (*domain.LogAggregate, error) {
	for i := range m.applied {
		if m.applied[i].UserID == userID && m.applied[i].ClientMutationID == clientMutationID {
			return &m.applied[i], nil
		}
	}
	return nil, nil
}

func (m *memoryRepo) Apply(ctx context.Context, aggregate domain.LogAggregate) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applied = append(m.applied, aggregate)
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, userID, logID string) (*domain.LogAggregate, error) {
	for i := range m.applied {
		if m.applied[i].UserID == userID && m.applied[i].ID == logID {
			return &m.applied[i], nil
		}
	}
	return nil, nil
}

func (m *memoryRepo) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.LogAggregate, *domain.Cursor, error) {
	var out []domain.LogAggregate
	for i := range m.applied {
		if m.applied[i].UserID == userID {
			out = append(out, m.applied[i])
		}
	}
	return out, nil, nil
}
