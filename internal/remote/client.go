// Package remote invokes named backend operations over HTTP and classifies
// failures so the replay engine can tell a retryable outage from a rejected
// payload.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnknownOperation is returned for operation names this client version
// does not know how to dispatch.
var ErrUnknownOperation = errors.New("unknown remote operation")

// TransientError marks outcomes worth retrying: network failures, timeouts,
// and any ambiguous result where the server-side effect is unknown. Retrying
// is safe because the backend apply is idempotent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient failure: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks submissions the backend rejected outright;
// resubmission can never succeed.
type PermanentError struct {
	Code   string
	Detail string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent rejection (%s): %s", e.Code, e.Detail)
}

// Outcome is the successful result of an invoked operation.
type Outcome struct {
	LogID     string
	Duplicate bool
}

type operation struct {
	Method string
	Path   string
}

// operations names every remote call this client version can replay.
var operations = map[string]operation{
	"log.record": {Method: http.MethodPost, Path: "/v1/logs"},
}

// OperationRecordLog is the symbolic name for the atomic apply operation.
const OperationRecordLog = "log.record"

// Client calls the backend under the caller's own bearer token.
type Client struct {
	BaseURL string
	Token   func(context.Context) (string, error)
	HTTP    *http.Client
}

// NewClient constructs a Client with sane timeouts.
func NewClient(baseURL string, token func(context.Context) (string, error)) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Supports reports whether this client version knows the operation name.
func (c *Client) Supports(name string) bool {
	_, ok := operations[name]
	return ok
}

// Invoke replays one stored mutation against the backend. The arguments are
// sent exactly as enqueued, idempotency token included.
func (c *Client) Invoke(ctx context.Context, name string, arguments json.RawMessage) (Outcome, error) {
	op, ok := operations[name]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, c.BaseURL+op.Path, bytes.NewReader(arguments))
	if err != nil {
		return Outcome{}, &PermanentError{Code: "bad_request", Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return Outcome{}, &TransientError{Err: fmt.Errorf("token source: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Outcome{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{}, &TransientError{Err: err}
	}

	if resp.StatusCode < 300 {
		var payload struct {
			LogID     string `json:"log_id"`
			Duplicate bool   `json:"duplicate"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return Outcome{}, &TransientError{Err: fmt.Errorf("undecodable success body: %w", err)}
		}
		return Outcome{LogID: payload.LogID, Duplicate: payload.Duplicate}, nil
	}

	return Outcome{}, classifyFailure(resp.StatusCode, body)
}

// Ping probes backend reachability for connectivity monitoring.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend unhealthy: %s", resp.Status)
	}
	return nil
}

// classifyFailure maps a failed response onto the retry taxonomy. The
// machine-readable category in the body wins; the status code is the
// fallback, with anything ambiguous treated as transient.
func classifyFailure(status int, body []byte) error {
	var payload struct {
		Type     string `json:"type"`
		Category string `json:"category"`
		Detail   string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Category != "" {
		if payload.Category == "permanent" {
			return &PermanentError{Code: payload.Type, Detail: payload.Detail}
		}
		return &TransientError{Err: fmt.Errorf("%s: %s", payload.Type, payload.Detail)}
	}

	if status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return &TransientError{Err: fmt.Errorf("http status %d", status)}
	}
	return &PermanentError{Code: fmt.Sprintf("http_%d", status), Detail: string(body)}
}
