// Package persistence holds helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"example.com/setlog/internal/domain"
)

// cursorPayload is the wire form of a pagination token. The token is opaque
// to clients; only the field keys are stable.
type cursorPayload struct {
	PerformedAt time.Time `json:"t"`
	LogID       string    `json:"id"`
}

// EncodeCursor turns a keyset cursor into an opaque token. A nil cursor
// encodes to the empty string, meaning no further pages.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw, err := json.Marshal(cursorPayload{PerformedAt: c.PerformedAt.UTC(), LogID: c.ID})
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token
// decodes to nil, meaning start from the newest entry.
func DecodeCursor(token string) (*domain.Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	if payload.LogID == "" || payload.PerformedAt.IsZero() {
		return nil, fmt.Errorf("malformed cursor: missing fields")
	}
	return &domain.Cursor{PerformedAt: payload.PerformedAt, ID: payload.LogID}, nil
}
