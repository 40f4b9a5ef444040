package persistence

import (
	"testing"
	"time"

	"example.com/setlog/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := &domain.Cursor{
		PerformedAt: time.Date(2026, time.March, 4, 18, 30, 0, 123456789, time.UTC),
		ID:          "log-42",
	}

	decoded, err := DecodeCursor(EncodeCursor(cursor))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.PerformedAt.Equal(cursor.PerformedAt) || decoded.ID != cursor.ID {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestCursorEmptyToken(t *testing.T) {
	if EncodeCursor(nil) != "" {
		t.Fatal("nil cursor must encode to empty string")
	}
	cursor, err := DecodeCursor("")
	if err != nil || cursor != nil {
		t.Fatalf("empty token must decode to nil, got %+v %v", cursor, err)
	}
}

func TestCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("not-base64!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := DecodeCursor("aGVsbG8="); err == nil { // decodes to "hello", not a cursor
		t.Fatal("expected error for non-cursor payload")
	}
}
