package core

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizePayload_ExtractsPrimaryFields(t *testing.T) {
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := map[string]any{
		"id":         "evt_123",
		"type":       "email.delivered",
		"created_at": "2024-05-06T07:08:09.123Z",
		"data": map[string]any{
			"to":       []any{"first@example.com", "second@example.com"},
			"email_id": "msg_1",
		},
	}

	event, err := NormalizePayload(payload, received)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.EventID != "evt_123" || event.EventType != "email.delivered" {
		t.Fatalf("unexpected identity %#v", event)
	}
	want := time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC)
	if !event.Timestamp.Equal(want) {
		t.Fatalf("expected %s, got %s", want, event.Timestamp)
	}
	if event.Email == nil || *event.Email != "first@example.com" {
		t.Fatalf("expected first recipient, got %v", event.Email)
	}
	if event.MessageID == nil || *event.MessageID != "msg_1" {
		t.Fatalf("expected message id, got %v", event.MessageID)
	}
}

func TestNormalizePayload_FallbackFields(t *testing.T) {
	payload := map[string]any{
		"id": "evt_fallback",
		"data": map[string]any{
			"recipient":  "r@example.com",
			"message_id": "msg_2",
		},
	}
	event, err := NormalizePayload(payload, time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.EventType != "" {
		t.Fatalf("expected empty event type, got %q", event.EventType)
	}
	if event.Email == nil || *event.Email != "r@example.com" {
		t.Fatalf("expected recipient fallback, got %v", event.Email)
	}
	if event.MessageID == nil || *event.MessageID != "msg_2" {
		t.Fatalf("expected message_id fallback, got %v", event.MessageID)
	}

	payload = map[string]any{"id": "evt_data_id", "data": map[string]any{"email": "e@example.com", "id": "msg_3"}}
	event, _ = NormalizePayload(payload, time.Now())
	if event.Email == nil || *event.Email != "e@example.com" {
		t.Fatalf("expected data.email fallback, got %v", event.Email)
	}
	if event.MessageID == nil || *event.MessageID != "msg_3" {
		t.Fatalf("expected data.id fallback, got %v", event.MessageID)
	}
}

func TestNormalizePayload_MissingIDFails(t *testing.T) {
	for _, payload := range []map[string]any{
		{},
		{"id": ""},
		{"id": nil},
		{"type": "email.sent"},
	} {
		if _, err := NormalizePayload(payload, time.Now()); !errors.Is(err, ErrEventIDRequired) {
			t.Fatalf("expected ErrEventIDRequired for %#v, got %v", payload, err)
		}
	}
}

func TestNormalizePayload_NumericIDIsStringified(t *testing.T) {
	event, err := NormalizePayload(map[string]any{"id": float64(42)}, time.Now())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.EventID != "42" {
		t.Fatalf("expected stringified id, got %q", event.EventID)
	}
}

func TestExtractTimestamp_Variants(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, ok := ExtractTimestamp(map[string]any{"timestamp": "1700000000"}, fallback)
	if !ok || got.Unix() != 1700000000 {
		t.Fatalf("expected epoch string parse, got %s ok=%v", got, ok)
	}

	got, ok = ExtractTimestamp(map[string]any{"timestamp": float64(1700000000.5)}, fallback)
	if !ok || got.Unix() != 1700000000 || got.Nanosecond() != 500000000 {
		t.Fatalf("expected fractional epoch parse, got %s ok=%v", got, ok)
	}

	got, ok = ExtractTimestamp(map[string]any{"created_at": "2024-01-02 03:04:05+00:00"}, fallback)
	if !ok || !got.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("expected space separated iso parse, got %s ok=%v", got, ok)
	}

	got, ok = ExtractTimestamp(map[string]any{"created_at": "2024-01-02T03:04:05"}, fallback)
	if !ok || !got.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("expected naive iso parse, got %s ok=%v", got, ok)
	}

	got, ok = ExtractTimestamp(map[string]any{"created_at": "not-a-date"}, fallback)
	if ok || !got.Equal(fallback) {
		t.Fatalf("expected fallback for garbage, got %s ok=%v", got, ok)
	}

	got, ok = ExtractTimestamp(map[string]any{}, fallback)
	if ok || !got.Equal(fallback) {
		t.Fatalf("expected fallback when absent, got %s ok=%v", got, ok)
	}
}

func TestExtractTimestamp_CreatedAtWinsOverTimestamp(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := ExtractTimestamp(map[string]any{
		"created_at": "2024-02-03T04:05:06Z",
		"timestamp":  "1700000000",
	}, fallback)
	if !ok || got.Year() != 2024 || got.Month() != time.February {
		t.Fatalf("expected created_at to win, got %s", got)
	}
}

func TestFirstOfList_HandlesShapes(t *testing.T) {
	if value, ok := FirstOfList([]any{}); ok || value != "" {
		t.Fatalf("expected empty list not to match")
	}
	if value, ok := FirstOfList("solo@example.com"); !ok || value != "solo@example.com" {
		t.Fatalf("expected scalar match, got %q", value)
	}
	if value, ok := FirstOfList([]string{"a@example.com"}); !ok || value != "a@example.com" {
		t.Fatalf("expected string slice match, got %q", value)
	}
}
