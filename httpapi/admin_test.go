package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-mailevents/core"
)

func seed(t *testing.T, h testHarness, eventID string, eventType string) core.WebhookEvent {
	t.Helper()
	event, _, err := h.store.CreateIfAbsent(context.Background(), core.NewEvent{
		EventID:   eventID,
		EventType: eventType,
		Payload:   map[string]any{"id": eventID},
	})
	if err != nil {
		t.Fatalf("seed %s: %v", eventID, err)
	}
	return event
}

func TestAdminList_FiltersAndPaginates(t *testing.T) {
	h := newHarness(t, nil, nil)
	for i := 0; i < 3; i++ {
		seed(t, h, fmt.Sprintf("evt_%d", i), "email.sent")
	}
	seed(t, h, "evt_bounce", "email.bounced")

	rec, decoded := h.do(t, http.MethodGet, "/admin/events?event_type=email.sent&per_page=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d %#v", rec.Code, decoded)
	}
	items, _ := decoded["items"].([]any)
	if len(items) != 2 || decoded["total"] != float64(3) || decoded["has_more"] != true {
		t.Fatalf("unexpected page %#v", decoded)
	}

	rec, decoded = h.do(t, http.MethodGet, "/admin/events?status=archived", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid status rejected, got %d %#v", rec.Code, decoded)
	}
}

func TestAdminList_CreatedDateRange(t *testing.T) {
	h := newHarness(t, nil, nil)
	seed(t, h, "evt_today", "email.sent")
	today := time.Now().UTC()
	yesterday := today.AddDate(0, 0, -1).Format(time.DateOnly)
	tomorrow := today.AddDate(0, 0, 1).Format(time.DateOnly)

	rec, decoded := h.do(t, http.MethodGet, "/admin/events?created_from="+yesterday+"&created_to="+today.Format(time.DateOnly), "")
	if rec.Code != http.StatusOK || decoded["total"] != float64(1) {
		t.Fatalf("expected the event inside the day range, got %d %#v", rec.Code, decoded)
	}
	rec, decoded = h.do(t, http.MethodGet, "/admin/events?created_from="+tomorrow, "")
	if rec.Code != http.StatusOK || decoded["total"] != float64(0) {
		t.Fatalf("expected nothing after tomorrow, got %d %#v", rec.Code, decoded)
	}
	rec, _ = h.do(t, http.MethodGet, "/admin/events?created_from=last-week", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected malformed date rejected, got %d", rec.Code)
	}
	rec, _ = h.do(t, http.MethodGet, "/admin/events?created_from="+tomorrow+"&created_to="+yesterday, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected inverted range rejected, got %d", rec.Code)
	}
}

func TestAdminGet_NotFound(t *testing.T) {
	h := newHarness(t, nil, nil)
	event := seed(t, h, "evt_get", "email.sent")

	rec, decoded := h.do(t, http.MethodGet, "/admin/events/"+event.ID, "")
	if rec.Code != http.StatusOK || decoded["event_id"] != "evt_get" || decoded["status"] != "pending" {
		t.Fatalf("unexpected get response %d %#v", rec.Code, decoded)
	}
	rec, decoded = h.do(t, http.MethodGet, "/admin/events/missing", "")
	if rec.Code != http.StatusNotFound || decoded["code"] != core.ErrorCodeNotFound {
		t.Fatalf("expected 404 envelope, got %d %#v", rec.Code, decoded)
	}
}

func TestAdminPatch_UpdatesStatusAndMessage(t *testing.T) {
	h := newHarness(t, nil, nil)
	event := seed(t, h, "evt_patch", "email.sent")

	rec, decoded := h.do(t, http.MethodPatch, "/admin/events/"+event.ID, `{"status":"failed","error_message":"bad address"}`)
	if rec.Code != http.StatusOK || decoded["status"] != "failed" || decoded["error_message"] != "bad address" {
		t.Fatalf("unexpected patch response %d %#v", rec.Code, decoded)
	}
	rec, _ = h.do(t, http.MethodPatch, "/admin/events/"+event.ID, `{"status":"processing"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected processing rejected, got %d", rec.Code)
	}
	if stored, _ := h.store.Get(context.Background(), event.ID); stored.Status != core.EventStatusFailed {
		t.Fatalf("expected status untouched, got %q", stored.Status)
	}
	rec, _ = h.do(t, http.MethodPatch, "/admin/events/"+event.ID, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected empty patch rejected, got %d", rec.Code)
	}
	rec, _ = h.do(t, http.MethodPatch, "/admin/events/"+event.ID, `{"status":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected malformed body rejected, got %d", rec.Code)
	}
}

func TestAdminActions_BulkOverride(t *testing.T) {
	h := newHarness(t, nil, nil)
	a := seed(t, h, "evt_a", "email.sent")
	b := seed(t, h, "evt_b", "email.sent")

	body := fmt.Sprintf(`{"action":"mark_processed","ids":[%q,%q]}`, a.ID, b.ID)
	rec, decoded := h.do(t, http.MethodPost, "/admin/events/actions", body)
	if rec.Code != http.StatusOK || decoded["updated"] != float64(2) {
		t.Fatalf("unexpected action response %d %#v", rec.Code, decoded)
	}
	stored, _ := h.store.Get(context.Background(), a.ID)
	if stored.Status != core.EventStatusProcessed || stored.ProcessedAt == nil {
		t.Fatalf("expected processed with timestamp, got %#v", stored)
	}

	rec, _ = h.do(t, http.MethodPost, "/admin/events/actions", `{"action":"archive","ids":["x"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown action rejected, got %d", rec.Code)
	}
}

func TestAdminProcessAndRetry(t *testing.T) {
	fail := true
	h := newHarness(t, nil, core.HandlerFunc(func(context.Context, core.WebhookEvent) error {
		if fail {
			return errors.New("downstream unavailable")
		}
		return nil
	}))
	seed(t, h, "evt_run", "email.sent")

	rec, decoded := h.do(t, http.MethodPost, "/admin/events/process", "")
	if rec.Code != http.StatusOK || decoded["total"] != float64(1) || decoded["failed"] != float64(1) {
		t.Fatalf("unexpected process response %d %#v", rec.Code, decoded)
	}

	fail = false
	rec, decoded = h.do(t, http.MethodPost, "/admin/events/retry", `{"max_retries":3}`)
	if rec.Code != http.StatusOK || decoded["processed"] != float64(1) {
		t.Fatalf("unexpected retry response %d %#v", rec.Code, decoded)
	}
	stored, _ := h.store.GetByEventID(context.Background(), "evt_run")
	if stored.Status != core.EventStatusProcessed || stored.RetryCount != 1 {
		t.Fatalf("expected processed after one retry, got %#v", stored)
	}

	rec, decoded = h.do(t, http.MethodPost, "/admin/events/reclaim", `{"older_than_seconds":60}`)
	if rec.Code != http.StatusOK || decoded["reclaimed"] != float64(0) {
		t.Fatalf("unexpected reclaim response %d %#v", rec.Code, decoded)
	}
	rec, _ = h.do(t, http.MethodPost, "/admin/events/process", `{"limit":-1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected negative limit rejected, got %d", rec.Code)
	}
}
