package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-mailevents/core"
	eventmigrations "github.com/goliatone/go-mailevents/migrations"
	sqlstore "github.com/goliatone/go-mailevents/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-mailevents-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"mail_webhook_events",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "mail_webhook_events" {
		t.Fatalf("expected mail_webhook_events table, got %q", tableName)
	}
}

func TestEventStore_CreateIfAbsentEnforcesUniqueEventID(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)
	email := "user@example.com"

	first, created, err := store.CreateIfAbsent(ctx, core.NewEvent{
		EventID:   "evt_unique",
		EventType: "email.delivered",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Email:     &email,
		Payload:   map[string]any{"id": "evt_unique", "type": "email.delivered"},
	})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	if first.Status != core.EventStatusPending || first.RetryCount != 0 {
		t.Fatalf("expected pending with zero retries, got %#v", first)
	}

	second, created, err := store.CreateIfAbsent(ctx, core.NewEvent{
		EventID:   "evt_unique",
		EventType: "email.bounced",
		Payload:   map[string]any{"id": "evt_unique"},
	})
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate not to be created")
	}
	if second.ID != first.ID || second.EventType != "email.delivered" {
		t.Fatalf("expected the original row, got %#v", second)
	}
	if second.Email == nil || *second.Email != email {
		t.Fatalf("expected stored email, got %#v", second.Email)
	}
	if second.Payload["type"] != "email.delivered" {
		t.Fatalf("expected stored payload round trip, got %#v", second.Payload)
	}

	if _, _, err := store.CreateIfAbsent(ctx, core.NewEvent{EventID: "  "}); !errors.Is(err, core.ErrEventIDRequired) {
		t.Fatalf("expected event id required, got %v", err)
	}
}

func TestEventStore_ConcurrentCreateKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.CreateIfAbsent(ctx, core.NewEvent{EventID: "evt_race", EventType: "email.sent"})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if createdCount != 1 {
		t.Fatalf("expected exactly one creation, got %d", createdCount)
	}
	page, err := store.List(ctx, core.EventFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected one row, got %d", page.Total)
	}
}

func TestEventStore_ClaimAndFinish(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)
	event := createEvent(t, store, "evt_claim", "email.sent")

	claimed, ok, err := store.Claim(ctx, event.ID)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if claimed.Status != core.EventStatusProcessing {
		t.Fatalf("expected processing after claim, got %q", claimed.Status)
	}
	if _, ok, err := store.Claim(ctx, event.ID); err != nil || ok {
		t.Fatalf("second claim must lose: ok=%v err=%v", ok, err)
	}
	if _, _, err := store.Claim(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, core.ErrEventNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}

	processed, err := store.MarkProcessed(ctx, event.ID)
	if err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if processed.Status != core.EventStatusProcessed || processed.ProcessedAt == nil {
		t.Fatalf("expected processed with processed_at, got %#v", processed)
	}
	if _, err := store.MarkFailed(ctx, event.ID, "late"); !errors.Is(err, core.ErrInvalidEventStatusTransition) {
		t.Fatalf("expected transition error after processed, got %v", err)
	}
}

func TestEventStore_FailRetryCycle(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)
	event := createEvent(t, store, "evt_retry", "email.bounced")

	for attempt := 1; attempt <= 2; attempt++ {
		if _, ok, err := store.Claim(ctx, event.ID); err != nil || !ok {
			t.Fatalf("claim attempt %d: ok=%v err=%v", attempt, ok, err)
		}
		failed, err := store.MarkFailed(ctx, event.ID, fmt.Sprintf("boom %d", attempt))
		if err != nil {
			t.Fatalf("mark failed: %v", err)
		}
		if failed.RetryCount != attempt || failed.ErrorMessage != fmt.Sprintf("boom %d", attempt) {
			t.Fatalf("unexpected failed row %#v", failed)
		}

		retryable, err := store.QueryRetryable(ctx, 3, 10)
		if err != nil {
			t.Fatalf("query retryable: %v", err)
		}
		if len(retryable) != 1 {
			t.Fatalf("expected one retryable event, got %d", len(retryable))
		}
		count, err := store.Requeue(ctx, []string{event.ID, event.ID, ""})
		if err != nil || count != 1 {
			t.Fatalf("requeue: count=%d err=%v", count, err)
		}
	}

	if _, _, err := store.Claim(ctx, event.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := store.MarkFailed(ctx, event.ID, "boom 3"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	retryable, err := store.QueryRetryable(ctx, 3, 10)
	if err != nil {
		t.Fatalf("query retryable: %v", err)
	}
	if len(retryable) != 0 {
		t.Fatalf("expected retry bound to exclude the event, got %#v", retryable)
	}
	if count, err := store.Requeue(ctx, nil); err != nil || count != 0 {
		t.Fatalf("empty requeue: count=%d err=%v", count, err)
	}
}

func TestEventStore_QueryPendingOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)
	for _, spec := range []struct{ id, eventType string }{
		{"evt_a", "email.sent"},
		{"evt_b", "email.opened"},
		{"evt_c", "email.sent"},
	} {
		createEvent(t, store, spec.id, spec.eventType)
		time.Sleep(2 * time.Millisecond)
	}

	all, err := store.QueryPending(ctx, core.PendingQuery{})
	if err != nil {
		t.Fatalf("query pending: %v", err)
	}
	if len(all) != 3 || all[0].EventID != "evt_a" || all[2].EventID != "evt_c" {
		t.Fatalf("expected oldest first, got %#v", eventIDs(all))
	}

	sent, err := store.QueryPending(ctx, core.PendingQuery{EventType: "email.sent", Limit: 1})
	if err != nil {
		t.Fatalf("query pending filtered: %v", err)
	}
	if len(sent) != 1 || sent[0].EventID != "evt_a" {
		t.Fatalf("expected evt_a only, got %#v", eventIDs(sent))
	}
}

func TestEventStore_ReclaimStale(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)
	stuck := createEvent(t, store, "evt_stuck", "email.sent")
	pending := createEvent(t, store, "evt_waiting", "email.sent")
	if _, ok, err := store.Claim(ctx, stuck.ID); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	count, err := store.ReclaimStale(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil || count != 0 {
		t.Fatalf("expected nothing stale yet: count=%d err=%v", count, err)
	}
	count, err = store.ReclaimStale(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil || count != 1 {
		t.Fatalf("expected one reclaimed row: count=%d err=%v", count, err)
	}
	reclaimed, _ := store.Get(ctx, stuck.ID)
	if reclaimed.Status != core.EventStatusPending {
		t.Fatalf("expected reclaimed row pending, got %q", reclaimed.Status)
	}
	untouched, _ := store.Get(ctx, pending.ID)
	if untouched.Status != core.EventStatusPending {
		t.Fatalf("expected pending row untouched, got %q", untouched.Status)
	}
}

func TestEventStore_AdminListAndOverrides(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)
	email := "Someone@Example.com"
	messageID := "msg_42"
	target, _, err := store.CreateIfAbsent(ctx, core.NewEvent{
		EventID:   "evt_admin",
		EventType: "email.complained",
		Email:     &email,
		MessageID: &messageID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	newest := createEvent(t, store, "evt_newest", "email.sent")

	page, err := store.List(ctx, core.EventFilter{Search: "someone@"})
	if err != nil {
		t.Fatalf("list search: %v", err)
	}
	if page.Total != 1 || page.Items[0].EventID != "evt_admin" {
		t.Fatalf("expected search by email, got %#v", eventIDs(page.Items))
	}
	page, _ = store.List(ctx, core.EventFilter{Search: "MSG_4"})
	if page.Total != 1 {
		t.Fatalf("expected search by message id, got %d", page.Total)
	}
	page, _ = store.List(ctx, core.EventFilter{Page: 1, PerPage: 1})
	if page.Total != 2 || len(page.Items) != 1 || page.Items[0].ID != newest.ID || !page.HasMore {
		t.Fatalf("expected newest first with more pages, got %#v", page)
	}
	if page.NextOffset == nil || *page.NextOffset != 1 {
		t.Fatalf("expected next offset 1, got %#v", page.NextOffset)
	}
	page, _ = store.List(ctx, core.EventFilter{EventType: "email.sent", Status: core.EventStatusPending})
	if page.Total != 1 || page.Items[0].ID != newest.ID {
		t.Fatalf("expected type and status filter, got %#v", eventIDs(page.Items))
	}

	processed := core.EventStatusProcessed
	note := "handled out of band"
	updated, err := store.UpdateAdminFields(ctx, target.ID, core.AdminUpdate{Status: &processed, ErrorMessage: &note})
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if updated.Status != core.EventStatusProcessed || updated.ProcessedAt == nil || updated.ErrorMessage != note {
		t.Fatalf("unexpected admin update %#v", updated)
	}

	count, err := store.OverrideStatus(ctx, []string{target.ID, newest.ID}, core.EventStatusFailed)
	if err != nil || count != 2 {
		t.Fatalf("override: count=%d err=%v", count, err)
	}
	reset, _ := store.Get(ctx, target.ID)
	if reset.Status != core.EventStatusFailed || reset.ProcessedAt != nil {
		t.Fatalf("expected failed without processed_at, got %#v", reset)
	}

	bogus := core.EventStatus("archived")
	if _, err := store.UpdateAdminFields(ctx, target.ID, core.AdminUpdate{Status: &bogus}); !errors.Is(err, core.ErrInvalidEventStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if _, err := store.UpdateAdminFields(ctx, "00000000-0000-0000-0000-000000000000", core.AdminUpdate{ErrorMessage: &note}); !errors.Is(err, core.ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)
	event := createEvent(t, store, "evt_status", "email.sent")

	time.Sleep(2 * time.Millisecond)
	message := "provider outage"
	failed, err := store.UpdateStatus(ctx, event.ID, core.StatusUpdate{Status: core.EventStatusFailed, ErrorMessage: &message})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if failed.Status != core.EventStatusFailed || failed.ErrorMessage != message {
		t.Fatalf("unexpected failed row %#v", failed)
	}
	if !failed.UpdatedAt.After(event.UpdatedAt) {
		t.Fatalf("expected updated_at refreshed, got %s then %s", event.UpdatedAt, failed.UpdatedAt)
	}

	time.Sleep(2 * time.Millisecond)
	processed, err := store.UpdateStatus(ctx, event.ID, core.StatusUpdate{Status: core.EventStatusProcessed})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if processed.ProcessedAt == nil || processed.ErrorMessage != message {
		t.Fatalf("expected processed_at set and message kept, got %#v", processed)
	}

	time.Sleep(2 * time.Millisecond)
	pending, err := store.UpdateStatus(ctx, event.ID, core.StatusUpdate{Status: core.EventStatusPending})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if pending.Status != core.EventStatusPending || pending.ProcessedAt != nil {
		t.Fatalf("expected processed_at cleared on leaving processed, got %#v", pending)
	}
	if !pending.UpdatedAt.After(processed.UpdatedAt) {
		t.Fatalf("expected updated_at refreshed on every write")
	}

	if _, err := store.UpdateStatus(ctx, event.ID, core.StatusUpdate{Status: "archived"}); !errors.Is(err, core.ErrInvalidEventStatus) {
		t.Fatalf("expected invalid status error, got %v", err)
	}
	if _, err := store.UpdateStatus(ctx, "00000000-0000-0000-0000-000000000000", core.StatusUpdate{Status: core.EventStatusPending}); !errors.Is(err, core.ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEventStore_KeepsEventTypeVerbatim(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)
	event, created, err := store.CreateIfAbsent(ctx, core.NewEvent{EventID: " evt_sp ", EventType: " email.sent "})
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	stored, err := store.GetByEventID(ctx, "evt_sp")
	if err != nil {
		t.Fatalf("get by event id: %v", err)
	}
	if stored.ID != event.ID || stored.EventType != " email.sent " {
		t.Fatalf("expected trimmed id and verbatim type, got %#v", stored)
	}
}

func TestEventStore_ListCreatedRange(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)
	early := createEvent(t, store, "evt_early", "email.sent")
	time.Sleep(5 * time.Millisecond)
	boundary := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)
	late := createEvent(t, store, "evt_late", "email.sent")

	page, err := store.List(ctx, core.EventFilter{CreatedFrom: boundary})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != late.ID {
		t.Fatalf("expected only the late event, got %#v", eventIDs(page.Items))
	}
	page, err = store.List(ctx, core.EventFilter{CreatedTo: boundary})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != early.ID {
		t.Fatalf("expected only the early event, got %#v", eventIDs(page.Items))
	}
	page, _ = store.List(ctx, core.EventFilter{CreatedFrom: early.CreatedAt.Add(-time.Millisecond), CreatedTo: late.CreatedAt.Add(time.Millisecond)})
	if page.Total != 2 {
		t.Fatalf("expected both events in range, got %#v", eventIDs(page.Items))
	}
}

func TestEventStore_DrivesProcessingEngine(t *testing.T) {
	ctx := context.Background()
	store := newEventStore(t)
	createEvent(t, store, "evt_ok", "email.delivered")
	createEvent(t, store, "evt_bad", "email.bounced")

	svc, err := core.NewService(core.Config{}, core.WithEventStore(store))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler := core.HandlerFunc(func(_ context.Context, event core.WebhookEvent) error {
		if event.EventType == "email.bounced" {
			return errors.New("bounce handler unavailable")
		}
		return nil
	})
	stats, err := svc.ProcessPendingEvents(ctx, core.ProcessOptions{Handler: handler})
	if err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if stats.Total != 2 || stats.Processed != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %#v", stats)
	}

	retried, err := svc.RetryFailedEvents(ctx, core.RetryOptions{Handler: core.NopHandler{}})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried.Total != 1 || retried.Processed != 1 {
		t.Fatalf("unexpected retry stats %#v", retried)
	}
	bad, _ := store.GetByEventID(ctx, "evt_bad")
	if bad.Status != core.EventStatusProcessed || bad.RetryCount != 1 {
		t.Fatalf("expected processed after retry with one recorded failure, got %#v", bad)
	}
}

func TestRepositoryFactory_ResolvesPersistenceClient(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	if factory.EventStore() == nil || factory.AdminStore() == nil || factory.DB() == nil {
		t.Fatalf("expected stores from factory")
	}
	if _, err := sqlstore.NewRepositoryFactory().BuildStores("not a db"); err == nil {
		t.Fatalf("expected unsupported client error")
	}
	if _, err := sqlstore.NewRepositoryFactory().BuildStores(nil); err == nil {
		t.Fatalf("expected missing client error")
	}
}

func newEventStore(t *testing.T) *sqlstore.EventStore {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	store, err := sqlstore.NewEventStore(client.DB())
	if err != nil {
		t.Fatalf("new event store: %v", err)
	}
	return store
}

func createEvent(t *testing.T, store *sqlstore.EventStore, eventID string, eventType string) core.WebhookEvent {
	t.Helper()
	event, created, err := store.CreateIfAbsent(context.Background(), core.NewEvent{
		EventID:   eventID,
		EventType: eventType,
		Payload:   map[string]any{"id": eventID, "type": eventType},
	})
	if err != nil || !created {
		t.Fatalf("create %s: created=%v err=%v", eventID, created, err)
	}
	return event
}

func eventIDs(events []core.WebhookEvent) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.EventID)
	}
	return out
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:mailevents-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = eventmigrations.Register(ctx, eventmigrations.DialectSQLite, func(_ context.Context, source eventmigrations.Source) error {
		client.RegisterSQLMigrations(source.FS)
		return nil
	})
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
