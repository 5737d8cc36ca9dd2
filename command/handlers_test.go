package command

import (
	"context"
	"errors"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-mailevents/core"
)

type stubEngineService struct {
	processOpts  core.ProcessOptions
	retryOpts    core.RetryOptions
	reclaimAfter time.Duration
	stats        core.ProcessingStats
	err          error
}

func (s *stubEngineService) ProcessPendingEvents(_ context.Context, opts core.ProcessOptions) (core.ProcessingStats, error) {
	s.processOpts = opts
	return s.stats, s.err
}

func (s *stubEngineService) RetryFailedEvents(_ context.Context, opts core.RetryOptions) (core.ProcessingStats, error) {
	s.retryOpts = opts
	return s.stats, s.err
}

func (s *stubEngineService) ReclaimStaleEvents(_ context.Context, olderThan time.Duration) (int, error) {
	s.reclaimAfter = olderThan
	return 2, s.err
}

func TestUpdateEventCommand_UpdatesAndStoresResult(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryEventStore()
	event, _, _ := store.CreateIfAbsent(ctx, core.NewEvent{EventID: "evt_1", EventType: "email.sent"})

	failed := core.EventStatusFailed
	note := "bounced upstream"
	collector := gocmd.NewResult[core.WebhookEvent]()
	err := NewUpdateEventCommand(store).Execute(gocmd.ContextWithResult(ctx, collector), UpdateEventMessage{
		ID:           event.ID,
		Status:       &failed,
		ErrorMessage: &note,
	})
	if err != nil {
		t.Fatalf("execute update: %v", err)
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.Status != core.EventStatusFailed || result.ErrorMessage != note {
		t.Fatalf("unexpected update result %#v", result)
	}
}

func TestUpdateEventCommand_NotFoundPassesThrough(t *testing.T) {
	note := "x"
	err := NewUpdateEventCommand(core.NewMemoryEventStore()).Execute(context.Background(), UpdateEventMessage{
		ID:           "missing",
		ErrorMessage: &note,
	})
	if !errors.Is(err, core.ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOverrideStatusCommand_CountsUpdatedRows(t *testing.T) {
	ctx := context.Background()
	store := core.NewMemoryEventStore()
	first, _, _ := store.CreateIfAbsent(ctx, core.NewEvent{EventID: "evt_a"})
	second, _, _ := store.CreateIfAbsent(ctx, core.NewEvent{EventID: "evt_b"})

	collector := gocmd.NewResult[int]()
	err := NewOverrideStatusCommand(store).Execute(gocmd.ContextWithResult(ctx, collector), OverrideStatusMessage{
		IDs:    []string{first.ID, second.ID, "missing"},
		Status: core.EventStatusProcessed,
	})
	if err != nil {
		t.Fatalf("execute override: %v", err)
	}
	if count, _ := collector.Load(); count != 2 {
		t.Fatalf("expected two updated rows, got %d", count)
	}
	if err := NewOverrideStatusCommand(store).Execute(ctx, OverrideStatusMessage{
		IDs:    []string{first.ID},
		Status: core.EventStatusProcessing,
	}); err == nil {
		t.Fatalf("expected processing to be rejected for bulk override")
	}
}

func TestEngineCommands_DelegateToService(t *testing.T) {
	ctx := context.Background()
	svc := &stubEngineService{stats: core.ProcessingStats{Total: 3, Processed: 2, Failed: 1}}

	collector := gocmd.NewResult[core.ProcessingStats]()
	if err := NewProcessPendingCommand(svc).Execute(gocmd.ContextWithResult(ctx, collector), ProcessPendingMessage{
		Limit:     10,
		EventType: "email.bounced",
	}); err != nil {
		t.Fatalf("execute process: %v", err)
	}
	if svc.processOpts.Limit != 10 || svc.processOpts.EventType != "email.bounced" {
		t.Fatalf("unexpected process options %#v", svc.processOpts)
	}
	if stats, _ := collector.Load(); stats.Total != 3 {
		t.Fatalf("expected stats stored, got %#v", stats)
	}

	if err := NewRetryFailedCommand(svc).Execute(ctx, RetryFailedMessage{MaxRetries: 5}); err != nil {
		t.Fatalf("execute retry: %v", err)
	}
	if svc.retryOpts.MaxRetries != 5 {
		t.Fatalf("unexpected retry options %#v", svc.retryOpts)
	}

	counter := gocmd.NewResult[int]()
	if err := NewReclaimStaleCommand(svc).Execute(gocmd.ContextWithResult(ctx, counter), ReclaimStaleMessage{
		OlderThan: time.Minute,
	}); err != nil {
		t.Fatalf("execute reclaim: %v", err)
	}
	if svc.reclaimAfter != time.Minute {
		t.Fatalf("unexpected reclaim window %s", svc.reclaimAfter)
	}
	if count, _ := counter.Load(); count != 2 {
		t.Fatalf("expected reclaim count stored, got %d", count)
	}
}

func TestEngineCommands_PropagateServiceErrors(t *testing.T) {
	svc := &stubEngineService{err: errors.New("database unavailable")}
	if err := NewProcessPendingCommand(svc).Execute(context.Background(), ProcessPendingMessage{}); err == nil {
		t.Fatalf("expected service error")
	}
}
