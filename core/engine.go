package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// ProcessOptions selects and handles one pending batch. A zero Limit uses the
// configured batch size.
type ProcessOptions struct {
	Limit     int
	EventType string
	Handler   Handler
}

// RetryOptions selects failed events whose retry_count is below MaxRetries.
// A zero MaxRetries uses the configured value.
type RetryOptions struct {
	Limit      int
	MaxRetries int
	Handler    Handler
}

type processOutcome int

const (
	outcomeSkipped processOutcome = iota
	outcomeProcessed
	outcomeFailed
)

func (o processOutcome) String() string {
	switch o {
	case outcomeProcessed:
		return "processed"
	case outcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// ProcessEvent claims a pending event, runs the handler and records the
// outcome. It returns true only when the handler succeeded. Handler errors are
// recorded on the event and are not returned; store errors are.
func (s *Service) ProcessEvent(ctx context.Context, event WebhookEvent, handler Handler) (bool, error) {
	outcome, err := s.processEvent(ctx, event, handler)
	if err != nil {
		return false, s.mapError(err)
	}
	return outcome == outcomeProcessed, nil
}

func (s *Service) processEvent(ctx context.Context, event WebhookEvent, handler Handler) (outcome processOutcome, err error) {
	startedAt := time.Now()
	fields := map[string]any{
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"id":         event.ID,
	}
	defer func() {
		fields["outcome"] = outcome.String()
		s.observeOperation(ctx, startedAt, "process_event", err, fields)
	}()

	if s == nil || s.store == nil {
		return outcomeSkipped, fmt.Errorf("core: event store is required")
	}
	if event.Status != EventStatusPending {
		s.logInfo(ctx, "skipping event that is not pending", map[string]any{
			"event_id": event.EventID,
			"status":   string(event.Status),
		})
		return outcomeSkipped, nil
	}

	claimed, ok, err := s.store.Claim(ctx, event.ID)
	if err != nil {
		return outcomeSkipped, err
	}
	if !ok {
		s.logInfo(ctx, "event claimed by another worker", map[string]any{
			"event_id": event.EventID,
		})
		return outcomeSkipped, nil
	}

	if handler == nil {
		handler = s.handler
	}
	if handler == nil {
		handler = NopHandler{}
	}

	if handlerErr := s.runHandler(ctx, handler, claimed); handlerErr != nil {
		failed, markErr := s.store.MarkFailed(ctx, claimed.ID, handlerErr.Error())
		if markErr != nil {
			return outcomeFailed, markErr
		}
		fields["retry_count"] = failed.RetryCount
		fields["handler_error"] = handlerErr.Error()
		s.publish(ctx, Notification{Hook: HookFailed, Event: failed, Err: handlerErr})
		return outcomeFailed, nil
	}

	processed, err := s.store.MarkProcessed(ctx, claimed.ID)
	if err != nil {
		return outcomeProcessed, err
	}
	s.publish(ctx, Notification{Hook: HookProcessed, Event: processed})
	return outcomeProcessed, nil
}

func (s *Service) runHandler(ctx context.Context, handler Handler, event WebhookEvent) (err error) {
	if timeout := s.config.HandlerTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logError(ctx, "handler panicked", map[string]any{
				"event_id": event.EventID,
				"panic":    fmt.Sprint(recovered),
				"stack":    string(debug.Stack()),
			})
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return handler.Handle(ctx, cloneEvent(event))
}

func (s *Service) publish(ctx context.Context, notification Notification) {
	if s.hooks == nil {
		return
	}
	// listener failures are logged by the registry and never change the outcome
	_ = s.hooks.Publish(ctx, notification)
}

// ProcessPendingEvents handles pending events oldest first. One event failing
// never stops the batch.
func (s *Service) ProcessPendingEvents(ctx context.Context, options ProcessOptions) (stats ProcessingStats, err error) {
	if s == nil || s.store == nil {
		return ProcessingStats{}, fmt.Errorf("core: event store is required")
	}
	startedAt := time.Now()
	limit := s.batchLimit(options.Limit)
	eventType := strings.TrimSpace(options.EventType)
	defer func() {
		s.observeOperation(ctx, startedAt, "process_pending", err, statsFields(stats, map[string]any{
			"limit":      limit,
			"event_type": eventType,
		}))
	}()

	events, err := s.store.QueryPending(ctx, PendingQuery{EventType: eventType, Limit: limit})
	if err != nil {
		return ProcessingStats{}, s.mapError(err)
	}
	stats.Total = len(events)
	s.runBatch(ctx, events, options.Handler, &stats)
	return stats, nil
}

// RetryFailedEvents moves failed events under the retry bound back to pending
// and runs them through the same path as fresh events.
func (s *Service) RetryFailedEvents(ctx context.Context, options RetryOptions) (stats ProcessingStats, err error) {
	if s == nil || s.store == nil {
		return ProcessingStats{}, fmt.Errorf("core: event store is required")
	}
	startedAt := time.Now()
	limit := s.batchLimit(options.Limit)
	maxRetries := options.MaxRetries
	if maxRetries <= 0 {
		maxRetries = s.config.Processing.MaxRetries
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	requeued := 0
	defer func() {
		s.observeOperation(ctx, startedAt, "retry_failed", err, statsFields(stats, map[string]any{
			"limit":       limit,
			"max_retries": maxRetries,
			"requeued":    requeued,
		}))
	}()

	events, err := s.store.QueryRetryable(ctx, maxRetries, limit)
	if err != nil {
		return ProcessingStats{}, s.mapError(err)
	}
	if len(events) == 0 {
		return ProcessingStats{}, nil
	}

	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	requeued, err = s.store.Requeue(ctx, ids)
	if err != nil {
		return ProcessingStats{}, s.mapError(err)
	}

	// the requeue is conditional; rows that changed in between lose the claim
	now := s.now()
	for index := range events {
		events[index].Status = EventStatusPending
		events[index].UpdatedAt = now
	}
	stats.Total = len(events)
	s.runBatch(ctx, events, options.Handler, &stats)
	return stats, nil
}

func (s *Service) runBatch(ctx context.Context, events []WebhookEvent, handler Handler, stats *ProcessingStats) {
	for _, event := range events {
		if ctx.Err() != nil {
			stats.Skipped++
			continue
		}
		outcome, err := s.processEvent(ctx, event, handler)
		if err != nil {
			stats.Failed++
			continue
		}
		switch outcome {
		case outcomeProcessed:
			stats.Processed++
		case outcomeFailed:
			stats.Failed++
		default:
			stats.Skipped++
		}
	}
}

// ReclaimStaleEvents returns events stranded in processing for longer than
// olderThan to pending. A zero olderThan uses the configured stale window.
func (s *Service) ReclaimStaleEvents(ctx context.Context, olderThan time.Duration) (count int, err error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("core: event store is required")
	}
	startedAt := time.Now()
	if olderThan <= 0 {
		olderThan = s.config.StaleAfter()
	}
	if olderThan <= 0 {
		olderThan = time.Duration(DefaultStaleAfter) * time.Second
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "reclaim_stale", err, map[string]any{
			"older_than_seconds": int(olderThan.Seconds()),
			"reclaimed":          count,
		})
	}()
	count, err = s.store.ReclaimStale(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, s.mapError(err)
	}
	return count, nil
}

func (s *Service) batchLimit(limit int) int {
	if limit > 0 {
		return limit
	}
	if s != nil && s.config.Processing.BatchSize > 0 {
		return s.config.Processing.BatchSize
	}
	return DefaultBatchSize
}

func statsFields(stats ProcessingStats, fields map[string]any) map[string]any {
	out := cloneFields(fields)
	out["total"] = stats.Total
	out["processed"] = stats.Processed
	out["failed"] = stats.Failed
	out["skipped"] = stats.Skipped
	return out
}

// EventTypeRouter dispatches to a handler registered for the event type and
// falls back to Fallback, or a no-op, for unknown types.
type EventTypeRouter struct {
	Routes   map[string]Handler
	Fallback Handler
}

func NewEventTypeRouter() *EventTypeRouter {
	return &EventTypeRouter{Routes: map[string]Handler{}}
}

func (r *EventTypeRouter) On(eventType string, handler Handler) *EventTypeRouter {
	if r.Routes == nil {
		r.Routes = map[string]Handler{}
	}
	r.Routes[strings.TrimSpace(eventType)] = handler
	return r
}

func (r *EventTypeRouter) Handle(ctx context.Context, event WebhookEvent) error {
	if r == nil {
		return nil
	}
	if handler, ok := r.Routes[event.EventType]; ok && handler != nil {
		return handler.Handle(ctx, event)
	}
	if r.Fallback != nil {
		return r.Fallback.Handle(ctx, event)
	}
	return nil
}
