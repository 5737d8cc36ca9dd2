package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// EventStore is the durable table of webhook events. Implementations must
// enforce event_id uniqueness at the storage layer and implement Claim as a
// conditional update so that concurrent engines cannot both win.
type EventStore interface {
	CreateIfAbsent(ctx context.Context, event NewEvent) (WebhookEvent, bool, error)
	Get(ctx context.Context, id string) (WebhookEvent, error)
	GetByEventID(ctx context.Context, eventID string) (WebhookEvent, error)
	Claim(ctx context.Context, id string) (WebhookEvent, bool, error)
	MarkProcessed(ctx context.Context, id string) (WebhookEvent, error)
	MarkFailed(ctx context.Context, id string, message string) (WebhookEvent, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) (WebhookEvent, error)
	QueryPending(ctx context.Context, query PendingQuery) ([]WebhookEvent, error)
	QueryRetryable(ctx context.Context, maxRetries int, limit int) ([]WebhookEvent, error)
	Requeue(ctx context.Context, ids []string) (int, error)
	ReclaimStale(ctx context.Context, olderThan time.Time) (int, error)
}

// AdminStore backs the administrative surface. It can read every event and
// edit status and error_message, but it cannot create or delete events.
type AdminStore interface {
	Get(ctx context.Context, id string) (WebhookEvent, error)
	GetByEventID(ctx context.Context, eventID string) (WebhookEvent, error)
	List(ctx context.Context, filter EventFilter) (EventPage, error)
	UpdateAdminFields(ctx context.Context, id string, update AdminUpdate) (WebhookEvent, error)
	OverrideStatus(ctx context.Context, ids []string, status EventStatus) (int, error)
}

// StatusUpdate is a single-row status write. ErrorMessage is left untouched
// when nil.
type StatusUpdate struct {
	Status       EventStatus
	ErrorMessage *string
}

// Handler performs consumer-defined side effects for one event. Returning an
// error moves the event to failed.
type Handler interface {
	Handle(ctx context.Context, event WebhookEvent) error
}

type HandlerFunc func(ctx context.Context, event WebhookEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event WebhookEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// NopHandler is used when callers do not provide a handler.
type NopHandler struct{}

func (NopHandler) Handle(context.Context, WebhookEvent) error { return nil }

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
