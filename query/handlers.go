package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-mailevents/core"
)

type EventReader interface {
	Get(ctx context.Context, id string) (core.WebhookEvent, error)
	GetByEventID(ctx context.Context, eventID string) (core.WebhookEvent, error)
	List(ctx context.Context, filter core.EventFilter) (core.EventPage, error)
}

type GetEventQuery struct {
	reader EventReader
}

func NewGetEventQuery(reader EventReader) *GetEventQuery {
	return &GetEventQuery{reader: reader}
}

func (q *GetEventQuery) Query(ctx context.Context, msg GetEventMessage) (core.WebhookEvent, error) {
	if q == nil || q.reader == nil {
		return core.WebhookEvent{}, queryDependencyError("query: event reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.WebhookEvent{}, err
	}
	if id := strings.TrimSpace(msg.ID); id != "" {
		return q.reader.Get(ctx, id)
	}
	return q.reader.GetByEventID(ctx, msg.EventID)
}

type ListEventsQuery struct {
	reader EventReader
}

func NewListEventsQuery(reader EventReader) *ListEventsQuery {
	return &ListEventsQuery{reader: reader}
}

func (q *ListEventsQuery) Query(ctx context.Context, msg ListEventsMessage) (core.EventPage, error) {
	if q == nil || q.reader == nil {
		return core.EventPage{}, queryDependencyError("query: event reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.EventPage{}, err
	}
	return q.reader.List(ctx, msg.Filter)
}
