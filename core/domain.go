package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidEventStatus           = errors.New("core: invalid event status")
	ErrInvalidEventStatusTransition = errors.New("core: invalid event status transition")
	ErrEventNotFound                = errors.New("core: webhook event not found")
	ErrEventIDRequired              = errors.New("core: event id is required")
)

type EventStatus string

const (
	EventStatusPending    EventStatus = "pending"
	EventStatusProcessing EventStatus = "processing"
	EventStatusProcessed  EventStatus = "processed"
	EventStatusFailed     EventStatus = "failed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusPending, EventStatusProcessing, EventStatusProcessed, EventStatusFailed:
		return true
	default:
		return false
	}
}

func ParseEventStatus(value string) (EventStatus, error) {
	status := EventStatus(strings.TrimSpace(strings.ToLower(value)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventStatus, value)
	}
	return status, nil
}

// WebhookEvent is one provider notification as stored by the event store.
type WebhookEvent struct {
	ID           string
	EventID      string
	EventType    string
	Timestamp    time.Time
	Email        *string
	MessageID    *string
	Payload      map[string]any
	Status       EventStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  *time.Time
	ErrorMessage string
	RetryCount   int
}

// PayloadData returns the provider "data" object, or an empty map.
func (e WebhookEvent) PayloadData() map[string]any {
	if data, ok := e.Payload["data"].(map[string]any); ok {
		return data
	}
	return map[string]any{}
}

// PayloadType returns the "type" field as sent by the provider.
func (e WebhookEvent) PayloadType() string {
	if value, ok := e.Payload["type"].(string); ok {
		return value
	}
	return ""
}

func (e WebhookEvent) String() string {
	return fmt.Sprintf("%s - %s (%s)", e.EventType, e.EventID, e.Status)
}

// TransitionTo applies the engine state machine. Administrative overrides
// bypass it through EventStore.OverrideStatus.
func (e *WebhookEvent) TransitionTo(status EventStatus, now time.Time) error {
	if e == nil {
		return nil
	}
	if !eventTransitionAllowed(e.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidEventStatusTransition, e.Status, status)
	}
	if e.Status == EventStatusProcessed && status != EventStatusProcessed {
		e.ProcessedAt = nil
	}
	e.Status = status
	e.UpdatedAt = now
	return nil
}

func eventTransitionAllowed(current, next EventStatus) bool {
	allowed := map[EventStatus]map[EventStatus]struct{}{
		EventStatusPending: {
			EventStatusProcessing: {},
		},
		EventStatusProcessing: {
			EventStatusProcessed: {},
			EventStatusFailed:    {},
			EventStatusPending:   {},
		},
		EventStatusFailed: {
			EventStatusPending: {},
		},
	}
	nextStates, ok := allowed[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func cloneEvent(event WebhookEvent) WebhookEvent {
	cloned := event
	cloned.Payload = copyAnyMap(event.Payload)
	cloned.Email = cloneStringPointer(event.Email)
	cloned.MessageID = cloneStringPointer(event.MessageID)
	if event.ProcessedAt != nil {
		value := *event.ProcessedAt
		cloned.ProcessedAt = &value
	}
	return cloned
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

// NewEvent holds the normalized fields the receiver persists on first sight.
type NewEvent struct {
	EventID   string
	EventType string
	Timestamp time.Time
	Email     *string
	MessageID *string
	Payload   map[string]any
}

func (e NewEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return ErrEventIDRequired
	}
	return nil
}

// ProcessingStats summarizes a processing or retry batch. Skipped counts
// events lost to a concurrent claim or no longer pending when reached.
type ProcessingStats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type PendingQuery struct {
	EventType string
	Limit     int
}

// EventFilter narrows admin listings. CreatedFrom is inclusive and
// CreatedTo exclusive; zero values leave that bound open.
type EventFilter struct {
	Status      EventStatus
	EventType   string
	Search      string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Page        int
	PerPage     int
}

// CreatedWithin reports whether createdAt falls inside the filter's range.
func (f EventFilter) CreatedWithin(createdAt time.Time) bool {
	if !f.CreatedFrom.IsZero() && createdAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && !createdAt.Before(f.CreatedTo) {
		return false
	}
	return true
}

type EventPage struct {
	Items      []WebhookEvent
	Total      int
	NextOffset *int
	HasMore    bool
}

// AdminUpdate is the only mutation the administrative surface may apply to a
// single event.
type AdminUpdate struct {
	Status       *EventStatus
	ErrorMessage *string
}
