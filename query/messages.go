package query

import (
	"strings"

	"github.com/goliatone/go-mailevents/core"
)

const (
	TypeGetEvent   = "mailevents.query.event.get"
	TypeListEvents = "mailevents.query.event.list"
)

// GetEventMessage looks an event up by internal id, or by provider event id
// when ID is empty.
type GetEventMessage struct {
	ID      string
	EventID string
}

func (GetEventMessage) Type() string { return TypeGetEvent }

func (m GetEventMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" && strings.TrimSpace(m.EventID) == "" {
		return queryValidationError("id", "id or event_id is required")
	}
	return nil
}

type ListEventsMessage struct {
	Filter core.EventFilter
}

func (ListEventsMessage) Type() string { return TypeListEvents }

func (m ListEventsMessage) Validate() error {
	if m.Filter.Page < 0 {
		return queryValidationError("page", "page must be >= 0")
	}
	if m.Filter.PerPage < 0 {
		return queryValidationError("per_page", "per_page must be >= 0")
	}
	if m.Filter.Status != "" && !m.Filter.Status.Valid() {
		return queryValidationError("status", "unknown status")
	}
	if !m.Filter.CreatedFrom.IsZero() && !m.Filter.CreatedTo.IsZero() && !m.Filter.CreatedFrom.Before(m.Filter.CreatedTo) {
		return queryValidationError("created_to", "created_to must be after created_from")
	}
	return nil
}
