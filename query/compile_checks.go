package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-mailevents/core"
)

var (
	_ gocmd.Querier[GetEventMessage, core.WebhookEvent] = (*GetEventQuery)(nil)
	_ gocmd.Querier[ListEventsMessage, core.EventPage]  = (*ListEventsQuery)(nil)

	_ EventReader = (*core.MemoryEventStore)(nil)
)
