package command

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-mailevents/core"
)

var (
	_ gocmd.Commander[UpdateEventMessage]    = (*UpdateEventCommand)(nil)
	_ gocmd.Commander[OverrideStatusMessage] = (*OverrideStatusCommand)(nil)
	_ gocmd.Commander[ProcessPendingMessage] = (*ProcessPendingCommand)(nil)
	_ gocmd.Commander[RetryFailedMessage]    = (*RetryFailedCommand)(nil)
	_ gocmd.Commander[ReclaimStaleMessage]   = (*ReclaimStaleCommand)(nil)

	_ EngineService = (*core.Service)(nil)
	_ AdminWriter   = (*core.MemoryEventStore)(nil)
)
