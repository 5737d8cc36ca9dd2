package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-mailevents/core"
)

// EngineService is the processing surface commands drive. *core.Service
// satisfies it.
type EngineService interface {
	ProcessPendingEvents(ctx context.Context, opts core.ProcessOptions) (core.ProcessingStats, error)
	RetryFailedEvents(ctx context.Context, opts core.RetryOptions) (core.ProcessingStats, error)
	ReclaimStaleEvents(ctx context.Context, olderThan time.Duration) (int, error)
}

type AdminWriter interface {
	UpdateAdminFields(ctx context.Context, id string, update core.AdminUpdate) (core.WebhookEvent, error)
	OverrideStatus(ctx context.Context, ids []string, status core.EventStatus) (int, error)
}

type UpdateEventCommand struct {
	store AdminWriter
}

func NewUpdateEventCommand(store AdminWriter) *UpdateEventCommand {
	return &UpdateEventCommand{store: store}
}

func (c *UpdateEventCommand) Execute(ctx context.Context, msg UpdateEventMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: admin store is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	event, err := c.store.UpdateAdminFields(ctx, msg.ID, core.AdminUpdate{
		Status:       msg.Status,
		ErrorMessage: msg.ErrorMessage,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, event)
	return nil
}

type OverrideStatusCommand struct {
	store AdminWriter
}

func NewOverrideStatusCommand(store AdminWriter) *OverrideStatusCommand {
	return &OverrideStatusCommand{store: store}
}

func (c *OverrideStatusCommand) Execute(ctx context.Context, msg OverrideStatusMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: admin store is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	count, err := c.store.OverrideStatus(ctx, msg.IDs, msg.Status)
	if err != nil {
		return err
	}
	storeResult(ctx, count)
	return nil
}

type ProcessPendingCommand struct {
	service EngineService
}

func NewProcessPendingCommand(service EngineService) *ProcessPendingCommand {
	return &ProcessPendingCommand{service: service}
}

func (c *ProcessPendingCommand) Execute(ctx context.Context, msg ProcessPendingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: processing service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	stats, err := c.service.ProcessPendingEvents(ctx, core.ProcessOptions{
		Limit:     msg.Limit,
		EventType: msg.EventType,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

type RetryFailedCommand struct {
	service EngineService
}

func NewRetryFailedCommand(service EngineService) *RetryFailedCommand {
	return &RetryFailedCommand{service: service}
}

func (c *RetryFailedCommand) Execute(ctx context.Context, msg RetryFailedMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: processing service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	stats, err := c.service.RetryFailedEvents(ctx, core.RetryOptions{
		Limit:      msg.Limit,
		MaxRetries: msg.MaxRetries,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

type ReclaimStaleCommand struct {
	service EngineService
}

func NewReclaimStaleCommand(service EngineService) *ReclaimStaleCommand {
	return &ReclaimStaleCommand{service: service}
}

func (c *ReclaimStaleCommand) Execute(ctx context.Context, msg ReclaimStaleMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: processing service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	count, err := c.service.ReclaimStaleEvents(ctx, msg.OlderThan)
	if err != nil {
		return err
	}
	storeResult(ctx, count)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
