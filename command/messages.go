package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-mailevents/core"
)

const (
	TypeUpdateEvent    = "mailevents.command.event.update"
	TypeOverrideStatus = "mailevents.command.event.override_status"
	TypeProcessPending = "mailevents.command.engine.process_pending"
	TypeRetryFailed    = "mailevents.command.engine.retry_failed"
	TypeReclaimStale   = "mailevents.command.engine.reclaim_stale"
)

// UpdateEventMessage edits the admin-writable fields of one event. Like the
// bulk override it cannot put an event into processing.
type UpdateEventMessage struct {
	ID           string
	Status       *core.EventStatus
	ErrorMessage *string
}

func (UpdateEventMessage) Type() string { return TypeUpdateEvent }

func (m UpdateEventMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return commandValidationError("id", "event id is required")
	}
	if m.Status == nil && m.ErrorMessage == nil {
		return commandValidationError("status", "status or error_message is required")
	}
	if m.Status != nil && !adminSettable(*m.Status) {
		return commandValidationError("status", "status must be pending, processed or failed")
	}
	return nil
}

// OverrideStatusMessage is a bulk admin action.
type OverrideStatusMessage struct {
	IDs    []string
	Status core.EventStatus
}

func (OverrideStatusMessage) Type() string { return TypeOverrideStatus }

func (m OverrideStatusMessage) Validate() error {
	if len(m.IDs) == 0 {
		return commandValidationError("ids", "at least one event id is required")
	}
	if !adminSettable(m.Status) {
		return commandValidationError("status", "status must be pending, processed or failed")
	}
	return nil
}

// adminSettable excludes processing: only the engine may hold a claim.
func adminSettable(status core.EventStatus) bool {
	switch status {
	case core.EventStatusPending, core.EventStatusProcessed, core.EventStatusFailed:
		return true
	default:
		return false
	}
}

type ProcessPendingMessage struct {
	Limit     int
	EventType string
}

func (ProcessPendingMessage) Type() string { return TypeProcessPending }

func (m ProcessPendingMessage) Validate() error {
	if m.Limit < 0 {
		return commandValidationError("limit", "limit must be >= 0")
	}
	return nil
}

type RetryFailedMessage struct {
	Limit      int
	MaxRetries int
}

func (RetryFailedMessage) Type() string { return TypeRetryFailed }

func (m RetryFailedMessage) Validate() error {
	if m.Limit < 0 {
		return commandValidationError("limit", "limit must be >= 0")
	}
	if m.MaxRetries < 0 {
		return commandValidationError("max_retries", "max_retries must be >= 0")
	}
	return nil
}

// ReclaimStaleMessage returns events stuck in processing longer than
// OlderThan to pending. Zero uses the configured stale window.
type ReclaimStaleMessage struct {
	OlderThan time.Duration
}

func (ReclaimStaleMessage) Type() string { return TypeReclaimStale }

func (m ReclaimStaleMessage) Validate() error {
	if m.OlderThan < 0 {
		return commandValidationError("older_than", "older_than must be >= 0")
	}
	return nil
}
