package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:mail_webhook_events,alias:mwe"`

	ID           string         `bun:"id,pk"`
	EventID      string         `bun:"event_id,notnull"`
	EventType    string         `bun:"event_type,notnull"`
	Timestamp    time.Time      `bun:"timestamp,notnull"`
	Email        *string        `bun:"email"`
	MessageID    *string        `bun:"message_id"`
	Payload      map[string]any `bun:"payload,type:jsonb,notnull"`
	Status       string         `bun:"status,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	ProcessedAt  *time.Time     `bun:"processed_at,nullzero"`
	ErrorMessage string         `bun:"error_message,notnull"`
	RetryCount   int            `bun:"retry_count,notnull"`
}
