package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-mailevents/core"
)

// EventStore persists webhook events in mail_webhook_events. Every status
// change the engine relies on is a conditional UPDATE whose affected row
// count decides the outcome, so concurrent processors never both win.
type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEventRecord]
	now  func() time.Time
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookEventRecord](db, webhookEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook event repository wiring: %w", err)
		}
	}
	return &EventStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *EventStore) CreateIfAbsent(ctx context.Context, event core.NewEvent) (core.WebhookEvent, bool, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, false, errStoreNotConfigured
	}
	event.EventID = strings.TrimSpace(event.EventID)
	if err := event.Validate(); err != nil {
		return core.WebhookEvent{}, false, err
	}

	now := s.now()
	timestamp := event.Timestamp.UTC()
	if timestamp.IsZero() {
		timestamp = now
	}
	record := &webhookEventRecord{
		ID:           uuid.NewString(),
		EventID:      event.EventID,
		EventType:    event.EventType,
		Timestamp:    timestamp,
		Email:        trimmedPointer(event.Email),
		MessageID:    trimmedPointer(event.MessageID),
		Payload:      copyAnyMap(event.Payload),
		Status:       string(core.EventStatusPending),
		CreatedAt:    now,
		UpdatedAt:    now,
		ErrorMessage: "",
		RetryCount:   0,
	}
	res, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		if !isUniqueViolation(err) {
			return core.WebhookEvent{}, false, err
		}
		existing, getErr := s.GetByEventID(ctx, event.EventID)
		return existing, false, getErr
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		existing, getErr := s.GetByEventID(ctx, event.EventID)
		return existing, false, getErr
	}
	return webhookEventToDomain(record), true, nil
}

func (s *EventStore) Get(ctx context.Context, id string) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, errStoreNotConfigured
	}
	return s.selectOne(ctx, "id", strings.TrimSpace(id))
}

func (s *EventStore) GetByEventID(ctx context.Context, eventID string) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, errStoreNotConfigured
	}
	return s.selectOne(ctx, "event_id", strings.TrimSpace(eventID))
}

func (s *EventStore) Claim(ctx context.Context, id string) (core.WebhookEvent, bool, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, false, errStoreNotConfigured
	}
	id = strings.TrimSpace(id)
	res, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("status = ?", string(core.EventStatusProcessing)).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Where("status = ?", string(core.EventStatusPending)).
		Exec(ctx)
	if err != nil {
		return core.WebhookEvent{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.WebhookEvent{}, false, err
	}
	event, err := s.Get(ctx, id)
	if err != nil {
		return core.WebhookEvent{}, false, err
	}
	return event, affected == 1, nil
}

func (s *EventStore) MarkProcessed(ctx context.Context, id string) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, errStoreNotConfigured
	}
	now := s.now()
	query := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("status = ?", string(core.EventStatusProcessed)).
		Set("processed_at = ?", now).
		Set("updated_at = ?", now)
	return s.finishProcessing(ctx, strings.TrimSpace(id), core.EventStatusProcessed, query)
}

func (s *EventStore) MarkFailed(ctx context.Context, id string, message string) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, errStoreNotConfigured
	}
	query := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("status = ?", string(core.EventStatusFailed)).
		Set("error_message = ?", message).
		Set("retry_count = retry_count + 1").
		Set("updated_at = ?", s.now())
	return s.finishProcessing(ctx, strings.TrimSpace(id), core.EventStatusFailed, query)
}

// finishProcessing applies a terminal engine write that is only legal while
// the row is still processing.
func (s *EventStore) finishProcessing(
	ctx context.Context,
	id string,
	next core.EventStatus,
	query *bun.UpdateQuery,
) (core.WebhookEvent, error) {
	res, err := query.
		Where("id = ?", id).
		Where("status = ?", string(core.EventStatusProcessing)).
		Exec(ctx)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.WebhookEvent{}, err
	}
	event, err := s.Get(ctx, id)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	if affected == 0 {
		return core.WebhookEvent{}, fmt.Errorf("%w: %s -> %s", core.ErrInvalidEventStatusTransition, event.Status, next)
	}
	return event, nil
}

func (s *EventStore) UpdateStatus(ctx context.Context, id string, update core.StatusUpdate) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, errStoreNotConfigured
	}
	if !update.Status.Valid() {
		return core.WebhookEvent{}, fmt.Errorf("%w: %q", core.ErrInvalidEventStatus, update.Status)
	}
	return s.UpdateAdminFields(ctx, id, core.AdminUpdate{
		Status:       &update.Status,
		ErrorMessage: update.ErrorMessage,
	})
}

func (s *EventStore) QueryPending(ctx context.Context, query core.PendingQuery) ([]core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return nil, errStoreNotConfigured
	}
	records := make([]*webhookEventRecord, 0)
	q := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.EventStatusPending))
	if eventType := strings.TrimSpace(query.EventType); eventType != "" {
		q = q.Where("?TableAlias.event_type = ?", eventType)
	}
	q = q.OrderExpr("?TableAlias.created_at ASC, ?TableAlias.event_id ASC")
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return webhookEventsToDomain(records), nil
}

func (s *EventStore) QueryRetryable(ctx context.Context, maxRetries int, limit int) ([]core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return nil, errStoreNotConfigured
	}
	records := make([]*webhookEventRecord, 0)
	q := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.EventStatusFailed)).
		Where("?TableAlias.retry_count < ?", maxRetries).
		OrderExpr("?TableAlias.created_at ASC, ?TableAlias.event_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return webhookEventsToDomain(records), nil
}

func (s *EventStore) Requeue(ctx context.Context, ids []string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errStoreNotConfigured
	}
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("status = ?", string(core.EventStatusPending)).
		Set("updated_at = ?", s.now()).
		Where("id IN (?)", bun.In(ids)).
		Where("status = ?", string(core.EventStatusFailed)).
		Exec(ctx)
	return rowsAffected(res, err)
}

func (s *EventStore) ReclaimStale(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, errStoreNotConfigured
	}
	res, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("status = ?", string(core.EventStatusPending)).
		Set("updated_at = ?", s.now()).
		Where("status = ?", string(core.EventStatusProcessing)).
		Where("updated_at < ?", olderThan.UTC()).
		Exec(ctx)
	return rowsAffected(res, err)
}

func (s *EventStore) List(ctx context.Context, filter core.EventFilter) (core.EventPage, error) {
	if s == nil || s.repo == nil {
		return core.EventPage{}, errStoreNotConfigured
	}
	page, perPage := core.NormalizePage(filter)
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if status := strings.TrimSpace(string(filter.Status)); status != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", status))
	}
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		selectors = append(selectors, repository.SelectBy("event_type", "=", eventType))
	}
	if !filter.CreatedFrom.IsZero() {
		from := filter.CreatedFrom.UTC()
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.created_at >= ?", from)
		}))
	}
	if !filter.CreatedTo.IsZero() {
		to := filter.CreatedTo.UTC()
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.created_at < ?", to)
		}))
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.
					WhereOr("LOWER(?TableAlias.event_id) LIKE ? ESCAPE '\\'", pattern).
					WhereOr("LOWER(?TableAlias.event_type) LIKE ? ESCAPE '\\'", pattern).
					WhereOr("LOWER(?TableAlias.email) LIKE ? ESCAPE '\\'", pattern).
					WhereOr("LOWER(?TableAlias.message_id) LIKE ? ESCAPE '\\'", pattern)
			})
		}))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.EventPage{}, err
	}
	items := webhookEventsToDomain(records)
	result := core.EventPage{
		Items: items,
		Total: total,
	}
	if offset+len(items) < total {
		next := offset + len(items)
		result.HasMore = true
		result.NextOffset = &next
	}
	return result, nil
}

func (s *EventStore) UpdateAdminFields(ctx context.Context, id string, update core.AdminUpdate) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, errStoreNotConfigured
	}
	if update.Status != nil && !update.Status.Valid() {
		return core.WebhookEvent{}, fmt.Errorf("%w: %q", core.ErrInvalidEventStatus, *update.Status)
	}
	id = strings.TrimSpace(id)
	now := s.now()
	query := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("updated_at = ?", now)
	if update.Status != nil {
		query = applyStatusOverride(query, *update.Status, now)
	}
	if update.ErrorMessage != nil {
		query = query.Set("error_message = ?", *update.ErrorMessage)
	}
	affected, err := rowsAffected(query.Where("id = ?", id).Exec(ctx))
	if err != nil {
		return core.WebhookEvent{}, err
	}
	if affected == 0 {
		return core.WebhookEvent{}, fmt.Errorf("%w: id %q", core.ErrEventNotFound, id)
	}
	return s.Get(ctx, id)
}

func (s *EventStore) OverrideStatus(ctx context.Context, ids []string, status core.EventStatus) (int, error) {
	if s == nil || s.db == nil {
		return 0, errStoreNotConfigured
	}
	if !status.Valid() {
		return 0, fmt.Errorf("%w: %q", core.ErrInvalidEventStatus, status)
	}
	ids = normalizeIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	now := s.now()
	query := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("updated_at = ?", now)
	query = applyStatusOverride(query, status, now)
	return rowsAffected(query.Where("id IN (?)", bun.In(ids)).Exec(ctx))
}

func (s *EventStore) selectOne(ctx context.Context, column string, value string) (core.WebhookEvent, error) {
	record := &webhookEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookEvent{}, fmt.Errorf("%w: %s %q", core.ErrEventNotFound, column, value)
		}
		return core.WebhookEvent{}, err
	}
	return webhookEventToDomain(record), nil
}

// applyStatusOverride bypasses the engine state machine. processed_at is
// stamped on entry to processed, kept while processed and cleared otherwise.
func applyStatusOverride(query *bun.UpdateQuery, status core.EventStatus, now time.Time) *bun.UpdateQuery {
	query = query.Set("status = ?", string(status))
	if status == core.EventStatusProcessed {
		return query.Set(
			"processed_at = CASE WHEN status = ? THEN COALESCE(processed_at, ?) ELSE ? END",
			string(core.EventStatusProcessed),
			now,
			now,
		)
	}
	return query.Set("processed_at = NULL")
}

func rowsAffected(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func webhookEventToDomain(record *webhookEventRecord) core.WebhookEvent {
	if record == nil {
		return core.WebhookEvent{}
	}
	event := core.WebhookEvent{
		ID:           record.ID,
		EventID:      record.EventID,
		EventType:    record.EventType,
		Timestamp:    record.Timestamp.UTC(),
		Email:        trimmedPointer(record.Email),
		MessageID:    trimmedPointer(record.MessageID),
		Payload:      copyAnyMap(record.Payload),
		Status:       core.EventStatus(record.Status),
		CreatedAt:    record.CreatedAt.UTC(),
		UpdatedAt:    record.UpdatedAt.UTC(),
		ErrorMessage: record.ErrorMessage,
		RetryCount:   record.RetryCount,
	}
	if record.ProcessedAt != nil {
		value := record.ProcessedAt.UTC()
		event.ProcessedAt = &value
	}
	return event
}

func webhookEventsToDomain(records []*webhookEventRecord) []core.WebhookEvent {
	out := make([]core.WebhookEvent, 0, len(records))
	for _, record := range records {
		out = append(out, webhookEventToDomain(record))
	}
	return out
}

var errStoreNotConfigured = errors.New("sqlstore: webhook event store is not configured")

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func trimmedPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
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

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
