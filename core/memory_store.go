package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventStore keeps events in process. Every method takes the store lock,
// so Claim is trivially exclusive.
type MemoryEventStore struct {
	mu        sync.Mutex
	byID      map[string]WebhookEvent
	byEventID map[string]string
	Now       func() time.Time
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		byID:      map[string]WebhookEvent{},
		byEventID: map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryEventStore) CreateIfAbsent(_ context.Context, event NewEvent) (WebhookEvent, bool, error) {
	if s == nil {
		return WebhookEvent{}, false, fmt.Errorf("core: memory event store is nil")
	}
	event.EventID = strings.TrimSpace(event.EventID)
	if err := event.Validate(); err != nil {
		return WebhookEvent{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byEventID[event.EventID]; ok {
		return cloneEvent(s.byID[id]), false, nil
	}
	now := s.now()
	record := WebhookEvent{
		ID:        uuid.NewString(),
		EventID:   event.EventID,
		EventType: event.EventType,
		Timestamp: event.Timestamp.UTC(),
		Email:     trimmedStringPointer(event.Email),
		MessageID: trimmedStringPointer(event.MessageID),
		Payload:   copyAnyMap(event.Payload),
		Status:    EventStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[record.ID] = record
	s.byEventID[record.EventID] = record.ID
	return cloneEvent(record), true, nil
}

func (s *MemoryEventStore) Get(_ context.Context, id string) (WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	return cloneEvent(record), nil
}

func (s *MemoryEventStore) GetByEventID(_ context.Context, eventID string) (WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEventID[strings.TrimSpace(eventID)]
	if !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	return cloneEvent(s.byID[id]), nil
}

func (s *MemoryEventStore) Claim(_ context.Context, id string) (WebhookEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return WebhookEvent{}, false, ErrEventNotFound
	}
	if record.Status != EventStatusPending {
		return cloneEvent(record), false, nil
	}
	record.Status = EventStatusProcessing
	record.UpdatedAt = s.now()
	s.byID[id] = record
	return cloneEvent(record), true, nil
}

func (s *MemoryEventStore) MarkProcessed(_ context.Context, id string) (WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	now := s.now()
	if err := record.TransitionTo(EventStatusProcessed, now); err != nil {
		return WebhookEvent{}, err
	}
	record.ProcessedAt = &now
	s.byID[id] = record
	return cloneEvent(record), nil
}

func (s *MemoryEventStore) MarkFailed(_ context.Context, id string, message string) (WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	if err := record.TransitionTo(EventStatusFailed, s.now()); err != nil {
		return WebhookEvent{}, err
	}
	record.ErrorMessage = message
	record.RetryCount++
	s.byID[id] = record
	return cloneEvent(record), nil
}

func (s *MemoryEventStore) UpdateStatus(_ context.Context, id string, update StatusUpdate) (WebhookEvent, error) {
	if !update.Status.Valid() {
		return WebhookEvent{}, fmt.Errorf("%w: %q", ErrInvalidEventStatus, update.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	s.overrideLocked(&record, update.Status)
	if update.ErrorMessage != nil {
		record.ErrorMessage = *update.ErrorMessage
	}
	s.byID[id] = record
	return cloneEvent(record), nil
}

func (s *MemoryEventStore) QueryPending(_ context.Context, query PendingQuery) ([]WebhookEvent, error) {
	eventType := strings.TrimSpace(query.EventType)
	return s.selectOrdered(query.Limit, func(record WebhookEvent) bool {
		if record.Status != EventStatusPending {
			return false
		}
		return eventType == "" || record.EventType == eventType
	}), nil
}

func (s *MemoryEventStore) QueryRetryable(_ context.Context, maxRetries int, limit int) ([]WebhookEvent, error) {
	return s.selectOrdered(limit, func(record WebhookEvent) bool {
		return record.Status == EventStatusFailed && record.RetryCount < maxRetries
	}), nil
}

func (s *MemoryEventStore) Requeue(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	count := 0
	for _, id := range ids {
		record, ok := s.byID[id]
		if !ok || record.Status != EventStatusFailed {
			continue
		}
		record.Status = EventStatusPending
		record.UpdatedAt = now
		s.byID[id] = record
		count++
	}
	return count, nil
}

func (s *MemoryEventStore) ReclaimStale(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	count := 0
	for id, record := range s.byID {
		if record.Status != EventStatusProcessing || !record.UpdatedAt.Before(olderThan) {
			continue
		}
		record.Status = EventStatusPending
		record.UpdatedAt = now
		s.byID[id] = record
		count++
	}
	return count, nil
}

func (s *MemoryEventStore) List(_ context.Context, filter EventFilter) (EventPage, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	eventType := strings.TrimSpace(filter.EventType)
	matches := s.selectOrdered(0, func(record WebhookEvent) bool {
		if filter.Status != "" && record.Status != filter.Status {
			return false
		}
		if eventType != "" && record.EventType != eventType {
			return false
		}
		if !filter.CreatedWithin(record.CreatedAt) {
			return false
		}
		return search == "" || matchesSearch(record, search)
	})
	// admin listings show newest first
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return paginate(matches, filter), nil
}

func (s *MemoryEventStore) UpdateAdminFields(_ context.Context, id string, update AdminUpdate) (WebhookEvent, error) {
	if update.Status != nil && !update.Status.Valid() {
		return WebhookEvent{}, fmt.Errorf("%w: %q", ErrInvalidEventStatus, *update.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[id]
	if !ok {
		return WebhookEvent{}, ErrEventNotFound
	}
	if update.Status != nil {
		s.overrideLocked(&record, *update.Status)
	}
	if update.ErrorMessage != nil {
		record.ErrorMessage = *update.ErrorMessage
	}
	record.UpdatedAt = s.now()
	s.byID[id] = record
	return cloneEvent(record), nil
}

func (s *MemoryEventStore) OverrideStatus(_ context.Context, ids []string, status EventStatus) (int, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEventStatus, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range ids {
		record, ok := s.byID[id]
		if !ok {
			continue
		}
		s.overrideLocked(&record, status)
		s.byID[id] = record
		count++
	}
	return count, nil
}

// overrideLocked sets a status without the engine state machine.
func (s *MemoryEventStore) overrideLocked(record *WebhookEvent, status EventStatus) {
	now := s.now()
	switch {
	case status == EventStatusProcessed && record.Status != EventStatusProcessed:
		record.ProcessedAt = &now
	case status != EventStatusProcessed:
		record.ProcessedAt = nil
	}
	record.Status = status
	record.UpdatedAt = now
}

func (s *MemoryEventStore) selectOrdered(limit int, match func(WebhookEvent) bool) []WebhookEvent {
	s.mu.Lock()
	out := make([]WebhookEvent, 0)
	for _, record := range s.byID {
		if match(record) {
			out = append(out, cloneEvent(record))
		}
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryEventStore) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// trimmedStringPointer drops blank optional lookups the same way the SQL store
// does.
func trimmedStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func matchesSearch(record WebhookEvent, search string) bool {
	candidates := []string{record.EventID, record.EventType}
	if record.Email != nil {
		candidates = append(candidates, *record.Email)
	}
	if record.MessageID != nil {
		candidates = append(candidates, *record.MessageID)
	}
	for _, candidate := range candidates {
		if strings.Contains(strings.ToLower(candidate), search) {
			return true
		}
	}
	return false
}

// NormalizePage applies the admin paging defaults.
func NormalizePage(filter EventFilter) (page int, perPage int) {
	page = filter.Page
	if page < 1 {
		page = 1
	}
	perPage = filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	if perPage > 500 {
		perPage = 500
	}
	return page, perPage
}

func paginate(items []WebhookEvent, filter EventFilter) EventPage {
	page, perPage := NormalizePage(filter)
	offset := (page - 1) * perPage
	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + perPage
	if end > total {
		end = total
	}
	result := EventPage{Items: items[offset:end], Total: total}
	if end < total {
		next := end
		result.NextOffset = &next
		result.HasMore = true
	}
	return result
}
