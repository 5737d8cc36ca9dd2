package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-mailevents/core"
)

const webhookEventCacheKeyPrefix = "go-mailevents::webhook_event::v1"

// CachedEventStore serves admin reads of single events through a cache and
// invalidates on every admin write. Engine and receiver writes go straight to
// the base store; wrap only the admin surface with it.
type CachedEventStore struct {
	base  core.AdminStore
	cache repositorycache.CacheService
}

func NewCachedEventStore(base core.AdminStore, cacheService repositorycache.CacheService) (*CachedEventStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base admin store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook event cache service is required")
	}
	return &CachedEventStore{base: base, cache: cacheService}, nil
}

// WebhookEventCacheKey returns go-mailevents::webhook_event::v1::<kind>::<value>
// with the value URL-path escaped.
func WebhookEventCacheKey(kind string, value string) (string, error) {
	kind = strings.TrimSpace(kind)
	value = strings.TrimSpace(value)
	if kind == "" || value == "" {
		return "", fmt.Errorf("sqlstore: cache key kind and value are required")
	}
	return strings.Join([]string{webhookEventCacheKeyPrefix, url.PathEscape(kind), url.PathEscape(value)}, "::"), nil
}

func (s *CachedEventStore) Get(ctx context.Context, id string) (core.WebhookEvent, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	key, err := WebhookEventCacheKey("id", id)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.WebhookEvent, error) {
		return s.base.Get(ctx, id)
	})
}

func (s *CachedEventStore) GetByEventID(ctx context.Context, eventID string) (core.WebhookEvent, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	key, err := WebhookEventCacheKey("event_id", eventID)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.WebhookEvent, error) {
		return s.base.GetByEventID(ctx, eventID)
	})
}

func (s *CachedEventStore) List(ctx context.Context, filter core.EventFilter) (core.EventPage, error) {
	if s == nil || s.base == nil {
		return core.EventPage{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	return s.base.List(ctx, filter)
}

func (s *CachedEventStore) UpdateAdminFields(ctx context.Context, id string, update core.AdminUpdate) (core.WebhookEvent, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	event, err := s.base.UpdateAdminFields(ctx, id, update)
	if err != nil {
		return core.WebhookEvent{}, err
	}
	if err := s.invalidate(ctx, event.ID, event.EventID); err != nil {
		return core.WebhookEvent{}, err
	}
	return event, nil
}

func (s *CachedEventStore) OverrideStatus(ctx context.Context, ids []string, status core.EventStatus) (int, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	count, err := s.base.OverrideStatus(ctx, ids, status)
	if err != nil {
		return count, err
	}
	for _, id := range ids {
		event, getErr := s.base.Get(ctx, id)
		if getErr != nil {
			continue
		}
		if err := s.invalidate(ctx, event.ID, event.EventID); err != nil {
			return count, err
		}
	}
	return count, nil
}

// Invalidate drops cached copies of an event after a write that bypassed the
// cached store, such as engine processing.
func (s *CachedEventStore) Invalidate(ctx context.Context, event core.WebhookEvent) error {
	if s == nil || s.cache == nil {
		return nil
	}
	return s.invalidate(ctx, event.ID, event.EventID)
}

func (s *CachedEventStore) invalidate(ctx context.Context, id string, eventID string) error {
	for _, pair := range [][2]string{{"id", id}, {"event_id", eventID}} {
		if strings.TrimSpace(pair[1]) == "" {
			continue
		}
		key, err := WebhookEventCacheKey(pair[0], pair[1])
		if err != nil {
			return err
		}
		if err := s.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
