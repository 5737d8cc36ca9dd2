package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.values), nil
}

type failingRawLoader struct{}

func (failingRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return nil, errors.New("loader unavailable")
}

type stepClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{current: start.UTC(), step: time.Millisecond}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(c.step)
	return c.current
}

// flakyStore wraps a memory store and lets tests inject store failures.
type flakyStore struct {
	*MemoryEventStore
	claimErr      error
	loseClaims    map[string]bool
	markFailedErr error
}

func (s *flakyStore) Claim(ctx context.Context, id string) (WebhookEvent, bool, error) {
	if s.claimErr != nil {
		return WebhookEvent{}, false, s.claimErr
	}
	if s.loseClaims[id] {
		return WebhookEvent{}, false, nil
	}
	return s.MemoryEventStore.Claim(ctx, id)
}

func (s *flakyStore) MarkFailed(ctx context.Context, id string, message string) (WebhookEvent, error) {
	if s.markFailedErr != nil {
		return WebhookEvent{}, s.markFailedErr
	}
	return s.MemoryEventStore.MarkFailed(ctx, id, message)
}

func newTestStore(t *testing.T) *MemoryEventStore {
	t.Helper()
	store := NewMemoryEventStore()
	store.Now = newStepClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)).Now
	return store
}

func newTestService(t *testing.T, store EventStore, opts ...Option) *Service {
	t.Helper()
	all := append([]Option{
		WithEventStore(store),
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
	}, opts...)
	svc, err := NewService(DefaultConfig(), all...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedEvent(t *testing.T, store EventStore, eventID string, eventType string) WebhookEvent {
	t.Helper()
	event, created, err := store.CreateIfAbsent(context.Background(), NewEvent{
		EventID:   eventID,
		EventType: eventType,
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   map[string]any{"id": eventID, "type": eventType},
	})
	if err != nil {
		t.Fatalf("seed %s: %v", eventID, err)
	}
	if !created {
		t.Fatalf("expected %s to be created", eventID)
	}
	return event
}
