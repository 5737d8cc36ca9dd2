package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

type HookPoint string

const (
	HookReceived  HookPoint = "received"
	HookProcessed HookPoint = "processed"
	HookFailed    HookPoint = "failed"
)

func (p HookPoint) Valid() bool {
	switch p {
	case HookReceived, HookProcessed, HookFailed:
		return true
	default:
		return false
	}
}

// Notification is delivered to every listener registered on a hook point.
// Payload is only set for received notifications and Err only for failed ones.
type Notification struct {
	Hook    HookPoint
	Event   WebhookEvent
	Payload map[string]any
	Err     error
}

type Listener interface {
	Name() string
	OnEvent(ctx context.Context, notification Notification) error
}

type namedListener struct {
	name string
	fn   func(ctx context.Context, notification Notification) error
}

func (l namedListener) Name() string { return l.name }

func (l namedListener) OnEvent(ctx context.Context, notification Notification) error {
	if l.fn == nil {
		return nil
	}
	return l.fn(ctx, notification)
}

// ListenerFunc adapts a function into a named Listener.
func ListenerFunc(name string, fn func(ctx context.Context, notification Notification) error) Listener {
	return namedListener{name: strings.TrimSpace(name), fn: fn}
}

// HookRegistry fans notifications out to listeners synchronously, in
// registration order. A failing or panicking listener never stops the
// remaining listeners and never reaches the caller's control flow.
type HookRegistry struct {
	mu        sync.RWMutex
	listeners map[HookPoint][]Listener
	logger    Logger
	metrics   MetricsRecorder
}

func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		listeners: map[HookPoint][]Listener{},
		metrics:   NopMetricsRecorder{},
	}
}

func (r *HookRegistry) WithLogger(logger Logger) *HookRegistry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
	return r
}

func (r *HookRegistry) WithMetricsRecorder(recorder MetricsRecorder) *HookRegistry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if recorder == nil {
		recorder = NopMetricsRecorder{}
	}
	r.metrics = recorder
	return r
}

func (r *HookRegistry) Register(point HookPoint, listener Listener) error {
	if r == nil {
		return fmt.Errorf("core: hook registry is nil")
	}
	if !point.Valid() {
		return fmt.Errorf("core: unknown hook point %q", point)
	}
	if listener == nil {
		return fmt.Errorf("core: listener is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners == nil {
		r.listeners = map[HookPoint][]Listener{}
	}
	r.listeners[point] = append(r.listeners[point], listener)
	return nil
}

func (r *HookRegistry) OnReceived(listener Listener) error {
	return r.Register(HookReceived, listener)
}

func (r *HookRegistry) OnProcessed(listener Listener) error {
	return r.Register(HookProcessed, listener)
}

func (r *HookRegistry) OnFailed(listener Listener) error {
	return r.Register(HookFailed, listener)
}

func (r *HookRegistry) Listeners(point HookPoint) []Listener {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Listener, len(r.listeners[point]))
	copy(out, r.listeners[point])
	return out
}

// Publish runs every listener for the notification's hook point. The joined
// listener errors are returned for observability only.
func (r *HookRegistry) Publish(ctx context.Context, notification Notification) error {
	if r == nil {
		return nil
	}
	var hookErr error
	for _, listener := range r.Listeners(notification.Hook) {
		if listener == nil {
			continue
		}
		if err := r.invoke(ctx, listener, notification); err != nil {
			hookErr = errors.Join(hookErr, err)
			r.recordFailure(ctx, listener, notification, err)
		}
	}
	return hookErr
}

func (r *HookRegistry) invoke(ctx context.Context, listener Listener, notification Notification) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s hook listener %q panicked: %v", notification.Hook, listenerName(listener), recovered)
		}
	}()
	// listeners get their own copy so they cannot mutate the engine's view
	notification.Event = cloneEvent(notification.Event)
	if err := listener.OnEvent(ctx, notification); err != nil {
		return fmt.Errorf("%s hook listener %q failed: %w", notification.Hook, listenerName(listener), err)
	}
	return nil
}

func (r *HookRegistry) recordFailure(ctx context.Context, listener Listener, notification Notification, err error) {
	r.mu.RLock()
	logger := r.logger
	metrics := r.metrics
	r.mu.RUnlock()

	if metrics != nil {
		metrics.IncCounter(ctx, "mailevents.hooks.failures", 1, map[string]string{
			"hook":     string(notification.Hook),
			"listener": listenerName(listener),
		})
	}
	if logger == nil {
		return
	}
	logger.WithContext(ctx).Error("hook listener failed",
		"hook", string(notification.Hook),
		"listener", listenerName(listener),
		"event_id", notification.Event.EventID,
		"error", err.Error(),
	)
}

func listenerName(listener Listener) string {
	if listener == nil {
		return "unknown"
	}
	name := strings.TrimSpace(listener.Name())
	if name == "" {
		return "unnamed"
	}
	return name
}
