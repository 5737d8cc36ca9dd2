package mailevents

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-mailevents/core"
)

// HandlerPack contributes per event type handlers, e.g. one pack for
// bounces and complaints and another for engagement events.
type HandlerPack struct {
	Name   string
	Routes map[string]core.Handler
}

// ListenerPack contributes listeners for one hook point.
type ListenerPack struct {
	Name      string
	Hook      core.HookPoint
	Listeners []core.Listener
}

// ExtensionHooks collects handler and listener packs from downstream
// modules before the engine starts. Packs apply in name order.
type ExtensionHooks struct {
	mu sync.RWMutex

	handlerPacks  map[string]HandlerPack
	listenerPacks map[string]ListenerPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		handlerPacks:  map[string]HandlerPack{},
		listenerPacks: map[string]ListenerPack{},
	}
}

func (h *ExtensionHooks) RegisterHandlerPack(pack HandlerPack) error {
	if h == nil {
		return fmt.Errorf("mailevents: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("mailevents: handler pack name is required")
	}
	if len(pack.Routes) == 0 {
		return fmt.Errorf("mailevents: handler pack %q has no routes", name)
	}
	routes := make(map[string]core.Handler, len(pack.Routes))
	for eventType, handler := range pack.Routes {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			return fmt.Errorf("mailevents: handler pack %q has an empty event type", name)
		}
		if handler == nil {
			return fmt.Errorf("mailevents: handler pack %q has a nil handler for %q", name, eventType)
		}
		routes[eventType] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.handlerPacks[name]; exists {
		return fmt.Errorf("mailevents: handler pack %q already registered", name)
	}
	h.handlerPacks[name] = HandlerPack{Name: name, Routes: routes}
	return nil
}

func (h *ExtensionHooks) RegisterListenerPack(pack ListenerPack) error {
	if h == nil {
		return fmt.Errorf("mailevents: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("mailevents: listener pack name is required")
	}
	if !pack.Hook.Valid() {
		return fmt.Errorf("mailevents: listener pack %q has unknown hook %q", name, pack.Hook)
	}
	if len(pack.Listeners) == 0 {
		return fmt.Errorf("mailevents: listener pack %q has no listeners", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.listenerPacks[name]; exists {
		return fmt.Errorf("mailevents: listener pack %q already registered", name)
	}
	h.listenerPacks[name] = ListenerPack{
		Name:      name,
		Hook:      pack.Hook,
		Listeners: append([]core.Listener(nil), pack.Listeners...),
	}
	return nil
}

// BuildRouter merges every handler pack into one router. Two packs claiming
// the same event type is a wiring error.
func (h *ExtensionHooks) BuildRouter(fallback core.Handler) (*core.EventTypeRouter, error) {
	router := core.NewEventTypeRouter()
	router.Fallback = fallback
	if h == nil {
		return router, nil
	}
	owners := map[string]string{}
	for _, pack := range h.HandlerPacks() {
		eventTypes := make([]string, 0, len(pack.Routes))
		for eventType := range pack.Routes {
			eventTypes = append(eventTypes, eventType)
		}
		sort.Strings(eventTypes)
		for _, eventType := range eventTypes {
			if owner, exists := owners[eventType]; exists {
				return nil, fmt.Errorf("mailevents: event type %q claimed by packs %q and %q", eventType, owner, pack.Name)
			}
			owners[eventType] = pack.Name
			router.On(eventType, pack.Routes[eventType])
		}
	}
	return router, nil
}

func (h *ExtensionHooks) ApplyListenerPacks(registry *core.HookRegistry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("mailevents: hook registry is required")
	}
	h.mu.RLock()
	names := make([]string, 0, len(h.listenerPacks))
	for name := range h.listenerPacks {
		names = append(names, name)
	}
	packs := make(map[string]ListenerPack, len(h.listenerPacks))
	for name, pack := range h.listenerPacks {
		packs[name] = pack
	}
	h.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		pack := packs[name]
		for _, listener := range pack.Listeners {
			if err := registry.Register(pack.Hook, listener); err != nil {
				return fmt.Errorf("mailevents: listener pack %q: %w", name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) HandlerPacks() []HandlerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.handlerPacks))
	for name := range h.handlerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]HandlerPack, 0, len(names))
	for _, name := range names {
		pack := h.handlerPacks[name]
		routes := make(map[string]core.Handler, len(pack.Routes))
		for eventType, handler := range pack.Routes {
			routes[eventType] = handler
		}
		out = append(out, HandlerPack{Name: pack.Name, Routes: routes})
	}
	return out
}

func (h *ExtensionHooks) ListenerPackNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.listenerPacks))
	for name := range h.listenerPacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
