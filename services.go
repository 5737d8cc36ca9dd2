package mailevents

import "github.com/goliatone/go-mailevents/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type WebhookEvent = core.WebhookEvent
type EventStatus = core.EventStatus
type EventStore = core.EventStore
type AdminStore = core.AdminStore
type Handler = core.Handler
type HandlerFunc = core.HandlerFunc
type Listener = core.Listener
type Notification = core.Notification
type HookRegistry = core.HookRegistry
type ProcessingStats = core.ProcessingStats
type ProcessOptions = core.ProcessOptions
type RetryOptions = core.RetryOptions

const (
	EventStatusPending    = core.EventStatusPending
	EventStatusProcessing = core.EventStatusProcessing
	EventStatusProcessed  = core.EventStatusProcessed
	EventStatusFailed     = core.EventStatusFailed
)

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithEventStore      = core.WithEventStore
	WithHooks           = core.WithHooks
	WithDefaultHandler  = core.WithDefaultHandler
	WithClock           = core.WithClock

	ListenerFunc = core.ListenerFunc
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func NewMemoryEventStore() *core.MemoryEventStore {
	return core.NewMemoryEventStore()
}

// Setup builds a Service whose default handler and hook listeners come from
// the registered extension packs. Options passed explicitly win.
func Setup(cfg Config, extensions *ExtensionHooks, opts ...Option) (*Service, error) {
	hooks := core.NewHookRegistry()
	if err := extensions.ApplyListenerPacks(hooks); err != nil {
		return nil, err
	}
	router, err := extensions.BuildRouter(core.NopHandler{})
	if err != nil {
		return nil, err
	}
	base := []Option{WithHooks(hooks), WithDefaultHandler(router)}
	return core.NewService(cfg, append(base, opts...)...)
}
