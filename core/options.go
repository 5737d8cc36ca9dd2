package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	store           EventStore
	hooks           *HookRegistry
	handler         Handler
	clock           func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithEventStore(store EventStore) Option {
	return func(b *serviceBuilder) {
		b.store = store
	}
}

// WithHooks shares a registry between the receiver and the engine.
func WithHooks(hooks *HookRegistry) Option {
	return func(b *serviceBuilder) {
		b.hooks = hooks
	}
}

// WithDefaultHandler sets the handler used when a processing call does not
// supply one.
func WithDefaultHandler(handler Handler) Option {
	return func(b *serviceBuilder) {
		b.handler = handler
	}
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("mailevents", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     DefaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		handler:         NopHandler{},
		clock:           func() time.Time { return time.Now().UTC() },
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.Values), nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults < loaded config < runtime overrides.
// Runtime values only win when they are set.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setInt := func(target map[string]any, key string, value int) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	setBool := func(target map[string]any, key string, value bool) {
		if includeZero || value {
			target[key] = value
		}
	}
	section := func(key string, values map[string]any) {
		if len(values) > 0 {
			layer[key] = values
		}
	}

	setString(layer, "service_name", cfg.ServiceName)

	webhook := map[string]any{}
	setString(webhook, "path", cfg.Webhook.Path)
	setString(webhook, "secret", cfg.Webhook.Secret)
	setInt(webhook, "timeout_seconds", cfg.Webhook.TimeoutSeconds)
	setInt(webhook, "replay_window_seconds", cfg.Webhook.ReplayWindowSeconds)
	if includeZero || cfg.Webhook.MaxBodyBytes != 0 {
		webhook["max_body_bytes"] = cfg.Webhook.MaxBodyBytes
	}
	section("webhook", webhook)

	processing := map[string]any{}
	setInt(processing, "batch_size", cfg.Processing.BatchSize)
	setInt(processing, "max_retries", cfg.Processing.MaxRetries)
	setInt(processing, "handler_timeout_seconds", cfg.Processing.HandlerTimeoutSeconds)
	setInt(processing, "stale_after_seconds", cfg.Processing.StaleAfterSeconds)
	setInt(processing, "schedule_interval_seconds", cfg.Processing.ScheduleIntervalSeconds)
	setInt(processing, "retry_interval_seconds", cfg.Processing.RetryIntervalSeconds)
	section("processing", processing)

	database := map[string]any{}
	setString(database, "driver", cfg.Database.Driver)
	setString(database, "dsn", cfg.Database.DSN)
	setBool(database, "debug", cfg.Database.Debug)
	setInt(database, "ping_timeout_seconds", cfg.Database.PingTimeoutSeconds)
	section("database", database)

	httpSection := map[string]any{}
	setString(httpSection, "address", cfg.HTTP.Address)
	setBool(httpSection, "admin_enabled", cfg.HTTP.AdminEnabled)
	section("http", httpSection)

	return layer
}
