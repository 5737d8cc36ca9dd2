package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	mailevents "github.com/goliatone/go-mailevents"
	"github.com/goliatone/go-mailevents/adapters/gojob"
	"github.com/goliatone/go-mailevents/adapters/gologger"
	promadapter "github.com/goliatone/go-mailevents/adapters/prometheus"
	"github.com/goliatone/go-mailevents/adapters/zerologger"
	"github.com/goliatone/go-mailevents/core"
	eventmigrations "github.com/goliatone/go-mailevents/migrations"
	sqlstore "github.com/goliatone/go-mailevents/store/sql"
	"github.com/goliatone/go-mailevents/webhooks"
)

const adminCacheTTL = 30 * time.Second

type databaseConfig struct {
	cfg    core.DatabaseConfig
	driver string
}

func (c databaseConfig) GetDebug() bool            { return c.cfg.Debug }
func (c databaseConfig) GetDriver() string         { return c.driver }
func (c databaseConfig) GetServer() string         { return c.cfg.DSN }
func (c databaseConfig) GetOtelIdentifier() string { return "go-mailevents" }
func (c databaseConfig) GetPingTimeout() time.Duration {
	if timeout := (core.Config{Database: c.cfg}).PingTimeout(); timeout > 0 {
		return timeout
	}
	return time.Duration(core.DefaultDatabasePingTimeout) * time.Second
}

// openDatabase opens the persistence client and registers the embedded
// migrations for the configured dialect. Migrations are not applied here.
func openDatabase(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	spec, err := resolveDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(spec.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mailevents: open %s database: %w", spec.driver, err)
	}
	if spec.driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(databaseConfig{cfg: cfg, driver: spec.driver}, sqlDB, spec.dialect())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("mailevents: persistence client: %w", err)
	}
	_, err = eventmigrations.Register(ctx, spec.migration, func(_ context.Context, source eventmigrations.Source) error {
		client.RegisterSQLMigrations(source.FS)
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func newLogger(opts *rootOptions, out io.Writer) (*zerologger.Logger, *zerologger.Provider) {
	logger := zerologger.New(zerologger.Options{
		Level:   opts.logLevel,
		Console: opts.logConsole,
		Output:  out,
	})
	return logger, zerologger.NewProvider(logger)
}

// app is the wired runtime shared by every subcommand.
type app struct {
	cfg      core.Config
	logger   core.Logger
	provider core.LoggerProvider

	client   *persistence.Client
	service  *mailevents.Service
	facade   *mailevents.Facade
	receiver *webhooks.Receiver
	runner   *gojob.Runner
	metrics  *promadapter.Recorder
}

type appOptions struct {
	extensions *mailevents.ExtensionHooks
	registry   *prometheus.Registry
	migrate    bool
}

func buildApp(ctx context.Context, cfg core.Config, logger core.Logger, provider core.LoggerProvider, opts appOptions) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a, err := wireApp(ctx, cfg, client, logger, provider, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return a, nil
}

func wireApp(ctx context.Context, cfg core.Config, client *persistence.Client, logger core.Logger, provider core.LoggerProvider, opts appOptions) (*app, error) {
	if opts.migrate {
		if err := client.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("mailevents: migrate: %w", err)
		}
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return nil, err
	}
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = adminCacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("mailevents: admin cache: %w", err)
	}
	cached, err := sqlstore.NewCachedEventStore(factory.AdminStore(), cacheService)
	if err != nil {
		return nil, err
	}

	extensions := opts.extensions
	if extensions == nil {
		extensions = mailevents.NewExtensionHooks()
	}
	if err := registerBuiltinListeners(extensions, cached); err != nil {
		return nil, err
	}

	metrics := promadapter.NewRecorder(opts.registry)
	service, err := mailevents.Setup(cfg, extensions,
		mailevents.WithEventStore(factory.EventStore()),
		mailevents.WithLogger(gologger.Component(provider, logger, "engine")),
		mailevents.WithLoggerProvider(provider),
		mailevents.WithMetricsRecorder(metrics),
	)
	if err != nil {
		return nil, err
	}
	facade, err := mailevents.NewFacade(service, mailevents.WithAdminStore(cached))
	if err != nil {
		return nil, err
	}
	receiver, err := webhooks.NewReceiverFromConfig(service.Config(), factory.EventStore(), service.Dependencies().Hooks,
		webhooks.WithReceiverLogger(gologger.Component(provider, logger, "receiver")),
		webhooks.WithReceiverMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}
	runner, err := gojob.NewRunner(service)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      service.Config(),
		logger:   logger,
		provider: provider,
		client:   client,
		service:  service,
		facade:   facade,
		receiver: receiver,
		runner:   runner,
		metrics:  metrics,
	}, nil
}

// registerBuiltinListeners keeps cached admin reads in step with engine
// outcomes.
func registerBuiltinListeners(extensions *mailevents.ExtensionHooks, cached *sqlstore.CachedEventStore) error {
	invalidate := func(name string) core.Listener {
		return core.ListenerFunc(name, func(ctx context.Context, n core.Notification) error {
			return cached.Invalidate(ctx, n.Event)
		})
	}
	for _, pack := range []mailevents.ListenerPack{
		{Name: "mailevents.cache.processed", Hook: core.HookProcessed, Listeners: []core.Listener{invalidate("cache-invalidate-processed")}},
		{Name: "mailevents.cache.failed", Hook: core.HookFailed, Listeners: []core.Listener{invalidate("cache-invalidate-failed")}},
	} {
		if err := extensions.RegisterListenerPack(pack); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}
