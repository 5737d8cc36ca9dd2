package mailevents

import (
	"fmt"

	eventcommand "github.com/goliatone/go-mailevents/command"
	"github.com/goliatone/go-mailevents/core"
	eventquery "github.com/goliatone/go-mailevents/query"
)

type Commands struct {
	UpdateEvent    *eventcommand.UpdateEventCommand
	OverrideStatus *eventcommand.OverrideStatusCommand
	ProcessPending *eventcommand.ProcessPendingCommand
	RetryFailed    *eventcommand.RetryFailedCommand
	ReclaimStale   *eventcommand.ReclaimStaleCommand
}

type Queries struct {
	GetEvent   *eventquery.GetEventQuery
	ListEvents *eventquery.ListEventsQuery
}

// Facade bundles the admin commands and queries over one engine and one
// admin store.
type Facade struct {
	service eventcommand.EngineService
	admin   core.AdminStore

	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	adminStore core.AdminStore
}

// WithAdminStore overrides the store used for admin reads and writes, for
// example a sqlstore.CachedEventStore.
func WithAdminStore(store core.AdminStore) FacadeOption {
	return func(options *facadeOptions) {
		options.adminStore = store
	}
}

func NewFacade(service eventcommand.EngineService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("mailevents: engine service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	admin := cfg.adminStore
	if admin == nil {
		admin = resolveAdminStore(service)
	}
	if admin == nil {
		return nil, fmt.Errorf("mailevents: admin store is required")
	}

	facade := &Facade{service: service, admin: admin}
	facade.commands = Commands{
		UpdateEvent:    eventcommand.NewUpdateEventCommand(admin),
		OverrideStatus: eventcommand.NewOverrideStatusCommand(admin),
		ProcessPending: eventcommand.NewProcessPendingCommand(service),
		RetryFailed:    eventcommand.NewRetryFailedCommand(service),
		ReclaimStale:   eventcommand.NewReclaimStaleCommand(service),
	}
	facade.queries = Queries{
		GetEvent:   eventquery.NewGetEventQuery(admin),
		ListEvents: eventquery.NewListEventsQuery(admin),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() eventcommand.EngineService {
	if f == nil {
		return nil
	}
	return f.service
}

func (f *Facade) AdminStore() core.AdminStore {
	if f == nil {
		return nil
	}
	return f.admin
}

// resolveAdminStore falls back to the engine's event store when it also
// implements the admin surface, which both bundled stores do.
func resolveAdminStore(service eventcommand.EngineService) core.AdminStore {
	if admin, ok := service.(core.AdminStore); ok {
		return admin
	}
	provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	})
	if !ok {
		return nil
	}
	admin, ok := provider.Dependencies().EventStore.(core.AdminStore)
	if !ok {
		return nil
	}
	return admin
}
