// Package gocommand publishes the admin commands and queries on the
// go-command dispatcher so other modules can drive the engine by message.
package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	mailevents "github.com/goliatone/go-mailevents"
	eventcommand "github.com/goliatone/go-mailevents/command"
	"github.com/goliatone/go-mailevents/core"
	eventquery "github.com/goliatone/go-mailevents/query"
)

// ValidateMessageContract requires a non-empty Type() and runs Validate()
// when the message has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) register(handler any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(handler)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.register(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.register(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Binding holds the dispatcher subscriptions created for one facade.
type Binding struct {
	subscriptions []commanddispatcher.Subscription
}

func (b *Binding) Close() {
	if b == nil {
		return
	}
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *Binding) Len() int {
	if b == nil {
		return 0
	}
	return len(b.subscriptions)
}

// RegisterFacade subscribes every facade command and query. On error the
// subscriptions made so far are released.
func RegisterFacade(adapter *RegistryAdapter, facade *mailevents.Facade, runnerOpts ...runner.Option) (*Binding, error) {
	if facade == nil {
		return nil, fmt.Errorf("gocommand: facade is required")
	}
	commands := facade.Commands()
	queries := facade.Queries()
	binding := &Binding{}

	steps := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[eventcommand.UpdateEventMessage](adapter, commands.UpdateEvent, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[eventcommand.OverrideStatusMessage](adapter, commands.OverrideStatus, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[eventcommand.ProcessPendingMessage](adapter, commands.ProcessPending, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[eventcommand.RetryFailedMessage](adapter, commands.RetryFailed, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[eventcommand.ReclaimStaleMessage](adapter, commands.ReclaimStale, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[eventquery.GetEventMessage, core.WebhookEvent](adapter, queries.GetEvent, runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[eventquery.ListEventsMessage, core.EventPage](adapter, queries.ListEvents, runnerOpts...)
		},
	}
	for _, step := range steps {
		subscription, err := step()
		if err != nil {
			binding.Close()
			return nil, err
		}
		binding.subscriptions = append(binding.subscriptions, subscription)
	}
	return binding, nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return errors.Join(errInvalidMessage, err)
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, errors.Join(errInvalidMessage, err)
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

var errInvalidMessage = errors.New("gocommand: invalid message")
