package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-mailevents/core"
)

const (
	ResultReceived  = "received"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"

	duplicateMessage = "Event already processed"
)

// InboundRequest is the transport-neutral view of a webhook delivery.
type InboundRequest struct {
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
}

// ReceiveResult carries the response the transport should write back.
type ReceiveResult struct {
	Outcome    string
	StatusCode int
	Body       map[string]any
	Event      core.WebhookEvent
}

type Receiver struct {
	store    core.EventStore
	hooks    *core.HookRegistry
	verifier Verifier
	logger   core.Logger
	metrics  core.MetricsRecorder
	now      func() time.Time
}

type ReceiverOption func(*Receiver)

func WithVerifier(verifier Verifier) ReceiverOption {
	return func(r *Receiver) {
		r.verifier = verifier
	}
}

func WithReceiverLogger(logger core.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.logger = logger
	}
}

func WithReceiverMetrics(recorder core.MetricsRecorder) ReceiverOption {
	return func(r *Receiver) {
		r.metrics = recorder
	}
}

func WithReceiverClock(now func() time.Time) ReceiverOption {
	return func(r *Receiver) {
		r.now = now
	}
}

func NewReceiver(store core.EventStore, hooks *core.HookRegistry, opts ...ReceiverOption) (*Receiver, error) {
	if store == nil {
		return nil, fmt.Errorf("webhooks: event store is required")
	}
	if hooks == nil {
		hooks = core.NewHookRegistry()
	}
	receiver := &Receiver{
		store:   store,
		hooks:   hooks,
		metrics: core.NopMetricsRecorder{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(receiver)
		}
	}
	receiver.logger = glog.Ensure(receiver.logger)
	if receiver.metrics == nil {
		receiver.metrics = core.NopMetricsRecorder{}
	}
	return receiver, nil
}

// NewReceiverFromConfig enables signature verification when a webhook secret
// is configured.
func NewReceiverFromConfig(cfg core.Config, store core.EventStore, hooks *core.HookRegistry, opts ...ReceiverOption) (*Receiver, error) {
	base := []ReceiverOption{}
	if secret := strings.TrimSpace(cfg.Webhook.Secret); secret != "" {
		base = append(base, WithVerifier(NewSvixVerifier(secret, cfg.ReplayWindow())))
	}
	return NewReceiver(store, hooks, append(base, opts...)...)
}

func (r *Receiver) Hooks() *core.HookRegistry {
	if r == nil {
		return nil
	}
	return r.hooks
}

// Receive validates, normalizes and records one delivery. The returned error
// describes rejections and internal failures; the result is always usable as
// a response.
func (r *Receiver) Receive(ctx context.Context, req InboundRequest) (ReceiveResult, error) {
	if r == nil || r.store == nil {
		return internalError(), fmt.Errorf("webhooks: receiver is not configured")
	}
	startedAt := time.Now()

	if r.verifier != nil {
		if err := r.verifier.Verify(ctx, req); err != nil {
			r.observe(ctx, startedAt, ResultRejected, "invalid_signature", "")
			r.logger.WithContext(ctx).Warn("webhook signature rejected", "error", err.Error())
			return rejected(http.StatusUnauthorized, "Invalid signature"),
				core.WrapError(err, goerrors.CategoryAuth, "invalid webhook signature", core.ErrorCodeInvalidSignature)
		}
	}

	var decoded any
	if err := json.Unmarshal(req.Body, &decoded); err != nil {
		r.observe(ctx, startedAt, ResultRejected, "invalid_json", "")
		return rejected(http.StatusBadRequest, "Invalid JSON payload"),
			core.WrapError(err, goerrors.CategoryBadInput, "invalid JSON payload", core.ErrorCodeInvalidPayload)
	}
	payload, ok := decoded.(map[string]any)
	if !ok {
		r.observe(ctx, startedAt, ResultRejected, "invalid_json", "")
		return rejected(http.StatusBadRequest, "Invalid JSON payload"),
			core.NewError("webhook payload must be a JSON object", goerrors.CategoryBadInput, core.ErrorCodeInvalidPayload)
	}

	receivedAt := req.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = r.now()
	}
	event, err := core.NormalizePayload(payload, receivedAt.UTC())
	if err != nil {
		r.observe(ctx, startedAt, ResultRejected, "missing_event_id", "")
		if errors.Is(err, core.ErrEventIDRequired) {
			return rejected(http.StatusBadRequest, "Missing event ID"),
				core.NewError("missing event ID", goerrors.CategoryBadInput, core.ErrorCodeMissingEventID)
		}
		return rejected(http.StatusBadRequest, "Invalid JSON payload"),
			core.WrapError(err, goerrors.CategoryBadInput, "invalid payload", core.ErrorCodeInvalidPayload)
	}

	stored, created, err := r.store.CreateIfAbsent(ctx, event)
	if err != nil {
		r.observe(ctx, startedAt, ResultRejected, "store_error", event.EventType)
		r.logger.WithContext(ctx).Error("webhook event persist failed",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return internalError(),
			core.WrapError(err, goerrors.CategoryInternal, "persist webhook event", core.ErrorCodeInternal)
	}

	if !created {
		r.observe(ctx, startedAt, ResultDuplicate, "", stored.EventType)
		r.logger.WithContext(ctx).Info("duplicate webhook event", "event_id", stored.EventID)
		return ReceiveResult{
			Outcome:    ResultDuplicate,
			StatusCode: http.StatusOK,
			Body: map[string]any{
				"status":  ResultDuplicate,
				"message": duplicateMessage,
			},
			Event: stored,
		}, nil
	}

	// received listeners run inline; their failures are logged by the registry
	_ = r.hooks.Publish(ctx, core.Notification{
		Hook:    core.HookReceived,
		Event:   stored,
		Payload: payload,
	})

	r.observe(ctx, startedAt, ResultReceived, "", stored.EventType)
	r.logger.WithContext(ctx).Info("webhook event received",
		"event_id", stored.EventID,
		"event_type", stored.EventType,
	)
	return ReceiveResult{
		Outcome:    ResultReceived,
		StatusCode: http.StatusOK,
		Body: map[string]any{
			"status":   ResultReceived,
			"event_id": stored.EventID,
		},
		Event: stored,
	}, nil
}

func (r *Receiver) observe(ctx context.Context, startedAt time.Time, outcome string, reason string, eventType string) {
	tags := map[string]string{"outcome": outcome}
	if reason != "" {
		tags["reason"] = reason
	}
	if eventType != "" {
		tags["event_type"] = eventType
	}
	r.metrics.IncCounter(ctx, "mailevents.webhook.total", 1, tags)
	r.metrics.ObserveHistogram(ctx, "mailevents.webhook.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)
}

func rejected(status int, message string) ReceiveResult {
	return ReceiveResult{
		Outcome:    ResultRejected,
		StatusCode: status,
		Body:       map[string]any{"error": message},
	}
}

func internalError() ReceiveResult {
	return rejected(http.StatusInternalServerError, "Internal server error")
}
