package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	eventcommand "github.com/goliatone/go-mailevents/command"
	"github.com/goliatone/go-mailevents/core"
)

const (
	JobIDProcessPending = "mailevents.process_pending"
	JobIDRetryFailed    = "mailevents.retry_failed"
	JobIDReclaimStale   = "mailevents.reclaim_stale"
)

// parameter keys carried on execution messages
const (
	ParamLimit            = "limit"
	ParamEventType        = "event_type"
	ParamMaxRetries       = "max_retries"
	ParamOlderThanSeconds = "older_than_seconds"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// RunResult is what one engine job produced.
type RunResult struct {
	JobID     string               `json:"job_id"`
	Stats     core.ProcessingStats `json:"stats"`
	Reclaimed int                  `json:"reclaimed"`
}

// ProcessPendingMessage builds the execution message for a pending sweep.
// The idempotency key buckets by window so overlapping schedules collapse.
func ProcessPendingMessage(limit int, eventType string, window time.Time) *job.ExecutionMessage {
	params := map[string]any{ParamLimit: limit}
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		params[ParamEventType] = eventType
	}
	return newMessage(JobIDProcessPending, params, window)
}

func RetryFailedMessage(limit int, maxRetries int, window time.Time) *job.ExecutionMessage {
	return newMessage(JobIDRetryFailed, map[string]any{
		ParamLimit:      limit,
		ParamMaxRetries: maxRetries,
	}, window)
}

func ReclaimStaleMessage(olderThan time.Duration, window time.Time) *job.ExecutionMessage {
	return newMessage(JobIDReclaimStale, map[string]any{
		ParamOlderThanSeconds: int(olderThan / time.Second),
	}, window)
}

func newMessage(jobID string, params map[string]any, window time.Time) *job.ExecutionMessage {
	msg := &job.ExecutionMessage{
		JobID:      jobID,
		ScriptPath: jobID,
		Parameters: params,
	}
	if !window.IsZero() {
		msg.IdempotencyKey = jobID + ":" + strconv.FormatInt(window.UTC().Unix(), 10)
		msg.DedupPolicy = job.DeduplicationPolicy("drop")
	}
	return msg
}

// Runner executes engine jobs through the command layer so queue-driven runs
// share validation with the admin surface.
type Runner struct {
	processPending *eventcommand.ProcessPendingCommand
	retryFailed    *eventcommand.RetryFailedCommand
	reclaimStale   *eventcommand.ReclaimStaleCommand
}

func NewRunner(engine eventcommand.EngineService) (*Runner, error) {
	if engine == nil {
		return nil, fmt.Errorf("gojob: engine service is required")
	}
	return &Runner{
		processPending: eventcommand.NewProcessPendingCommand(engine),
		retryFailed:    eventcommand.NewRetryFailedCommand(engine),
		reclaimStale:   eventcommand.NewReclaimStaleCommand(engine),
	}, nil
}

func (r *Runner) Run(ctx context.Context, msg *job.ExecutionMessage) (RunResult, error) {
	if r == nil {
		return RunResult{}, fmt.Errorf("gojob: runner is not configured")
	}
	if msg == nil {
		return RunResult{}, fmt.Errorf("gojob: execution message is required")
	}
	jobID := strings.TrimSpace(msg.JobID)
	result := RunResult{JobID: jobID}

	switch jobID {
	case JobIDProcessPending:
		limit, err := intParam(msg.Parameters, ParamLimit)
		if err != nil {
			return result, err
		}
		eventType, _ := msg.Parameters[ParamEventType].(string)
		collector := gocmdResult[core.ProcessingStats]()
		if err := r.processPending.Execute(collector.ctx(ctx), eventcommand.ProcessPendingMessage{
			Limit:     limit,
			EventType: eventType,
		}); err != nil {
			return result, err
		}
		result.Stats = collector.load()
	case JobIDRetryFailed:
		limit, err := intParam(msg.Parameters, ParamLimit)
		if err != nil {
			return result, err
		}
		maxRetries, err := intParam(msg.Parameters, ParamMaxRetries)
		if err != nil {
			return result, err
		}
		collector := gocmdResult[core.ProcessingStats]()
		if err := r.retryFailed.Execute(collector.ctx(ctx), eventcommand.RetryFailedMessage{
			Limit:      limit,
			MaxRetries: maxRetries,
		}); err != nil {
			return result, err
		}
		result.Stats = collector.load()
	case JobIDReclaimStale:
		seconds, err := intParam(msg.Parameters, ParamOlderThanSeconds)
		if err != nil {
			return result, err
		}
		collector := gocmdResult[int]()
		if err := r.reclaimStale.Execute(collector.ctx(ctx), eventcommand.ReclaimStaleMessage{
			OlderThan: time.Duration(seconds) * time.Second,
		}); err != nil {
			return result, err
		}
		result.Reclaimed = collector.load()
	default:
		return result, fmt.Errorf("gojob: unknown job id %q", jobID)
	}
	return result, nil
}

// Worker drains one queue of engine jobs.
type Worker struct {
	dequeuer queue.Dequeuer
	runner   *Runner
	policy   RetryPolicy
	hook     worker.Hook
	logger   job.Logger
	now      func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

type WorkerOption func(*Worker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *Worker) {
		w.policy = policy
	}
}

func WithWorkerHook(hook worker.Hook) WorkerOption {
	return func(w *Worker) {
		w.hook = hook
	}
}

// WithJobLogger accepts a go-job logger, see gologger.ResolveForJob.
func WithJobLogger(logger job.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(dequeuer queue.Dequeuer, runner *Runner, opts ...WorkerOption) (*Worker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("gojob: runner is required")
	}
	w := &Worker{
		dequeuer: dequeuer,
		runner:   runner,
		policy:   RetryPolicy{MaxAttempts: 3, MaxDelay: time.Minute, DeadLetterOnMax: true},
		now:      time.Now,
		attempts: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// RunOnce dequeues and executes a single delivery. Failed runs are nacked
// under the retry policy; the run error is returned either way.
func (w *Worker) RunOnce(ctx context.Context) (RunResult, error) {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return RunResult{}, err
	}
	msg := delivery.Message()
	startedAt := w.now()
	attempt := w.nextAttempt(msg)
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}

	result, runErr := w.runner.Run(ctx, msg)
	event.Duration = w.now().Sub(startedAt)
	if runErr == nil {
		w.forget(msg)
		if w.hook != nil {
			w.hook.OnSuccess(ctx, event)
		}
		w.logInfo("engine job finished",
			"job_id", result.JobID,
			"total", result.Stats.Total,
			"processed", result.Stats.Processed,
			"failed", result.Stats.Failed,
			"reclaimed", result.Reclaimed,
		)
		return result, delivery.Ack(ctx)
	}

	event.Err = runErr
	nack := w.policy.NormalizeAttempt(queue.NackOptions{
		Delay:   time.Duration(attempt) * time.Second,
		Requeue: true,
		Reason:  runErr.Error(),
	}, attempt)
	event.Delay = nack.Delay
	if nack.Requeue {
		if w.hook != nil {
			w.hook.OnRetry(ctx, event)
		}
	} else {
		w.forget(msg)
		if w.hook != nil {
			w.hook.OnFailure(ctx, event)
		}
	}
	w.logInfo("engine job failed",
		"job_id", result.JobID,
		"attempt", attempt,
		"requeue", nack.Requeue,
		"dead_letter", nack.DeadLetter,
		"error", runErr.Error(),
	)
	if err := delivery.Nack(ctx, nack); err != nil {
		return result, fmt.Errorf("gojob: nack after %v: %w", runErr, err)
	}
	return result, runErr
}

func (w *Worker) nextAttempt(msg *job.ExecutionMessage) int {
	key := attemptKey(msg)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) forget(msg *job.ExecutionMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, attemptKey(msg))
}

func (w *Worker) logInfo(msg string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Info(msg, args...)
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID)
}

// Scheduler enqueues engine jobs; used when the worker runs out of process.
type Scheduler struct {
	enqueuer queue.Enqueuer
}

func NewScheduler(enqueuer queue.Enqueuer) *Scheduler {
	return &Scheduler{enqueuer: enqueuer}
}

func (s *Scheduler) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDProcessPending, JobIDRetryFailed, JobIDReclaimStale:
	default:
		return fmt.Errorf("gojob: unknown job id %q", msg.JobID)
	}
	return s.enqueuer.Enqueue(ctx, msg)
}

func intParam(params map[string]any, key string) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return 0, nil
	}
	switch value := raw.(type) {
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		return int(value), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("gojob: parameter %s must be an integer", key)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("gojob: parameter %s must be an integer", key)
	}
}
