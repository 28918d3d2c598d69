// Package executor runs one subtask against one capability adapter chain,
// applying the result cache, the per-stage retry policy and provider
// fallback. The coordinator only ever sees the resulting PhaseResult.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/storyreel/storyreel/pkg/cache"
	"github.com/storyreel/storyreel/pkg/capability"
	"github.com/storyreel/storyreel/pkg/eventbus"
	"github.com/storyreel/storyreel/pkg/events"
	"github.com/storyreel/storyreel/pkg/models"
	"github.com/storyreel/storyreel/pkg/otelhelper"
	"github.com/storyreel/storyreel/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor executes subtasks. Safe for concurrent use; every Execute call is
// independent.
type Executor struct {
	registry  *registry.Registry
	cache     cache.Cache
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	logger    *slog.Logger
	workerID  string

	// onQuotaExhausted propagates provider quota exhaustion to the queue for
	// dispatch backpressure. May be nil.
	onQuotaExhausted func()
}

func NewExecutor(
	reg *registry.Registry,
	resultCache cache.Cache,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	workerID string,
) *Executor {
	return &Executor{
		registry:  reg,
		cache:     resultCache,
		publisher: publisher,
		logger:    logger.With("module", "stage_executor", "worker_id", workerID),
		workerID:  workerID,
	}
}

// WithTracer enables span creation around adapter invocations.
func (e *Executor) WithTracer(tracer trace.Tracer) *Executor {
	e.tracer = tracer

	return e
}

// OnQuotaExhausted registers the queue backpressure hook.
func (e *Executor) OnQuotaExhausted(hook func()) *Executor {
	e.onQuotaExhausted = hook

	return e
}

// Execute runs the subtask to a terminal PhaseResult. It never returns an
// error: failures are encoded in the result's status and classification.
func (e *Executor) Execute(ctx context.Context, subtask *models.SubTask) *models.PhaseResult {
	logger := e.logger.With(
		"run_id", subtask.RunID,
		"sub_task_id", subtask.ID,
		"stage", subtask.Stage,
	)

	started := time.Now()
	key := cache.NewKey(subtask.Stage, subtask.Input)

	payload, hit, err := e.cache.Get(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "Cache lookup failed, proceeding to adapter", "error", err)
	}

	if hit {
		logger.DebugContext(ctx, "Serving stage result from cache")

		result := e.newResult(subtask, models.PhaseStatusOk, payload, nil, 0, started)
		result.FromCache = true

		e.publishAttempt(ctx, subtask, result, "", 0)

		return result
	}

	chain, err := e.registry.ChainFor(subtask.Stage)
	if err != nil {
		info := &models.ErrorInfo{Kind: string(capability.KindPermanent), Message: err.Error()}

		return e.newResult(subtask, models.PhaseStatusFailed, nil, info, 0, started)
	}

	policy := e.registry.PolicyFor(subtask.Stage)

	var lastErr error

	attempts := 0

	for _, adapter := range chain {
		output, adapterAttempts, invokeErr := e.invokeWithRetry(ctx, adapter, policy, subtask, &attempts, started)
		if invokeErr == nil {
			putErr := e.cache.Put(ctx, key, output, policy.CacheTTL)
			if putErr != nil {
				logger.WarnContext(ctx, "Failed to write cache entry", "error", putErr)
			}

			return e.newResult(subtask, models.PhaseStatusOk, output, nil, attempts, started)
		}

		lastErr = invokeErr

		if capability.IsPermanent(invokeErr) {
			// Malformed input fails on every provider; stop the chain.
			break
		}

		logger.WarnContext(ctx, "Adapter exhausted, escalating to fallback",
			"adapter", adapter.ID(),
			"attempts", adapterAttempts,
			"error", invokeErr)
	}

	info := errorInfo(lastErr)

	logger.ErrorContext(ctx, "Stage failed",
		"kind", info.Kind,
		"attempts", attempts,
		"error", lastErr)

	return e.newResult(subtask, models.PhaseStatusFailed, nil, info, attempts, started)
}

// invokeWithRetry drives one adapter through the stage's attempt budget.
// Transient failures back off exponentially; Permanent and QuotaExceeded stop
// the loop immediately.
func (e *Executor) invokeWithRetry(
	ctx context.Context,
	adapter capability.Adapter,
	policy registry.StagePolicy,
	subtask *models.SubTask,
	totalAttempts *int,
	started time.Time,
) (map[string]any, int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.RetryBaseDelay
	bo.Reset()

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		*totalAttempts++

		output, err := e.invokeOnce(ctx, adapter, policy.Timeout, subtask)
		if err == nil {
			result := e.newResult(subtask, models.PhaseStatusOk, output, nil, *totalAttempts, started)
			e.publishAttempt(ctx, subtask, result, adapter.ID(), *totalAttempts)

			return output, attempt, nil
		}

		lastErr = err

		status := models.PhaseStatusRetrying
		if attempt == policy.MaxAttempts || !capability.IsTransient(err) {
			status = models.PhaseStatusFailed
		}

		failed := e.newResult(subtask, status, nil, errorInfo(err), *totalAttempts, started)
		e.publishAttempt(ctx, subtask, failed, adapter.ID(), *totalAttempts)

		if capability.IsQuotaExceeded(err) {
			if e.onQuotaExhausted != nil {
				e.onQuotaExhausted()
			}

			return nil, attempt, err
		}

		if !capability.IsTransient(err) {
			return nil, attempt, err
		}

		if attempt < policy.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, attempt, capability.NewTransient(adapter.ID(), ctx.Err())
			case <-time.After(bo.NextBackOff()):
			}
		}
	}

	return nil, policy.MaxAttempts, lastErr
}

func (e *Executor) invokeOnce(
	ctx context.Context,
	adapter capability.Adapter,
	timeout time.Duration,
	subtask *models.SubTask,
) (map[string]any, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if e.tracer != nil {
		var span trace.Span

		invokeCtx, span = otelhelper.StartSpan(invokeCtx, e.tracer, "stage.invoke",
			attribute.String(otelhelper.RunIDKey, subtask.RunID),
			attribute.String(otelhelper.SubTaskIDKey, subtask.ID),
			attribute.String(otelhelper.StageKey, string(subtask.Stage)),
			attribute.String(otelhelper.AdapterKey, adapter.ID()),
		)
		defer span.End()

		response, err := adapter.Invoke(invokeCtx, e.request(subtask))
		if err != nil {
			otelhelper.SetError(span, err)

			return nil, classifyTimeout(adapter.ID(), invokeCtx, err)
		}

		return response.Output, nil
	}

	response, err := adapter.Invoke(invokeCtx, e.request(subtask))
	if err != nil {
		return nil, classifyTimeout(adapter.ID(), invokeCtx, err)
	}

	return response.Output, nil
}

func (e *Executor) request(subtask *models.SubTask) capability.Request {
	return capability.Request{
		Stage:     subtask.Stage,
		RunID:     subtask.RunID,
		SubTaskID: subtask.ID,
		Input:     subtask.Input,
	}
}

func (e *Executor) newResult(
	subtask *models.SubTask,
	status models.PhaseStatus,
	payload map[string]any,
	errInfo *models.ErrorInfo,
	attempts int,
	started time.Time,
) *models.PhaseResult {
	return &models.PhaseResult{
		Phase:     subtask.Phase,
		Stage:     subtask.Stage,
		SubTaskID: subtask.ID,
		Status:    status,
		Payload:   payload,
		Error:     errInfo,
		Attempts:  attempts,
		Duration:  time.Since(started),
	}
}

// publishAttempt emits the per-attempt observability event. Publish failures
// are logged, never propagated: observation must not affect control flow.
func (e *Executor) publishAttempt(
	ctx context.Context,
	subtask *models.SubTask,
	result *models.PhaseResult,
	adapterID string,
	attempt int,
) {
	event := events.StageAttempted{
		BaseEvent:  events.NewBaseEvent(events.StageAttemptedEvent, subtask.RunID),
		SubTaskID:  subtask.ID,
		Phase:      subtask.Phase,
		Stage:      subtask.Stage,
		Adapter:    adapterID,
		Attempt:    attempt,
		Status:     result.Status,
		FromCache:  result.FromCache,
		Error:      result.Error,
		DurationMs: result.Duration.Milliseconds(),
	}
	event.WorkerID = e.workerID

	err := e.publisher.Publish(ctx, subtask.RunID, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish stage attempt event", "error", err)
	}
}

// classifyTimeout folds context expiry into the transient taxonomy so that a
// timed-out call gets the same retry treatment as a provider hiccup.
func classifyTimeout(adapterID string, ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return capability.NewTransient(adapterID, context.DeadlineExceeded)
	}

	return err
}

func errorInfo(err error) *models.ErrorInfo {
	if err == nil {
		return nil
	}

	var capErr *capability.Error
	if errors.As(err, &capErr) {
		return &models.ErrorInfo{
			Kind:    string(capErr.Kind),
			Message: capErr.Err.Error(),
		}
	}

	return &models.ErrorInfo{
		Kind:    string(capability.KindTransient),
		Message: err.Error(),
	}
}
