// Package pipeline implements the run state machine. The Coordinator owns
// every GenerationRun record: it admits runs, plans and dispatches each
// phase's fan-out, gates phase transitions on all subtasks settling and
// persists the record after every transition. Events it publishes are purely
// observational.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/storyreel/storyreel/pkg/artifacts"
	"github.com/storyreel/storyreel/pkg/capability"
	"github.com/storyreel/storyreel/pkg/eventbus"
	"github.com/storyreel/storyreel/pkg/events"
	"github.com/storyreel/storyreel/pkg/executor"
	"github.com/storyreel/storyreel/pkg/models"
	"github.com/storyreel/storyreel/pkg/persistence"
	"github.com/storyreel/storyreel/pkg/queue"
)

// ErrRunTerminal is returned when an operation targets a run that already
// reached a terminal status.
var ErrRunTerminal = errors.New("run already in a terminal state")

// NewRunID generates a fresh run identifier.
func NewRunID() string {
	return "run-" + uuid.New().String()
}

type Coordinator struct {
	persistence persistence.Persistence
	queue       *queue.WorkQueue
	executor    *executor.Executor
	publisher   eventbus.EventPublisher
	artifacts   artifacts.Store
	logger      *slog.Logger

	locks runLocks
}

func NewCoordinator(
	p persistence.Persistence,
	workQueue *queue.WorkQueue,
	exec *executor.Executor,
	publisher eventbus.EventPublisher,
	artifactStore artifacts.Store,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		persistence: p,
		queue:       workQueue,
		executor:    exec,
		publisher:   publisher,
		artifacts:   artifactStore,
		logger:      logger.With("module", "pipeline_coordinator"),
	}
}

// Submit accepts a validated story input, persists the new run and enqueues
// its admission ticket. The caller gets the run plus its queue position
// immediately; execution happens asynchronously.
func (c *Coordinator) Submit(
	ctx context.Context,
	ownerID string,
	input models.StoryInput,
	priority int,
) (*models.GenerationRun, queue.Admission, error) {
	return c.SubmitWithID(ctx, NewRunID(), ownerID, input, priority)
}

// SubmitWithID admits a run under a caller-chosen ID. Bus-driven ingress uses
// it so the ID handed to the owner at request time matches the persisted run.
func (c *Coordinator) SubmitWithID(
	ctx context.Context,
	runID string,
	ownerID string,
	input models.StoryInput,
	priority int,
) (*models.GenerationRun, queue.Admission, error) {
	now := time.Now().UTC()

	run := &models.GenerationRun{
		ID:           runID,
		OwnerID:      ownerID,
		Input:        input,
		Priority:     priority,
		Status:       models.RunStatusPending,
		CurrentPhase: models.PhaseOrder[0],
		Metadata:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := c.persistence.Runs().Save(ctx, run); err != nil {
		return nil, queue.Admission{}, err
	}

	admission, err := c.queue.Enqueue(&queue.Ticket{
		ID:       run.ID,
		RunID:    run.ID,
		Priority: priority,
		Cost:     1,
		Execute: func(ctx context.Context, ticket *queue.Ticket) {
			if advErr := c.Advance(ctx, ticket.RunID); advErr != nil {
				c.logger.ErrorContext(ctx, "Failed to advance run", "run_id", ticket.RunID, "error", advErr)
			}
		},
	})
	if err != nil {
		// The record stays queryable so the owner can see why nothing ran.
		run.Status = models.RunStatusFailed
		run.LastError = &models.ErrorInfo{
			Kind:    string(capability.KindTransient),
			Message: "pipeline overloaded, submission rejected",
		}
		run.UpdatedAt = time.Now().UTC()

		if saveErr := c.persistence.Runs().Save(ctx, run); saveErr != nil {
			c.logger.ErrorContext(ctx, "Failed to record rejected run", "run_id", run.ID, "error", saveErr)
		}

		return nil, queue.Admission{}, err
	}

	queued := events.RunQueued{
		BaseEvent:     events.NewBaseEvent(events.RunQueuedEvent, run.ID),
		Position:      admission.Position,
		EstimatedWait: admission.EstimatedWait,
	}
	c.publish(ctx, run.ID, queued)

	c.logger.InfoContext(ctx, "Run submitted",
		"run_id", run.ID,
		"owner_id", ownerID,
		"position", admission.Position)

	return run, admission, nil
}

// Advance drives the run's state machine as far as persisted state allows. It
// is idempotent: replaying it on the same state dispatches nothing twice.
func (c *Coordinator) Advance(ctx context.Context, runID string) error {
	mu := c.locks.forRun(runID)

	mu.Lock()
	defer mu.Unlock()

	run, err := c.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return err
	}

	return c.step(ctx, run)
}

// Cancel moves the run to cancelled. In-flight subtask results arriving later
// are discarded; a terminal status never transitions again.
func (c *Coordinator) Cancel(ctx context.Context, runID string, reason string) (*models.GenerationRun, error) {
	mu := c.locks.forRun(runID)

	mu.Lock()
	defer mu.Unlock()

	run, err := c.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.Status.Terminal() {
		return run, ErrRunTerminal
	}

	run.Status = models.RunStatusCancelled
	run.UpdatedAt = time.Now().UTC()

	if err := c.persistence.Runs().Save(ctx, run); err != nil {
		return nil, err
	}

	cancelled := events.RunCancelled{
		BaseEvent: events.NewBaseEvent(events.RunCancelledEvent, run.ID),
		Reason:    reason,
	}
	c.publish(ctx, run.ID, cancelled)

	c.logger.InfoContext(ctx, "Run cancelled", "run_id", run.ID, "reason", reason)

	return run, nil
}

// Recover re-drives runs whose dispatch state went stale, typically after a
// worker crash: pending runs whose admission ticket was lost and running runs
// with subtasks dispatched longer than staleAfter ago. Returns how many runs
// were re-driven.
func (c *Coordinator) Recover(ctx context.Context, staleAfter time.Duration) (int, error) {
	recovered := 0

	pending, err := c.persistence.Runs().ListByStatus(ctx, models.RunStatusPending)
	if err != nil {
		return 0, err
	}

	for _, run := range pending {
		if time.Since(run.UpdatedAt) < staleAfter {
			continue
		}

		if err := c.Advance(ctx, run.ID); err != nil {
			c.logger.ErrorContext(ctx, "Failed to recover pending run", "run_id", run.ID, "error", err)

			continue
		}

		recovered++
	}

	running, err := c.persistence.Runs().ListByStatus(ctx, models.RunStatusRunning)
	if err != nil {
		return recovered, err
	}

	for _, stale := range running {
		if err := c.recoverRunning(ctx, stale.ID, staleAfter); err != nil {
			c.logger.ErrorContext(ctx, "Failed to recover running run", "run_id", stale.ID, "error", err)

			continue
		}

		recovered++
	}

	return recovered, nil
}

func (c *Coordinator) recoverRunning(ctx context.Context, runID string, staleAfter time.Duration) error {
	mu := c.locks.forRun(runID)

	mu.Lock()
	defer mu.Unlock()

	run, err := c.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		return err
	}

	if run.Status.Terminal() {
		return nil
	}

	cutoff := time.Now().Add(-staleAfter)
	reset := 0

	for _, st := range run.SubTasks {
		if st.Status != models.SubTaskStatusDispatched {
			continue
		}

		if st.DispatchedAt != nil && st.DispatchedAt.After(cutoff) {
			continue
		}

		st.Status = models.SubTaskStatusPending
		st.DispatchedAt = nil

		reset++
	}

	if reset == 0 && !hasPending(run) {
		return nil
	}

	if reset > 0 {
		c.logger.WarnContext(ctx, "Re-dispatching stale subtasks", "run_id", run.ID, "count", reset)
	}

	return c.step(ctx, run)
}

// step advances the in-memory run until it blocks on outstanding subtasks or
// reaches a terminal status, persisting after every transition. Caller holds
// the run's lock.
func (c *Coordinator) step(ctx context.Context, run *models.GenerationRun) error {
	if run.Status.Terminal() {
		return nil
	}

	if run.Status == models.RunStatusPending {
		run.Status = models.RunStatusRunning
	}

	for {
		switch run.CurrentPhase {
		case models.PhaseStoryboard:
			output, err := buildStoryboard(run)
			if err != nil {
				return c.failRun(ctx, run, &models.ErrorInfo{
					Kind:    string(capability.KindPermanent),
					Message: err.Error(),
				})
			}

			c.completeLocalPhase(ctx, run, output)
		case models.PhaseDelivery:
			if err := c.deliver(ctx, run); err != nil {
				return c.failRun(ctx, run, &models.ErrorInfo{
					Kind:    string(capability.KindTransient),
					Message: err.Error(),
				})
			}

			return c.completeRun(ctx, run)
		default:
			advanced, err := c.stepAdapterPhase(ctx, run)
			if err != nil || !advanced {
				return err
			}
		}
	}
}

// stepAdapterPhase reconciles the current phase's subtasks against the plan
// and dispatches whatever is newly pending. It returns true when the phase
// completed and the run moved to the next phase.
func (c *Coordinator) stepAdapterPhase(ctx context.Context, run *models.GenerationRun) (bool, error) {
	plan, err := planPhase(run)
	if err != nil {
		return false, c.failRun(ctx, run, &models.ErrorInfo{
			Kind:    string(capability.KindPermanent),
			Message: err.Error(),
		})
	}

	entering := len(run.SubTasks) == 0

	for _, wanted := range plan {
		if run.SubTaskByID(wanted.ID) == nil {
			run.SubTasks = append(run.SubTasks, wanted)
		}
	}

	if entering {
		started := events.PhaseStarted{
			BaseEvent: events.NewBaseEvent(events.PhaseStartedEvent, run.ID),
			Phase:     run.CurrentPhase,
			SubTasks:  len(plan),
		}
		c.publish(ctx, run.ID, started)
	}

	if failed := firstFailed(run); failed != nil {
		if dispatchedCount(run) > 0 {
			// Let the already-dispatched subtasks settle, start nothing new.
			return false, c.save(ctx, run)
		}

		return false, c.failPhase(ctx, run, failed)
	}

	toDispatch := c.markDispatchable(run)

	if err := c.save(ctx, run); err != nil {
		return false, err
	}

	c.enqueueSubTasks(ctx, run, toDispatch)

	if !phaseSettled(run, len(plan)) {
		return false, nil
	}

	return true, c.completePhase(ctx, run)
}

// markDispatchable flips pending subtasks to dispatched and returns them. The
// flip is persisted before the tickets are enqueued so a replayed Advance
// never dispatches the same subtask twice.
func (c *Coordinator) markDispatchable(run *models.GenerationRun) []*models.SubTask {
	var toDispatch []*models.SubTask

	now := time.Now().UTC()

	for _, st := range run.SubTasks {
		if st.Status != models.SubTaskStatusPending {
			continue
		}

		st.Status = models.SubTaskStatusDispatched
		dispatchedAt := now
		st.DispatchedAt = &dispatchedAt

		toDispatch = append(toDispatch, st)
	}

	return toDispatch
}

func (c *Coordinator) enqueueSubTasks(ctx context.Context, run *models.GenerationRun, subtasks []*models.SubTask) {
	for _, st := range subtasks {
		_, err := c.queue.Enqueue(&queue.Ticket{
			ID:        st.ID,
			RunID:     run.ID,
			SubTaskID: st.ID,
			Priority:  run.Priority,
			Cost:      costFor(st.Stage),
			Execute: func(ctx context.Context, ticket *queue.Ticket) {
				c.executeSubTask(ctx, ticket.RunID, ticket.SubTaskID)
			},
		})
		if err != nil {
			// Roll back to pending; the janitor's recovery scan re-drives it.
			st.Status = models.SubTaskStatusPending
			st.DispatchedAt = nil

			c.logger.WarnContext(ctx, "Subtask admission rejected, deferring to recovery",
				"run_id", run.ID,
				"sub_task_id", st.ID,
				"error", err)
		}
	}
}

// executeSubTask is the queue handler for one subtask. The adapter call runs
// outside the run lock; only the snapshot before and the settlement after
// touch the record.
func (c *Coordinator) executeSubTask(ctx context.Context, runID, subTaskID string) {
	mu := c.locks.forRun(runID)

	mu.Lock()
	snapshot := c.snapshotSubTask(ctx, runID, subTaskID)
	mu.Unlock()

	if snapshot == nil {
		return
	}

	result := c.executor.Execute(ctx, snapshot)

	mu.Lock()
	defer mu.Unlock()

	run, err := c.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to load run for settlement", "run_id", runID, "error", err)

		return
	}

	if run.Status.Terminal() {
		// Cancelled or failed while we were executing; discard the result.
		return
	}

	st := run.SubTaskByID(subTaskID)
	if st == nil || st.Status.Terminal() {
		return
	}

	settledAt := time.Now().UTC()
	st.Result = result
	st.Attempts = result.Attempts
	st.SettledAt = &settledAt

	if result.Status == models.PhaseStatusOk {
		st.Status = models.SubTaskStatusOk
	} else {
		st.Status = models.SubTaskStatusFailed
	}

	if err := c.step(ctx, run); err != nil {
		c.logger.ErrorContext(ctx, "Failed to advance run after settlement",
			"run_id", runID,
			"sub_task_id", subTaskID,
			"error", err)
	}
}

// snapshotSubTask returns a dispatchable copy of the subtask, or nil when the
// run or subtask no longer wants execution.
func (c *Coordinator) snapshotSubTask(ctx context.Context, runID, subTaskID string) *models.SubTask {
	run, err := c.persistence.Runs().GetByID(ctx, runID)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to load run for execution", "run_id", runID, "error", err)

		return nil
	}

	if run.Status.Terminal() {
		return nil
	}

	st := run.SubTaskByID(subTaskID)
	if st == nil || st.Status.Terminal() {
		return nil
	}

	snapshot := *st

	return &snapshot
}

func (c *Coordinator) completePhase(ctx context.Context, run *models.GenerationRun) error {
	output := aggregatePhase(run)
	startedAt, completedAt := phaseWindow(run)

	run.PhaseHistory = append(run.PhaseHistory, models.PhaseRecord{
		Phase:       run.CurrentPhase,
		Status:      models.PhaseStatusOk,
		Output:      output,
		SubTasks:    len(run.SubTasks),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	})

	completed := events.PhaseCompleted{
		BaseEvent:  events.NewBaseEvent(events.PhaseCompletedEvent, run.ID),
		Phase:      run.CurrentPhase,
		SubTasks:   len(run.SubTasks),
		DurationMs: completedAt.Sub(startedAt).Milliseconds(),
	}
	c.publish(ctx, run.ID, completed)

	c.logger.InfoContext(ctx, "Phase completed",
		"run_id", run.ID,
		"phase", run.CurrentPhase,
		"sub_tasks", len(run.SubTasks))

	return c.advancePhase(ctx, run)
}

// completeLocalPhase records a phase the coordinator resolved without
// dispatching work.
func (c *Coordinator) completeLocalPhase(ctx context.Context, run *models.GenerationRun, output map[string]any) {
	now := time.Now().UTC()

	run.PhaseHistory = append(run.PhaseHistory, models.PhaseRecord{
		Phase:       run.CurrentPhase,
		Status:      models.PhaseStatusOk,
		Output:      output,
		StartedAt:   now,
		CompletedAt: now,
	})

	started := events.PhaseStarted{
		BaseEvent: events.NewBaseEvent(events.PhaseStartedEvent, run.ID),
		Phase:     run.CurrentPhase,
	}
	c.publish(ctx, run.ID, started)

	completed := events.PhaseCompleted{
		BaseEvent: events.NewBaseEvent(events.PhaseCompletedEvent, run.ID),
		Phase:     run.CurrentPhase,
	}
	c.publish(ctx, run.ID, completed)

	if next, ok := models.NextPhase(run.CurrentPhase); ok {
		run.CurrentPhase = next
	}
}

func (c *Coordinator) advancePhase(ctx context.Context, run *models.GenerationRun) error {
	run.SubTasks = nil

	next, ok := models.NextPhase(run.CurrentPhase)
	if !ok {
		return c.completeRun(ctx, run)
	}

	run.CurrentPhase = next

	return c.save(ctx, run)
}

// deliver publishes the final manifest to the artifact store and records the
// delivery phase.
func (c *Coordinator) deliver(ctx context.Context, run *models.GenerationRun) error {
	manifest, err := buildDeliveryManifest(run)
	if err != nil {
		return err
	}

	started := events.PhaseStarted{
		BaseEvent: events.NewBaseEvent(events.PhaseStartedEvent, run.ID),
		Phase:     run.CurrentPhase,
	}
	c.publish(ctx, run.ID, started)

	startedAt := time.Now().UTC()

	ref, err := c.artifacts.Publish(ctx, run, manifest)
	if err != nil {
		return err
	}

	run.Artifact = ref

	completedAt := time.Now().UTC()

	run.PhaseHistory = append(run.PhaseHistory, models.PhaseRecord{
		Phase:  run.CurrentPhase,
		Status: models.PhaseStatusOk,
		Output: map[string]any{
			"artifact_key": ref.Key,
			"bucket":       ref.Bucket,
		},
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	})

	completed := events.PhaseCompleted{
		BaseEvent:  events.NewBaseEvent(events.PhaseCompletedEvent, run.ID),
		Phase:      run.CurrentPhase,
		DurationMs: completedAt.Sub(startedAt).Milliseconds(),
	}
	c.publish(ctx, run.ID, completed)

	return nil
}

func (c *Coordinator) completeRun(ctx context.Context, run *models.GenerationRun) error {
	run.Status = models.RunStatusSucceeded
	run.SubTasks = nil
	run.LastError = nil

	if err := c.save(ctx, run); err != nil {
		return err
	}

	event := events.RunCompleted{
		BaseEvent:  events.NewBaseEvent(events.RunCompletedEvent, run.ID),
		Artifact:   run.Artifact,
		DurationMs: time.Since(run.CreatedAt).Milliseconds(),
		Phases:     len(run.PhaseHistory),
	}
	c.publish(ctx, run.ID, event)

	c.logger.InfoContext(ctx, "Run completed",
		"run_id", run.ID,
		"phases", len(run.PhaseHistory),
		"duration_ms", event.DurationMs)

	return nil
}

// failPhase records the phase failure and moves the run to failed. Called only
// once every dispatched subtask of the phase has settled.
func (c *Coordinator) failPhase(ctx context.Context, run *models.GenerationRun, failed *models.SubTask) error {
	errInfo := &models.ErrorInfo{Kind: string(capability.KindPermanent), Message: "stage failed"}
	if failed.Result != nil && failed.Result.Error != nil {
		errInfo = failed.Result.Error
	}

	startedAt, completedAt := phaseWindow(run)

	run.PhaseHistory = append(run.PhaseHistory, models.PhaseRecord{
		Phase:       run.CurrentPhase,
		Status:      models.PhaseStatusFailed,
		Error:       errInfo,
		SubTasks:    len(run.SubTasks),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	})

	phaseFailed := events.PhaseFailed{
		BaseEvent: events.NewBaseEvent(events.PhaseFailedEvent, run.ID),
		Phase:     run.CurrentPhase,
		Error:     *errInfo,
	}
	c.publish(ctx, run.ID, phaseFailed)

	return c.failRun(ctx, run, errInfo)
}

func (c *Coordinator) failRun(ctx context.Context, run *models.GenerationRun, errInfo *models.ErrorInfo) error {
	run.Status = models.RunStatusFailed
	run.LastError = errInfo

	if err := c.save(ctx, run); err != nil {
		return err
	}

	event := events.RunFailed{
		BaseEvent:  events.NewBaseEvent(events.RunFailedEvent, run.ID),
		Phase:      run.CurrentPhase,
		Error:      *errInfo,
		DurationMs: time.Since(run.CreatedAt).Milliseconds(),
	}
	c.publish(ctx, run.ID, event)

	c.logger.WarnContext(ctx, "Run failed",
		"run_id", run.ID,
		"phase", run.CurrentPhase,
		"kind", errInfo.Kind,
		"error", errInfo.Message)

	return nil
}

func (c *Coordinator) save(ctx context.Context, run *models.GenerationRun) error {
	run.UpdatedAt = time.Now().UTC()

	return c.persistence.Runs().Save(ctx, run)
}

// publish emits an observational event. Failures are logged and swallowed:
// control flow never depends on the bus.
func (c *Coordinator) publish(ctx context.Context, runID string, event eventbus.Event) {
	if c.publisher == nil {
		return
	}

	if err := c.publisher.Publish(ctx, runID, event); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish event",
			"run_id", runID,
			"event_type", event.GetType(),
			"error", err)
	}
}

func firstFailed(run *models.GenerationRun) *models.SubTask {
	for _, st := range run.SubTasks {
		if st.Status == models.SubTaskStatusFailed {
			return st
		}
	}

	return nil
}

func dispatchedCount(run *models.GenerationRun) int {
	count := 0

	for _, st := range run.SubTasks {
		if st.Status == models.SubTaskStatusDispatched {
			count++
		}
	}

	return count
}

func hasPending(run *models.GenerationRun) bool {
	for _, st := range run.SubTasks {
		if st.Status == models.SubTaskStatusPending {
			return true
		}
	}

	return false
}

// phaseSettled reports whether the plan is stable and every subtask succeeded.
// An empty settled plan counts: a fan-out phase with nothing to fan out over,
// such as character generation for a story with no named characters, completes
// immediately with an empty output.
func phaseSettled(run *models.GenerationRun, planned int) bool {
	if len(run.SubTasks) != planned {
		return false
	}

	for _, st := range run.SubTasks {
		if st.Status != models.SubTaskStatusOk {
			return false
		}
	}

	return true
}

// phaseWindow derives the phase's start and end from its subtask timestamps.
func phaseWindow(run *models.GenerationRun) (time.Time, time.Time) {
	var started, completed time.Time

	for _, st := range run.SubTasks {
		if st.DispatchedAt != nil && (started.IsZero() || st.DispatchedAt.Before(started)) {
			started = *st.DispatchedAt
		}

		if st.SettledAt != nil && st.SettledAt.After(completed) {
			completed = *st.SettledAt
		}
	}

	now := time.Now().UTC()

	if started.IsZero() {
		started = now
	}

	if completed.IsZero() {
		completed = now
	}

	return started, completed
}
