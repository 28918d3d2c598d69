package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/storyreel/storyreel/pkg/cache"
	"github.com/storyreel/storyreel/pkg/eventbus"
	"github.com/storyreel/storyreel/pkg/events"
	"github.com/storyreel/storyreel/pkg/pipeline"
	"github.com/storyreel/storyreel/pkg/queue"
)

// staleDispatchAfter is how long a dispatched subtask may be silent before the
// janitor re-drives it.
const staleDispatchAfter = 5 * time.Minute

// WorkerManager ties the run loop together: it consumes run requests from the
// bus, drains the work queue and runs the janitor schedule (aging promotion,
// cache sweep, stale-dispatch recovery).
type WorkerManager struct {
	id          string
	logger      *slog.Logger
	coordinator *pipeline.Coordinator
	queue       *queue.WorkQueue
	cache       cache.Cache
	eventBus    eventbus.EventBus
	cron        *cron.Cron
}

func NewWorkerManager(
	id string,
	coordinator *pipeline.Coordinator,
	workQueue *queue.WorkQueue,
	resultCache cache.Cache,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:          id,
		logger:      logger.With("module", "storyreel-worker", "worker_id", id),
		coordinator: coordinator,
		queue:       workQueue,
		cache:       resultCache,
		eventBus:    eventBus,
		cron:        cron.New(),
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager", "worker_id", w.id)

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()

	go w.queue.Dispatch(dispatchCtx)

	err := w.eventBus.Handle(events.RunRequestedEvent, w.handleRunRequested)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	if err := w.startJanitor(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	w.cron.Stop()
	cancelDispatch()

	return nil
}

// handleRunRequested admits a run submitted through the bus by another
// process, typically the API.
func (w *WorkerManager) handleRunRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.RunRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for RunRequested")

		return nil
	}

	logger := w.logger.With("owner_id", requested.OwnerID, "event_id", requested.ID)
	logger.InfoContext(ctx, "Processing run request")

	runID := requested.RunID
	if runID == "" {
		runID = pipeline.NewRunID()
	}

	run, _, err := w.coordinator.SubmitWithID(ctx, runID, requested.OwnerID, requested.Input, queue.PriorityNormal)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to submit requested run", "error", err)

		return err
	}

	logger.InfoContext(ctx, "Run admitted", "run_id", run.ID)

	return nil
}

// startJanitor installs the background maintenance schedule.
func (w *WorkerManager) startJanitor(ctx context.Context) error {
	_, err := w.cron.AddFunc("@every 15s", func() {
		if promoted := w.queue.PromoteAged(); promoted > 0 {
			w.logger.Debug("Promoted aged queue tickets", "count", promoted)
		}
	})
	if err != nil {
		return err
	}

	_, err = w.cron.AddFunc("@every 1m", func() {
		type sweeper interface{ Sweep() int }

		if s, ok := w.cache.(sweeper); ok {
			if removed := s.Sweep(); removed > 0 {
				w.logger.Debug("Swept expired cache entries", "count", removed)
			}
		}
	})
	if err != nil {
		return err
	}

	_, err = w.cron.AddFunc("@every 1m", func() {
		recovered, recErr := w.coordinator.Recover(ctx, staleDispatchAfter)
		if recErr != nil {
			w.logger.ErrorContext(ctx, "Recovery scan failed", "error", recErr)

			return
		}

		if recovered > 0 {
			w.logger.InfoContext(ctx, "Recovered stalled runs", "count", recovered)
		}
	})
	if err != nil {
		return err
	}

	w.cron.Start()

	return nil
}
