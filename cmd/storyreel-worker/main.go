package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"

	"github.com/storyreel/storyreel/pkg/cmd"
	"github.com/storyreel/storyreel/pkg/executor"
	"github.com/storyreel/storyreel/pkg/log"
	"github.com/storyreel/storyreel/pkg/otelhelper"
	"github.com/storyreel/storyreel/pkg/pipeline"
	"github.com/storyreel/storyreel/pkg/queue"
)

func main() {
	_ = godotenv.Load()

	command := &cli.Command{
		Name:                  "storyreel-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that executes generation runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "cache-url",
				Usage:   "Result cache URL (memory://, lru://, redis://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("CACHE_URL"),
			},
			&cli.StringFlag{
				Name:    "artifacts-url",
				Usage:   "Artifact store URL (directory path or s3://bucket)",
				Value:   "./data/artifacts",
				Sources: cli.EnvVars("ARTIFACTS_URL"),
			},
			&cli.StringFlag{
				Name:    "bindings-path",
				Usage:   "Path to the stage adapter bindings file (stub adapters if empty)",
				Value:   "",
				Sources: cli.EnvVars("BINDINGS_PATH"),
			},
			&cli.IntFlag{
				Name:    "queue-capacity",
				Usage:   "Cost units executing concurrently",
				Value:   8,
				Sources: cli.EnvVars("QUEUE_CAPACITY"),
			},
			&cli.IntFlag{
				Name:    "queue-max-pending",
				Usage:   "Backlog size beyond which low-priority work is shed",
				Value:   256,
				Sources: cli.EnvVars("QUEUE_MAX_PENDING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("storyreel-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Storyreel Worker")

			registry, err := cmd.NewRegistry(logger, command.String("bindings-path"))
			if err != nil {
				return err
			}

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			resultCache, err := cmd.NewCache(ctx, command.String("cache-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := resultCache.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close cache", "error", err)
				}
			}()

			artifactStore, err := cmd.NewArtifactStore(ctx, command.String("artifacts-url"))
			if err != nil {
				return err
			}

			workQueue := queue.NewWorkQueue(queue.Config{
				Capacity:   int(command.Int("queue-capacity")),
				MaxPending: int(command.Int("queue-max-pending")),
			}, logger)

			exec := executor.NewExecutor(registry, resultCache, eventBus, logger, workerID).
				OnQuotaExhausted(workQueue.ReportQuotaExhausted)

			if os.Getenv("OTEL_ENABLED") == "true" {
				tracer, tracerErr := otelhelper.NewTracer(ctx, "storyreel-worker")
				if tracerErr != nil {
					logger.WarnContext(ctx, "Failed to initialize tracer", "error", tracerErr)
				} else {
					exec = exec.WithTracer(tracer)
				}
			}

			coordinator := pipeline.NewCoordinator(persistence, workQueue, exec, eventBus, artifactStore, logger)

			manager := NewWorkerManager(workerID, coordinator, workQueue, resultCache, eventBus, logger)

			return manager.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
