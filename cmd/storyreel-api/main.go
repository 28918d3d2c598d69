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
	"github.com/storyreel/storyreel/pkg/pipeline"
	"github.com/storyreel/storyreel/pkg/queue"
)

const defaultPort = 9091

func main() {
	_ = godotenv.Load()

	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "storyreel-api",
		Usage:                 "Submit stories and track generation runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
			&cli.BoolFlag{
				Name:    "remote-submit",
				Usage:   "Publish run requests on the bus for a worker fleet instead of executing in-process",
				Sources: cli.EnvVars("REMOTE_SUBMIT"),
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

			logger.InfoContext(ctx, "Initializing Storyreel API")

			registry, err := cmd.NewRegistry(logger, command.String("bindings-path"))
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
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

			workerID := "api-" + uuid.New().String()[:8]

			workQueue := queue.NewWorkQueue(queue.Config{}, logger)

			exec := executor.NewExecutor(registry, resultCache, eventBus, logger, workerID).
				OnQuotaExhausted(workQueue.ReportQuotaExhausted)

			coordinator := pipeline.NewCoordinator(persistence, workQueue, exec, eventBus, artifactStore, logger)

			api := NewAPI(logger, persistence, registry, coordinator)

			if command.Bool("remote-submit") {
				// Execution belongs to the worker fleet; this process only
				// publishes requests and serves reads.
				api = api.WithIngressBus(eventBus)
			} else {
				dispatchCtx, cancelDispatch := context.WithCancel(ctx)
				defer cancelDispatch()

				go workQueue.Dispatch(dispatchCtx)
			}

			if err := api.Start(int(command.Int("port"))); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
