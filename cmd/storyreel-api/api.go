// Package main provides the Storyreel API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/storyreel/storyreel/pkg/eventbus"
	"github.com/storyreel/storyreel/pkg/persistence"
	"github.com/storyreel/storyreel/pkg/pipeline"
	"github.com/storyreel/storyreel/pkg/registry"
	"github.com/storyreel/storyreel/pkg/services"
	"github.com/storyreel/storyreel/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	coordinator *pipeline.Coordinator
	ingressBus  eventbus.EventPublisher
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	coordinator *pipeline.Coordinator,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		coordinator: coordinator,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// WithIngressBus switches submissions to bus ingress: the API publishes run
// requests and a separate worker fleet admits and executes them.
func (a *API) WithIngressBus(bus eventbus.EventPublisher) *API {
	a.ingressBus = bus

	return a
}

func (a *API) App() *fiber.App {
	runService := services.NewRuns(a.coordinator, a.persistence)
	if a.ingressBus != nil {
		runService = runService.WithIngressBus(a.ingressBus)
	}

	handlers := web.NewAPIHandlers(runService, a.validate, a.registry)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Storyreel API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
