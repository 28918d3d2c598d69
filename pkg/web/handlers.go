// Package web provides HTTP handlers and REST API endpoints for generation runs.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/storyreel/storyreel/pkg/models"
	"github.com/storyreel/storyreel/pkg/queue"
	"github.com/storyreel/storyreel/pkg/registry"
	"github.com/storyreel/storyreel/pkg/services"
)

type APIHandlers struct {
	runService *services.Runs
	validator  *validator.Validate
	registry   *registry.Registry
}

func NewAPIHandlers(
	runService *services.Runs,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		runService: runService,
		validator:  validator,
		registry:   registry,
	}
}

// RegisterRoutes installs the run API on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Post("/runs", h.SubmitRun)
	app.Get("/runs/:id", h.GetRun)
	app.Delete("/runs/:id", h.CancelRun)
	app.Get("/health", h.HealthCheck)
}

// SubmitRun accepts a story and answers 202 with the queue position; the
// video is produced asynchronously.
func (h *APIHandlers) SubmitRun(c fiber.Ctx) error {
	var req SubmitRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.runService.Submit(c.Context(), services.SubmitRequest{
		OwnerID: req.OwnerID,
		Input: models.StoryInput{
			Text:           req.Text,
			TargetLanguage: req.TargetLanguage,
			VoiceID:        req.VoiceID,
			Style:          req.Style,
		},
		Priority: parsePriority(req.Priority),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitRunResponse{
		ID:            result.Run.ID,
		Status:        string(result.Run.Status),
		QueuePosition: result.QueuePosition,
		EstimatedWait: result.EstimatedWait,
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	status, err := h.runService.FetchByID(c.Context(), id)
	if err != nil {
		if services.IsNotFoundError(err) {
			return notFound(c, "Run not found")
		}

		return internalError(c, err)
	}

	return c.JSON(newRunResponse(status.Run, status.Progress, status.Message))
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req CancelRunRequest
	// The body is optional; a bare DELETE cancels without a reason.
	_ = c.Bind().JSON(&req)

	run, err := h.runService.Cancel(c.Context(), id, req.Reason)
	if err != nil {
		if services.IsNotFoundError(err) {
			return notFound(c, "Run not found")
		}

		return handleServiceError(c, err)
	}

	return c.JSON(newRunResponse(run, run.ProgressPercent(), ""))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.runService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Storyreel API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Storyreel API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func parsePriority(priority string) int {
	switch priority {
	case "high":
		return queue.PriorityHigh
	case "low":
		return queue.PriorityLow
	default:
		return queue.PriorityNormal
	}
}
