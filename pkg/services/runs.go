package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/storyreel/storyreel/pkg/eventbus"
	"github.com/storyreel/storyreel/pkg/events"
	"github.com/storyreel/storyreel/pkg/models"
	"github.com/storyreel/storyreel/pkg/persistence"
	"github.com/storyreel/storyreel/pkg/pipeline"
	"github.com/storyreel/storyreel/pkg/queue"
)

// Runs is the application service in front of the pipeline coordinator. It
// validates submissions, shapes status responses and maps domain failures to
// service errors.
type Runs struct {
	coordinator *pipeline.Coordinator
	persistence persistence.Persistence
	bus         eventbus.EventPublisher
	validate    *validator.Validate
}

func NewRuns(coordinator *pipeline.Coordinator, p persistence.Persistence) *Runs {
	return &Runs{
		coordinator: coordinator,
		persistence: p,
		validate:    validator.New(),
	}
}

// WithIngressBus makes Submit publish RunRequested on the bus instead of
// admitting the run in-process. Used when a separate worker fleet owns
// execution; the worker's request handler performs the actual admission.
func (r *Runs) WithIngressBus(bus eventbus.EventPublisher) *Runs {
	r.bus = bus

	return r
}

// HealthCheck checks the health of the persistence layer.
func (r *Runs) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := r.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// SubmitRequest is one story submission.
type SubmitRequest struct {
	OwnerID  string            `validate:"required"`
	Input    models.StoryInput `validate:"required"`
	Priority int
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	Run           *models.GenerationRun `json:"run"`
	QueuePosition int                   `json:"queue_position"`
	EstimatedWait string                `json:"estimated_wait"`
}

// Submit validates the story input and hands the run to the coordinator.
func (r *Runs) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	if err := r.validateSubmit(&req); err != nil {
		return nil, err
	}

	if req.Priority == 0 {
		req.Priority = queue.PriorityNormal
	}

	if r.bus != nil {
		return r.submitRemote(ctx, req)
	}

	run, admission, err := r.coordinator.Submit(ctx, req.OwnerID, req.Input, req.Priority)
	if err != nil {
		if IsOverloadedError(err) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to submit run: %w", err)
	}

	return &SubmitResponse{
		Run:           run,
		QueuePosition: admission.Position,
		EstimatedWait: admission.EstimatedWait.String(),
	}, nil
}

// submitRemote hands the validated submission to the worker fleet through the
// bus. The run ID is generated here so the owner can poll it right away; the
// record itself appears once a worker admits the run.
func (r *Runs) submitRemote(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	runID := pipeline.NewRunID()

	event := events.RunRequested{
		BaseEvent: events.NewBaseEvent(events.RunRequestedEvent, runID),
		OwnerID:   req.OwnerID,
		Input:     req.Input,
	}

	if err := r.bus.Publish(ctx, runID, event); err != nil {
		return nil, fmt.Errorf("failed to publish run request: %w", err)
	}

	return &SubmitResponse{
		Run: &models.GenerationRun{
			ID:      runID,
			OwnerID: req.OwnerID,
			Input:   req.Input,
			Status:  models.RunStatusPending,
		},
	}, nil
}

// validateSubmit enforces the submission contract before any work is queued:
// length bounds, printable text and a well-formed target language tag.
func (r *Runs) validateSubmit(req *SubmitRequest) error {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.OwnerID == "" {
		return ErrEmptyOwnerID
	}

	req.Input.Text = strings.TrimSpace(req.Input.Text)

	text := req.Input.Text
	if text == "" {
		return NewValidationError("Submit", "TEXT_REQUIRED", "story text is required", ErrTextRequired)
	}

	length := utf8.RuneCountInString(text)

	if length < models.MinInputLength {
		return NewValidationError(
			"Submit",
			"TEXT_TOO_SHORT",
			fmt.Sprintf("story text must be at least %d characters, got %d", models.MinInputLength, length),
			ErrTextTooShort,
		)
	}

	if length > models.MaxInputLength {
		return NewValidationError(
			"Submit",
			"TEXT_TOO_LONG",
			fmt.Sprintf("story text must be at most %d characters, got %d", models.MaxInputLength, length),
			ErrTextTooLong,
		)
	}

	if !utf8.ValidString(text) || hasDisallowedControl(text) {
		return NewValidationError(
			"Submit",
			"TEXT_NOT_PRINTABLE",
			"story text must be valid UTF-8 without control characters",
			ErrTextNotPrintable,
		)
	}

	if err := r.validate.Struct(req.Input); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 && fields[0].Field() == "TargetLanguage" {
			return NewValidationError(
				"Submit",
				"INVALID_LANGUAGE",
				fmt.Sprintf("invalid target language '%s'", req.Input.TargetLanguage),
				ErrInvalidLanguage,
			)
		}

		return NewValidationError("Submit", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	return nil
}

// hasDisallowedControl reports whether the text contains control characters
// other than ordinary whitespace.
func hasDisallowedControl(text string) bool {
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}

	return false
}

// StatusResponse is the owner-facing view of a run.
type StatusResponse struct {
	Run      *models.GenerationRun `json:"run"`
	Progress int                   `json:"progress"`
	Message  string                `json:"message,omitempty"`
}

// FetchByID retrieves a run and its derived progress.
func (r *Runs) FetchByID(ctx context.Context, id string) (*StatusResponse, error) {
	run, err := r.persistence.Runs().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return &StatusResponse{
		Run:      run,
		Progress: run.ProgressPercent(),
		Message:  statusMessage(run),
	}, nil
}

// Cancel asks the coordinator to cancel a run.
func (r *Runs) Cancel(ctx context.Context, id string, reason string) (*models.GenerationRun, error) {
	run, err := r.coordinator.Cancel(ctx, id, reason)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunTerminal) {
			return run, ErrRunAlreadyTerminal
		}

		return nil, err
	}

	return run, nil
}

// statusMessage renders a human-readable one-liner for terminal runs. Raw
// adapter internals never leak here; ErrorInfo is already sanitized.
func statusMessage(run *models.GenerationRun) string {
	switch run.Status {
	case models.RunStatusSucceeded:
		return "video ready"
	case models.RunStatusCancelled:
		return "cancelled by owner"
	case models.RunStatusFailed:
		if run.LastError != nil {
			return fmt.Sprintf("failed during %s: %s", run.CurrentPhase, run.LastError.Message)
		}

		return fmt.Sprintf("failed during %s", run.CurrentPhase)
	default:
		return ""
	}
}
