// Package web provides HTTP request and response types for the run API.
package web

import (
	"time"

	"github.com/storyreel/storyreel/pkg/models"
)

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SubmitRunRequest represents the request body for submitting a story.
type SubmitRunRequest struct {
	Text           string `json:"text"                      validate:"required"`
	TargetLanguage string `json:"target_language,omitempty"`
	VoiceID        string `json:"voice_id,omitempty"`
	Style          string `json:"style,omitempty"`
	OwnerID        string `json:"owner_id"                  validate:"required"`
	Priority       string `json:"priority,omitempty"        validate:"omitempty,oneof=low normal high"`
}

// SubmitRunResponse acknowledges an accepted submission before any work runs.
type SubmitRunResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
	EstimatedWait string `json:"estimated_wait"`
}

// RunResponse is the owner-facing view of a run.
type RunResponse struct {
	ID           string              `json:"id"`
	OwnerID      string              `json:"owner_id"`
	Status       string              `json:"status"`
	CurrentPhase string              `json:"current_phase"`
	Progress     int                 `json:"progress"`
	Message      string              `json:"message,omitempty"`
	Phases       []PhaseView         `json:"phases"`
	Artifact     *models.ArtifactRef `json:"artifact,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// PhaseView is one entry of the run's phase history.
type PhaseView struct {
	Phase      string            `json:"phase"`
	Status     string            `json:"status"`
	SubTasks   int               `json:"sub_tasks,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	Error      *models.ErrorInfo `json:"error,omitempty"`
}

// CancelRunRequest optionally carries the cancellation reason.
type CancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

func newRunResponse(run *models.GenerationRun, progress int, message string) RunResponse {
	phases := make([]PhaseView, 0, len(run.PhaseHistory))

	for _, record := range run.PhaseHistory {
		phases = append(phases, PhaseView{
			Phase:      string(record.Phase),
			Status:     string(record.Status),
			SubTasks:   record.SubTasks,
			DurationMs: record.CompletedAt.Sub(record.StartedAt).Milliseconds(),
			Error:      record.Error,
		})
	}

	return RunResponse{
		ID:           run.ID,
		OwnerID:      run.OwnerID,
		Status:       string(run.Status),
		CurrentPhase: string(run.CurrentPhase),
		Progress:     progress,
		Message:      message,
		Phases:       phases,
		Artifact:     run.Artifact,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}
