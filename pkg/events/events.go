// Package events defines the event types published on run and phase
// transitions. Events are observational: progress reporting and notification
// consume them, the coordinator itself never does.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/storyreel/storyreel/pkg/models"
)

type EventType string

// Topic is the single bus topic carrying every pipeline event.
const Topic = "storyreel.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Ingress.
	RunRequestedEvent EventType = "run.requested"

	// Run lifecycle.
	RunQueuedEvent    EventType = "run.queued"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"

	// Phase lifecycle.
	PhaseStartedEvent   EventType = "phase.started"
	PhaseCompletedEvent EventType = "phase.completed"
	PhaseFailedEvent    EventType = "phase.failed"

	// Per-attempt stage observability.
	StageAttemptedEvent EventType = "stage.attempted"
)

// BaseEvent carries the fields shared by every event. Subscribers must
// tolerate duplicates and reordering within a run; (RunID, Phase, Attempt)
// identifies an attempt for idempotent handling.
type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type RunRequested struct {
	BaseEvent

	OwnerID string            `json:"owner_id"`
	Input   models.StoryInput `json:"input"`
}

func (e RunRequested) GetType() EventType { return RunRequestedEvent }

type RunQueued struct {
	BaseEvent

	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

func (e RunQueued) GetType() EventType { return RunQueuedEvent }

type RunCompleted struct {
	BaseEvent

	Artifact   *models.ArtifactRef `json:"artifact"`
	DurationMs int64               `json:"duration_ms"`
	Phases     int                 `json:"phases"`
}

func (e RunCompleted) GetType() EventType { return RunCompletedEvent }

type RunFailed struct {
	BaseEvent

	Phase      models.Phase     `json:"phase"`
	Error      models.ErrorInfo `json:"error"`
	DurationMs int64            `json:"duration_ms"`
}

func (e RunFailed) GetType() EventType { return RunFailedEvent }

type RunCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e RunCancelled) GetType() EventType { return RunCancelledEvent }

type PhaseStarted struct {
	BaseEvent

	Phase    models.Phase `json:"phase"`
	SubTasks int          `json:"sub_tasks"`
}

func (e PhaseStarted) GetType() EventType { return PhaseStartedEvent }

type PhaseCompleted struct {
	BaseEvent

	Phase      models.Phase `json:"phase"`
	SubTasks   int          `json:"sub_tasks"`
	DurationMs int64        `json:"duration_ms"`
}

func (e PhaseCompleted) GetType() EventType { return PhaseCompletedEvent }

type PhaseFailed struct {
	BaseEvent

	Phase models.Phase     `json:"phase"`
	Error models.ErrorInfo `json:"error"`
}

func (e PhaseFailed) GetType() EventType { return PhaseFailedEvent }

// StageAttempted is published for every adapter attempt, success or failure,
// including cache hits (Attempt 0, FromCache true).
type StageAttempted struct {
	BaseEvent

	SubTaskID  string             `json:"sub_task_id"`
	Phase      models.Phase       `json:"phase"`
	Stage      models.Stage       `json:"stage"`
	Adapter    string             `json:"adapter,omitempty"`
	Attempt    int                `json:"attempt"`
	Status     models.PhaseStatus `json:"status"`
	FromCache  bool               `json:"from_cache"`
	Error      *models.ErrorInfo  `json:"error,omitempty"`
	DurationMs int64              `json:"duration_ms"`
}

func (e StageAttempted) GetType() EventType { return StageAttemptedEvent }

func NewBaseEvent(eventType EventType, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Metadata:  make(map[string]any),
	}
}
