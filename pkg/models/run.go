package models

import "time"

// RunStatus represents the lifecycle state of a generation run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"   // Accepted, waiting for a queue slot
	RunStatusRunning   RunStatus = "running"   // At least one phase dispatched
	RunStatusSucceeded RunStatus = "succeeded" // All phases completed, artifact available
	RunStatusFailed    RunStatus = "failed"    // A non-optional phase failed permanently
	RunStatusCancelled RunStatus = "cancelled" // Cancelled by the owner
)

// Terminal reports whether the status is final. No transition leaves a
// terminal status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// ErrorInfo is the user-visible classification of a failure. Message never
// carries raw adapter internals.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PhaseRecord is one entry of a run's phase history, written when the phase
// reaches a terminal aggregate state. Records are immutable once appended.
type PhaseRecord struct {
	Phase       Phase          `json:"phase"`
	Status      PhaseStatus    `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"`
	SubTasks    int            `json:"sub_tasks"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// GenerationRun is one end-to-end execution of the pipeline for a single
// input. The record is owned by the coordinator: only the Advance invocation
// holding the run's lock mutates it, and it is persisted after every phase
// transition.
type GenerationRun struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Input        StoryInput     `json:"input"`
	Priority     int            `json:"priority"`
	Status       RunStatus      `json:"status"`
	CurrentPhase Phase          `json:"current_phase"`
	PhaseHistory []PhaseRecord  `json:"phase_history"`
	SubTasks     []*SubTask     `json:"sub_tasks,omitempty"` // Current phase fan-out only
	Artifact     *ArtifactRef   `json:"artifact,omitempty"`
	LastError    *ErrorInfo     `json:"last_error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// PhaseOutput returns the recorded output of a completed phase, or nil when
// the phase has not completed yet.
func (r *GenerationRun) PhaseOutput(phase Phase) map[string]any {
	for _, record := range r.PhaseHistory {
		if record.Phase == phase && record.Status == PhaseStatusOk {
			return record.Output
		}
	}

	return nil
}

// SubTaskByID returns the current-phase subtask with the given ID.
func (r *GenerationRun) SubTaskByID(id string) *SubTask {
	for _, st := range r.SubTasks {
		if st.ID == id {
			return st
		}
	}

	return nil
}

// ProgressPercent estimates overall completion from the phase history and the
// current phase's settled subtasks. Terminal successful runs report 100.
func (r *GenerationRun) ProgressPercent() int {
	if r.Status == RunStatusSucceeded {
		return 100
	}

	total := len(PhaseOrder)

	done := 0

	for _, record := range r.PhaseHistory {
		if record.Status == PhaseStatusOk {
			done++
		}
	}

	progress := done * 100 / total

	if len(r.SubTasks) > 0 {
		settled := 0

		for _, st := range r.SubTasks {
			if st.Status.Terminal() {
				settled++
			}
		}

		progress += settled * 100 / (total * len(r.SubTasks))
	}

	if progress > 99 {
		progress = 99
	}

	return progress
}
