package models

import "time"

// PhaseStatus is the outcome of one stage execution or of a phase aggregate.
type PhaseStatus string

const (
	PhaseStatusOk       PhaseStatus = "ok"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusRetrying PhaseStatus = "retrying"
)

// PhaseResult is produced by the stage executor and consumed by the
// coordinator. It is immutable once recorded on a subtask.
type PhaseResult struct {
	Phase     Phase          `json:"phase"`
	Stage     Stage          `json:"stage"`
	SubTaskID string         `json:"sub_task_id"`
	Status    PhaseStatus    `json:"status"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     *ErrorInfo     `json:"error,omitempty"`
	Attempts  int            `json:"attempts"`
	FromCache bool           `json:"from_cache"`
	Duration  time.Duration  `json:"duration"`
}
