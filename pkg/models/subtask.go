package models

import (
	"fmt"
	"time"
)

// SubTaskStatus tracks one unit of fan-out work inside a phase.
type SubTaskStatus string

const (
	SubTaskStatusPending    SubTaskStatus = "pending"
	SubTaskStatusDispatched SubTaskStatus = "dispatched"
	SubTaskStatusOk         SubTaskStatus = "ok"
	SubTaskStatusFailed     SubTaskStatus = "failed"
)

// Terminal reports whether the subtask has settled.
func (s SubTaskStatus) Terminal() bool {
	return s == SubTaskStatusOk || s == SubTaskStatusFailed
}

// SubTask is one unit of parallel work within a phase's fan-out, e.g.
// "generate character #2". A phase completes only when all of its subtasks
// reach a terminal state.
type SubTask struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	Phase        Phase          `json:"phase"`
	Stage        Stage          `json:"stage"`
	Index        int            `json:"index"`
	Input        map[string]any `json:"input"`
	Status       SubTaskStatus  `json:"status"`
	Attempts     int            `json:"attempts"`
	Result       *PhaseResult   `json:"result,omitempty"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`
	SettledAt    *time.Time     `json:"settled_at,omitempty"`
}

// SubTaskID derives the deterministic identifier of a subtask. Identical
// persisted run state therefore yields identical dispatch decisions, which
// makes replaying Advance after a crash safe.
func SubTaskID(runID string, phase Phase, index int) string {
	return fmt.Sprintf("%s/%s/%02d", runID, phase, index)
}
