// Package queue provides admission control and fair scheduling for pipeline
// runs and their fan-out subtasks.
package queue

import (
	"context"
	"time"
)

// Priorities derived from the caller tier. Anything below PriorityNormal is
// shed first under load.
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// Handler executes one dispatched ticket. It runs on its own goroutine and
// must honor ctx cancellation.
type Handler func(ctx context.Context, ticket *Ticket)

// Ticket is a run or subtask awaiting an execution slot. Tickets live only in
// the queue's memory: they are created on submission, consumed on dispatch and
// discarded afterwards.
type Ticket struct {
	ID         string
	RunID      string
	SubTaskID  string // empty for run admission tickets
	Priority   int
	Cost       int // capacity units held while executing
	EnqueuedAt time.Time
	Execute    Handler

	seq        uint64
	promotedAt time.Time
}

// Admission is the immediate response returned to Enqueue callers instead of
// blocking them until dispatch.
type Admission struct {
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}
