// Package persistence provides the storage abstraction for generation runs.
// The coordinator only ever talks to these interfaces; concrete storage is a
// collaborator chosen at startup.
package persistence

import (
	"context"

	"github.com/storyreel/storyreel/pkg/models"
)

// RunRepository loads and stores GenerationRun records. Save persists the
// whole record including the current phase's subtasks; it is called after
// every phase transition by the single Advance invocation holding the run's
// lock, so implementations need no per-record locking.
type RunRepository interface {
	Save(ctx context.Context, run *models.GenerationRun) error
	GetByID(ctx context.Context, id string) (*models.GenerationRun, error)
	// ListByStatus returns the runs currently in the given status. Used by
	// the janitor's recovery scan; failed runs stay queryable indefinitely.
	ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.GenerationRun, error)
}

type Persistence interface {
	Runs() RunRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
