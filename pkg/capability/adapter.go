// Package capability defines the uniform contract wrapping each external
// AI/processing capability. The orchestrator depends only on this contract,
// never on a concrete provider protocol.
package capability

import (
	"context"

	"github.com/storyreel/storyreel/pkg/models"
)

// Request carries one stage invocation. Input is the normalized stage input;
// RunID and SubTaskID identify the work for provider-side correlation only.
type Request struct {
	Stage     models.Stage   `json:"stage"`
	RunID     string         `json:"run_id"`
	SubTaskID string         `json:"sub_task_id"`
	Input     map[string]any `json:"input"`
}

// Response is the structured output of a successful invocation.
type Response struct {
	Output map[string]any `json:"output"`
}

// Adapter wraps one external capability provider. Invoke blocks until the
// provider answers or ctx expires; errors must be classified with the Kind
// taxonomy of this package so the executor can apply its retry policy.
type Adapter interface {
	ID() string
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// Factory builds an adapter from a validated configuration map.
type Factory interface {
	ID() string
	Create(config map[string]any) (Adapter, error)
	Schema() string
}
