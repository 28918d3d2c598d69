// Package artifacts publishes finished video manifests to durable storage
// and hands back references that survive provider-side expiry.
package artifacts

import (
	"context"

	"github.com/storyreel/storyreel/pkg/models"
)

// Store publishes the delivery manifest for a finished run and returns
// a stable reference to it.
type Store interface {
	Publish(ctx context.Context, run *models.GenerationRun, manifest map[string]any) (*models.ArtifactRef, error)
}
