package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/storyreel/storyreel/pkg/models"
)

// FilesystemStore writes delivery manifests under a local root directory.
// Useful for development and for single-node deployments.
type FilesystemStore struct {
	root string
}

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	root = strings.TrimPrefix(root, "file://")

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}

	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) Publish(_ context.Context, run *models.GenerationRun, manifest map[string]any) (*models.ArtifactRef, error) {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	key := fmt.Sprintf("%s/manifest.json", run.ID)
	path := filepath.Join(s.root, run.ID, "manifest.json")

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}

	ref := &models.ArtifactRef{
		Key:       key,
		Bucket:    s.root,
		SizeBytes: int64(len(data)),
	}
	applyManifest(ref, manifest)

	return ref, nil
}

// applyManifest copies the media attributes reported by the composition
// stages onto the reference.
func applyManifest(ref *models.ArtifactRef, manifest map[string]any) {
	if format, ok := manifest["format"].(string); ok {
		ref.Format = format
	}

	if duration, ok := manifest["duration_seconds"].(float64); ok {
		ref.DurationSeconds = duration
	}
}
