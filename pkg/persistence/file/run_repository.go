package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/storyreel/storyreel/pkg/models"
	"github.com/storyreel/storyreel/pkg/persistence"
)

// RunRepository stores one JSON document per run under <root>/runs/.
type RunRepository struct {
	root string
}

func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

// validRunID accepts identifiers of the run-<uuid> shape and similar opaque
// tokens. Anything that could name a path, such as separators or dots, never
// reaches the filesystem.
func validRunID(id string) bool {
	if id == "" {
		return false
	}

	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}

	return true
}

func (rr *RunRepository) Save(_ context.Context, run *models.GenerationRun) error {
	if !validRunID(run.ID) {
		return fmt.Errorf("invalid run id %q", run.ID)
	}

	err := os.MkdirAll(rr.root+"/runs", 0750)
	if err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	filePath := path.Join(rr.root+"/runs", run.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.GenerationRun, error) {
	if !validRunID(id) {
		return nil, persistence.ErrRunNotFound
	}

	filePath := filepath.Clean(path.Join(rr.root, "runs", id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to fetch run %s: %w", id, err)
	}

	var run models.GenerationRun

	err = json.Unmarshal(body, &run)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}

	return &run, nil
}

func (rr *RunRepository) ListByStatus(ctx context.Context, status models.RunStatus) ([]*models.GenerationRun, error) {
	root := os.DirFS(rr.root + "/runs")

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.GenerationRun, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		runID := file[:len(file)-5] // Remove .json extension

		run, err := rr.GetByID(ctx, runID)
		if err != nil {
			if persistence.IsRunNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
		}

		if run.Status == status {
			runs = append(runs, run)
		}
	}

	return runs, nil
}
