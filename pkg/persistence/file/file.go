// Package file provides file-based persistence for generation runs, suitable
// for local development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/storyreel/storyreel/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root    string
	runRepo *RunRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// A "file://" prefix is stripped so database-url style configuration works.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:    cleanRoot,
		runRepo: NewRunRepository(cleanRoot),
	}
}

func (fp *Persistence) Runs() persistence.RunRepository {
	return fp.runRepo
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs no work for file persistence.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}
