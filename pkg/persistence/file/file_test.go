package file_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyreel/storyreel/pkg/models"
	"github.com/storyreel/storyreel/pkg/persistence"
	"github.com/storyreel/storyreel/pkg/persistence/file"
)

func sampleRun(id string, status models.RunStatus) *models.GenerationRun {
	dispatchedAt := time.Now().UTC().Add(-time.Minute)

	return &models.GenerationRun{
		ID:      id,
		OwnerID: "owner-1",
		Input: models.StoryInput{
			Text:           "A lighthouse keeper finds a message in a bottle and sails out.",
			TargetLanguage: "en",
		},
		Status:       status,
		CurrentPhase: models.PhaseSceneAnalysis,
		SubTasks: []*models.SubTask{
			{
				ID:           models.SubTaskID(id, models.PhaseSceneAnalysis, 0),
				RunID:        id,
				Phase:        models.PhaseSceneAnalysis,
				Stage:        models.StageExtractEntities,
				Input:        map[string]any{"text": "some text"},
				Status:       models.SubTaskStatusDispatched,
				DispatchedAt: &dispatchedAt,
			},
		},
		PhaseHistory: []models.PhaseRecord{
			{
				Phase:  models.PhaseLanguageProcessing,
				Status: models.PhaseStatusOk,
				Output: map[string]any{"language": "en", "translated": false},
			},
		},
		Metadata: map[string]any{"source": "test"},
	}
}

func TestRunRepository_SaveAndGetByID(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	run := sampleRun("run-1", models.RunStatusRunning)
	require.NoError(t, p.Runs().Save(t.Context(), run))

	loaded, err := p.Runs().GetByID(t.Context(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, run.ID, loaded.ID)
	assert.Equal(t, run.OwnerID, loaded.OwnerID)
	assert.Equal(t, models.RunStatusRunning, loaded.Status)
	assert.Equal(t, models.PhaseSceneAnalysis, loaded.CurrentPhase)
	assert.Equal(t, run.Input.Text, loaded.Input.Text)

	require.Len(t, loaded.SubTasks, 1)
	assert.Equal(t, run.SubTasks[0].ID, loaded.SubTasks[0].ID)
	assert.Equal(t, models.SubTaskStatusDispatched, loaded.SubTasks[0].Status)
	require.NotNil(t, loaded.SubTasks[0].DispatchedAt)

	require.Len(t, loaded.PhaseHistory, 1)
	assert.Equal(t, models.PhaseLanguageProcessing, loaded.PhaseHistory[0].Phase)
	assert.Equal(t, "en", loaded.PhaseHistory[0].Output["language"])
}

func TestRunRepository_GetByIDNotFound(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	_, err := p.Runs().GetByID(t.Context(), "run-missing")
	assert.ErrorIs(t, err, persistence.ErrRunNotFound)
}

func TestRunRepository_RejectsPathShapedIDs(t *testing.T) {
	root := t.TempDir()
	p := file.NewPersistence(root)

	// Plant a file outside runs/ that a traversing ID would reach.
	outside := filepath.Join(root, "secret.json")
	require.NoError(t, os.WriteFile(outside, []byte(`{"id":"secret"}`), 0600))

	for _, id := range []string{"../secret", "..", "a/b", "run-1.json", ""} {
		_, err := p.Runs().GetByID(t.Context(), id)
		assert.ErrorIsf(t, err, persistence.ErrRunNotFound, "id %q", id)

		bad := sampleRun("run-1", models.RunStatusRunning)
		bad.ID = id
		assert.Errorf(t, p.Runs().Save(t.Context(), bad), "id %q", id)
	}
}

func TestRunRepository_SaveOverwrites(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	run := sampleRun("run-1", models.RunStatusRunning)
	require.NoError(t, p.Runs().Save(t.Context(), run))

	run.Status = models.RunStatusSucceeded
	run.SubTasks = nil
	require.NoError(t, p.Runs().Save(t.Context(), run))

	loaded, err := p.Runs().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, loaded.Status)
	assert.Empty(t, loaded.SubTasks)
}

func TestRunRepository_ListByStatus(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	require.NoError(t, p.Runs().Save(t.Context(), sampleRun("run-1", models.RunStatusRunning)))
	require.NoError(t, p.Runs().Save(t.Context(), sampleRun("run-2", models.RunStatusPending)))
	require.NoError(t, p.Runs().Save(t.Context(), sampleRun("run-3", models.RunStatusRunning)))

	running, err := p.Runs().ListByStatus(t.Context(), models.RunStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 2)

	pending, err := p.Runs().ListByStatus(t.Context(), models.RunStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "run-2", pending[0].ID)

	failed, err := p.Runs().ListByStatus(t.Context(), models.RunStatusFailed)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestRunRepository_ListByStatusEmptyRoot(t *testing.T) {
	p := file.NewPersistence(t.TempDir())

	runs, err := p.Runs().ListByStatus(t.Context(), models.RunStatusPending)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPersistence_HealthCheck(t *testing.T) {
	root := t.TempDir()

	p := file.NewPersistence(root)
	require.NoError(t, p.HealthCheck(t.Context()))

	missing := file.NewPersistence(root + "/does-not-exist")
	assert.Error(t, missing.HealthCheck(t.Context()))
}
