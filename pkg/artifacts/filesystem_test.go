package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyreel/storyreel/pkg/models"
)

func TestFilesystemStore_Publish(t *testing.T) {
	root := t.TempDir()

	store, err := NewFilesystemStore(root)
	require.NoError(t, err)

	run := &models.GenerationRun{ID: "run-1", OwnerID: "owner-1"}
	manifest := map[string]any{
		"video_ref":        "stub://video/run-1",
		"format":           "mp4",
		"duration_seconds": 8.0,
	}

	ref, err := store.Publish(t.Context(), run, manifest)
	require.NoError(t, err)

	assert.Equal(t, "run-1/manifest.json", ref.Key)
	assert.Equal(t, root, ref.Bucket)
	assert.Equal(t, "mp4", ref.Format)
	assert.InDelta(t, 8.0, ref.DurationSeconds, 0.001)
	assert.Positive(t, ref.SizeBytes)

	data, err := os.ReadFile(filepath.Join(root, "run-1", "manifest.json"))
	require.NoError(t, err)

	var written map[string]any
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, "stub://video/run-1", written["video_ref"])
}

func TestNewFilesystemStore_StripsScheme(t *testing.T) {
	root := t.TempDir()

	store, err := NewFilesystemStore("file://" + root)
	require.NoError(t, err)

	run := &models.GenerationRun{ID: "run-2"}

	_, err = store.Publish(t.Context(), run, map[string]any{"format": "mp4"})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "run-2", "manifest.json"))
	require.NoError(t, err)
}
