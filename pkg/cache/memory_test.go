package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyreel/storyreel/pkg/models"
)

func TestMemoryCache_PutGet(t *testing.T) {
	c := NewMemoryCache()
	key := NewKey(models.StageTranslate, map[string]any{"text": "hello"})

	payload, hit, err := c.Get(t.Context(), key)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, payload)

	err = c.Put(t.Context(), key, map[string]any{"text": "hola"}, time.Minute)
	require.NoError(t, err)

	payload, hit, err = c.Get(t.Context(), key)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "hola", payload["text"])
}

func TestMemoryCache_ExpiryOnRead(t *testing.T) {
	c := NewMemoryCache()

	current := time.Now()
	c.now = func() time.Time { return current }

	key := NewKey(models.StageDetectLanguage, map[string]any{"text": "hello"})
	require.NoError(t, c.Put(t.Context(), key, map[string]any{"language": "en"}, time.Minute))

	current = current.Add(2 * time.Minute)

	_, hit, err := c.Get(t.Context(), key)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_Sweep(t *testing.T) {
	c := NewMemoryCache()

	current := time.Now()
	c.now = func() time.Time { return current }

	expired := NewKey(models.StageDetectLanguage, map[string]any{"text": "old"})
	fresh := NewKey(models.StageDetectLanguage, map[string]any{"text": "new"})

	require.NoError(t, c.Put(t.Context(), expired, map[string]any{"language": "en"}, time.Minute))

	current = current.Add(30 * time.Minute)
	require.NoError(t, c.Put(t.Context(), fresh, map[string]any{"language": "fr"}, time.Hour))

	removed := c.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	_, hit, err := c.Get(t.Context(), fresh)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestMemoryCache_Invalidate(t *testing.T) {
	c := NewMemoryCache()
	key := NewKey(models.StageSynthesizeVoice, map[string]any{"text": "hello"})

	require.NoError(t, c.Put(t.Context(), key, map[string]any{"voice_ref": "v1"}, time.Minute))
	require.NoError(t, c.Invalidate(t.Context(), key))

	_, hit, err := c.Get(t.Context(), key)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestTTLFor(t *testing.T) {
	assert.Equal(t, 30*time.Minute, TTLFor(models.StageDetectLanguage))
	assert.Equal(t, time.Hour, TTLFor(models.StageTranslate))
	assert.Equal(t, 24*time.Hour, TTLFor(models.StageGenerateClip))
}
