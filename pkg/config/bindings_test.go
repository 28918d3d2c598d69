package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyreel/storyreel/pkg/config"
	"github.com/storyreel/storyreel/pkg/models"
)

func writeBindings(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bindings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	return path
}

func TestLoadBindings_YAML(t *testing.T) {
	path := writeBindings(t, `
detect-language:
  timeout_seconds: 15
  max_attempts: 2
  adapters:
    - factory: httpjson
      config:
        url: https://provider.example.com/detect
        headers:
          X-Api-Key: secret
generate-clip:
  cache_ttl_seconds: 86400
  adapters:
    - factory: httpjson
      config:
        url: https://provider.example.com/clips
    - factory: stub
      config:
        id: clip-fallback
`)

	bindings, err := config.LoadBindings(path)
	require.NoError(t, err)
	require.Len(t, bindings, 2)

	detect := bindings[models.StageDetectLanguage]
	assert.Equal(t, 15, detect.TimeoutSeconds)
	assert.Equal(t, 2, detect.MaxAttempts)
	require.Len(t, detect.Adapters, 1)
	assert.Equal(t, "httpjson", detect.Adapters[0].Factory)
	assert.Equal(t, "https://provider.example.com/detect", detect.Adapters[0].Config["url"])

	clip := bindings[models.StageGenerateClip]
	assert.Equal(t, 86400, clip.CacheTTLSeconds)
	require.Len(t, clip.Adapters, 2)
	assert.Equal(t, "clip-fallback", clip.Adapters[1].Config["id"])
}

func TestLoadBindings_JSON(t *testing.T) {
	path := writeBindings(t, `{
  "synthesize-voice": {
    "adapters": [{"factory": "stub", "config": {"id": "stub"}}]
  }
}`)

	bindings, err := config.LoadBindings(path)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "stub", bindings[models.StageSynthesizeVoice].Adapters[0].Factory)
}

func TestLoadBindings_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown stage", "make-coffee:\n  adapters:\n    - factory: stub\n"},
		{"no adapters", "detect-language:\n  timeout_seconds: 10\n"},
		{"missing factory", "detect-language:\n  adapters:\n    - config:\n        id: x\n"},
		{"malformed yaml", "detect-language: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadBindings(writeBindings(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadBindings_MissingFile(t *testing.T) {
	_, err := config.LoadBindings(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
