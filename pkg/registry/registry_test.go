package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyreel/storyreel/pkg/capability"
	"github.com/storyreel/storyreel/pkg/log"
	"github.com/storyreel/storyreel/pkg/models"
)

type fakeAdapter struct{ id string }

func (a *fakeAdapter) ID() string { return a.id }

func (a *fakeAdapter) Invoke(_ context.Context, _ capability.Request) (*capability.Response, error) {
	return &capability.Response{Output: map[string]any{}}, nil
}

type fakeFactory struct{}

func (f *fakeFactory) ID() string { return "fake" }

func (f *fakeFactory) Create(config map[string]any) (capability.Adapter, error) {
	id, _ := config["id"].(string)

	return &fakeAdapter{id: id}, nil
}

func (f *fakeFactory) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"id": {"type": "string"}
		},
		"required": ["id"]
	}`
}

func TestRegistry_CreateAdapterValidatesConfig(t *testing.T) {
	reg := NewRegistry(log.WithModule("test"))
	reg.RegisterFactory(&fakeFactory{})

	adapter, err := reg.CreateAdapter("fake", map[string]any{"id": "primary"})
	require.NoError(t, err)
	assert.Equal(t, "primary", adapter.ID())

	_, err = reg.CreateAdapter("fake", map[string]any{})
	assert.Error(t, err)

	_, err = reg.CreateAdapter("unknown", map[string]any{"id": "x"})
	assert.Error(t, err)
}

func TestRegistry_BindStage(t *testing.T) {
	reg := NewRegistry(log.WithModule("test"))

	primary := &fakeAdapter{id: "primary"}
	fallback := &fakeAdapter{id: "fallback"}

	err := reg.BindStage(models.StageTranslate, StagePolicy{MaxAttempts: 5}, primary, fallback)
	require.NoError(t, err)

	chain, err := reg.ChainFor(models.StageTranslate)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "primary", chain[0].ID())
	assert.Equal(t, "fallback", chain[1].ID())

	policy := reg.PolicyFor(models.StageTranslate)
	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 60*time.Second, policy.Timeout)
	assert.Equal(t, time.Hour, policy.CacheTTL)
}

func TestRegistry_BindStageRejectsBadInput(t *testing.T) {
	reg := NewRegistry(log.WithModule("test"))

	err := reg.BindStage(models.Stage("bogus"), StagePolicy{}, &fakeAdapter{id: "a"})
	assert.Error(t, err)

	err = reg.BindStage(models.StageTranslate, StagePolicy{})
	assert.Error(t, err)
}

func TestRegistry_ChainForUnbound(t *testing.T) {
	reg := NewRegistry(log.WithModule("test"))

	_, err := reg.ChainFor(models.StageComposeVideo)
	assert.Error(t, err)

	// Policy lookups still answer with defaults.
	policy := reg.PolicyFor(models.StageComposeVideo)
	assert.Equal(t, 3, policy.MaxAttempts)
}

func TestRegistry_HealthCheck(t *testing.T) {
	reg := NewRegistry(log.WithModule("test"))

	message, ok := reg.HealthCheck()
	assert.False(t, ok)
	assert.Contains(t, message, "no adapter bound")

	for _, stage := range models.Stages {
		require.NoError(t, reg.BindStage(stage, StagePolicy{}, &fakeAdapter{id: "stub"}))
	}

	_, ok = reg.HealthCheck()
	assert.True(t, ok)
}
