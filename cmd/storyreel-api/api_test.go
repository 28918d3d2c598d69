package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyreel/storyreel/pkg/artifacts"
	"github.com/storyreel/storyreel/pkg/cache"
	"github.com/storyreel/storyreel/pkg/channels/gochannel"
	"github.com/storyreel/storyreel/pkg/cmd"
	"github.com/storyreel/storyreel/pkg/eventbus"
	"github.com/storyreel/storyreel/pkg/executor"
	"github.com/storyreel/storyreel/pkg/log"
	"github.com/storyreel/storyreel/pkg/persistence/file"
	"github.com/storyreel/storyreel/pkg/pipeline"
	"github.com/storyreel/storyreel/pkg/queue"
	"github.com/storyreel/storyreel/pkg/web"

	"github.com/ThreeDotsLabs/watermill"
)

func setupTestAPI(t *testing.T) *API {
	t.Helper()

	logger := log.WithModule("test")

	reg, err := cmd.NewRegistry(logger, "")
	require.NoError(t, err)

	persistence := file.NewPersistence(t.TempDir())
	workQueue := queue.NewWorkQueue(queue.Config{Capacity: 2, MaxPending: 16}, logger)

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	store, err := artifacts.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	exec := executor.NewExecutor(reg, cache.NewMemoryCache(), bus, logger, "api-test")
	coordinator := pipeline.NewCoordinator(persistence, workQueue, exec, bus, store, logger)

	return NewAPI(logger, persistence, reg, coordinator)
}

func TestAPI_RootBanner(t *testing.T) {
	app := setupTestAPI(t).App()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_SubmitAndFetch(t *testing.T) {
	app := setupTestAPI(t).App()

	body, err := json.Marshal(web.SubmitRunRequest{
		Text:     "A lighthouse keeper finds a message in a bottle and sails out.",
		OwnerID:  "owner-1",
		Priority: "high",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var submitted web.SubmitRunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	require.NotEmpty(t, submitted.ID)

	statusResp, err := app.Test(httptest.NewRequest(http.MethodGet, "/runs/"+submitted.ID, nil))
	require.NoError(t, err)

	defer statusResp.Body.Close()

	assert.Equal(t, http.StatusOK, statusResp.StatusCode)
}

func TestAPI_HealthEndpoints(t *testing.T) {
	app := setupTestAPI(t).App()

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)

		assert.Equalf(t, http.StatusOK, resp.StatusCode, "path %s", path)

		_ = resp.Body.Close()
	}
}
