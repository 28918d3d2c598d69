package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyreel/storyreel/pkg/adapters/stub"
	"github.com/storyreel/storyreel/pkg/artifacts"
	"github.com/storyreel/storyreel/pkg/cache"
	"github.com/storyreel/storyreel/pkg/capability"
	"github.com/storyreel/storyreel/pkg/eventbus"
	"github.com/storyreel/storyreel/pkg/executor"
	"github.com/storyreel/storyreel/pkg/log"
	"github.com/storyreel/storyreel/pkg/models"
	"github.com/storyreel/storyreel/pkg/persistence"
	"github.com/storyreel/storyreel/pkg/persistence/file"
	"github.com/storyreel/storyreel/pkg/queue"
	"github.com/storyreel/storyreel/pkg/registry"
)

// countingAdapter wraps another adapter and records how many times each
// subtask was invoked.
type countingAdapter struct {
	inner capability.Adapter

	mu    sync.Mutex
	calls map[string]int
}

func newCountingAdapter(inner capability.Adapter) *countingAdapter {
	return &countingAdapter{inner: inner, calls: map[string]int{}}
}

func (a *countingAdapter) ID() string {
	return a.inner.ID()
}

func (a *countingAdapter) Invoke(ctx context.Context, req capability.Request) (*capability.Response, error) {
	a.mu.Lock()
	a.calls[req.SubTaskID]++
	a.mu.Unlock()

	return a.inner.Invoke(ctx, req)
}

func (a *countingAdapter) snapshot() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	calls := make(map[string]int, len(a.calls))
	for id, n := range a.calls {
		calls[id] = n
	}

	return calls
}

// failingAdapter fails one stage permanently and delegates everything else.
type failingAdapter struct {
	inner capability.Adapter
	stage models.Stage
}

func (a *failingAdapter) ID() string {
	return a.inner.ID()
}

func (a *failingAdapter) Invoke(ctx context.Context, req capability.Request) (*capability.Response, error) {
	if req.Stage == a.stage {
		return nil, capability.NewPermanent(a.ID(), errors.New("provider rejected the request"))
	}

	return a.inner.Invoke(ctx, req)
}

// noCharactersAdapter delegates to another adapter but reports a story
// without named characters, as a narration-only analysis would.
type noCharactersAdapter struct {
	inner capability.Adapter
}

func (a noCharactersAdapter) ID() string {
	return a.inner.ID()
}

func (a noCharactersAdapter) Invoke(ctx context.Context, req capability.Request) (*capability.Response, error) {
	resp, err := a.inner.Invoke(ctx, req)
	if err != nil || req.Stage != models.StageExtractEntities {
		return resp, err
	}

	resp.Output["characters"] = []any{}

	return resp, nil
}

type fixture struct {
	coordinator *Coordinator
	persistence persistence.Persistence
	queue       *queue.WorkQueue
}

func newFixture(t *testing.T, adapter capability.Adapter) *fixture {
	t.Helper()

	logger := log.WithModule("test")

	reg := registry.NewRegistry(logger)
	policy := registry.StagePolicy{
		Timeout:        5 * time.Second,
		MaxAttempts:    1,
		RetryBaseDelay: time.Millisecond,
		CacheTTL:       time.Minute,
	}
	for _, stage := range models.Stages {
		require.NoError(t, reg.BindStage(stage, policy, adapter))
	}

	repo := file.NewPersistence(t.TempDir())

	workQueue := queue.NewWorkQueue(queue.Config{Capacity: 4, MaxPending: 64}, logger)

	dispatchCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go workQueue.Dispatch(dispatchCtx)

	store, err := artifacts.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	exec := executor.NewExecutor(reg, cache.NewMemoryCache(), noopPublisher{}, logger, "worker-test")

	return &fixture{
		coordinator: NewCoordinator(repo, workQueue, exec, nil, store, logger),
		persistence: repo,
		queue:       workQueue,
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, eventbus.Event) error { return nil }

func testInput() models.StoryInput {
	return models.StoryInput{
		Text:           "A lighthouse keeper finds a message in a bottle and sails out to answer it.",
		TargetLanguage: "en",
		VoiceID:        "narrator-1",
		Style:          "storybook",
	}
}

func (f *fixture) waitForTerminal(t *testing.T, runID string) *models.GenerationRun {
	t.Helper()

	var run *models.GenerationRun

	require.Eventually(t, func() bool {
		loaded, err := f.persistence.Runs().GetByID(t.Context(), runID)
		if err != nil {
			return false
		}

		run = loaded

		return run.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)

	return run
}

func TestCoordinator_RunToCompletion(t *testing.T) {
	stubAdapter, err := stub.NewAdapter(map[string]any{"id": "stub"})
	require.NoError(t, err)

	f := newFixture(t, stubAdapter)

	run, admission, err := f.coordinator.Submit(t.Context(), "owner-1", testInput(), queue.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.GreaterOrEqual(t, admission.Position, 1)

	final := f.waitForTerminal(t, run.ID)

	require.Equal(t, models.RunStatusSucceeded, final.Status)
	require.Len(t, final.PhaseHistory, len(models.PhaseOrder))

	for i, record := range final.PhaseHistory {
		assert.Equal(t, models.PhaseOrder[i], record.Phase)
		assert.Equal(t, models.PhaseStatusOk, record.Status)
	}

	require.NotNil(t, final.Artifact)
	assert.Equal(t, run.ID+"/manifest.json", final.Artifact.Key)
	assert.Equal(t, "mp4", final.Artifact.Format)
	assert.Equal(t, 100, final.ProgressPercent())
}

func TestCoordinator_SubTasksExecuteExactlyOnce(t *testing.T) {
	stubAdapter, err := stub.NewAdapter(map[string]any{"id": "stub"})
	require.NoError(t, err)

	counting := newCountingAdapter(stubAdapter)
	f := newFixture(t, counting)

	run, _, err := f.coordinator.Submit(t.Context(), "owner-1", testInput(), queue.PriorityNormal)
	require.NoError(t, err)

	// Replayed advances on live state must not re-dispatch anything.
	for range 3 {
		require.NoError(t, f.coordinator.Advance(t.Context(), run.ID))
	}

	final := f.waitForTerminal(t, run.ID)
	require.Equal(t, models.RunStatusSucceeded, final.Status)

	for subTaskID, calls := range counting.snapshot() {
		assert.Equalf(t, 1, calls, "subtask %s executed %d times", subTaskID, calls)
	}
}

func TestCoordinator_EmptyFanOutPhaseCompletes(t *testing.T) {
	stubAdapter, err := stub.NewAdapter(map[string]any{"id": "stub"})
	require.NoError(t, err)

	f := newFixture(t, noCharactersAdapter{inner: stubAdapter})

	run, _, err := f.coordinator.Submit(t.Context(), "owner-1", testInput(), queue.PriorityNormal)
	require.NoError(t, err)

	final := f.waitForTerminal(t, run.ID)

	// No characters to generate means the phase settles with zero subtasks
	// instead of wedging the run.
	require.Equal(t, models.RunStatusSucceeded, final.Status)
	require.Len(t, final.PhaseHistory, len(models.PhaseOrder))

	var characterRecord *models.PhaseRecord

	for i := range final.PhaseHistory {
		if final.PhaseHistory[i].Phase == models.PhaseCharacterGeneration {
			characterRecord = &final.PhaseHistory[i]
		}
	}

	require.NotNil(t, characterRecord)
	assert.Equal(t, models.PhaseStatusOk, characterRecord.Status)
	assert.Equal(t, 0, characterRecord.SubTasks)
	assert.Empty(t, characterRecord.Output["characters"])
}

func TestCoordinator_PermanentFailureFailsRun(t *testing.T) {
	stubAdapter, err := stub.NewAdapter(map[string]any{"id": "stub"})
	require.NoError(t, err)

	f := newFixture(t, &failingAdapter{inner: stubAdapter, stage: models.StageGenerateClip})

	run, _, err := f.coordinator.Submit(t.Context(), "owner-1", testInput(), queue.PriorityNormal)
	require.NoError(t, err)

	final := f.waitForTerminal(t, run.ID)

	require.Equal(t, models.RunStatusFailed, final.Status)
	assert.Equal(t, models.PhaseClipGeneration, final.CurrentPhase)
	require.NotNil(t, final.LastError)
	assert.Equal(t, string(capability.KindPermanent), final.LastError.Kind)

	last := final.PhaseHistory[len(final.PhaseHistory)-1]
	assert.Equal(t, models.PhaseClipGeneration, last.Phase)
	assert.Equal(t, models.PhaseStatusFailed, last.Status)
}

func TestCoordinator_Cancel(t *testing.T) {
	stubAdapter, err := stub.NewAdapter(map[string]any{"id": "stub"})
	require.NoError(t, err)

	logger := log.WithModule("test")

	reg := registry.NewRegistry(logger)
	for _, stage := range models.Stages {
		require.NoError(t, reg.BindStage(stage, registry.StagePolicy{}, stubAdapter))
	}

	repo := file.NewPersistence(t.TempDir())

	// No Dispatch goroutine: the run stays pending so the cancel races nothing.
	workQueue := queue.NewWorkQueue(queue.Config{Capacity: 1, MaxPending: 8}, logger)
	exec := executor.NewExecutor(reg, cache.NewMemoryCache(), noopPublisher{}, logger, "worker-test")
	store, err := artifacts.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	coordinator := NewCoordinator(repo, workQueue, exec, nil, store, logger)

	run, _, err := coordinator.Submit(t.Context(), "owner-1", testInput(), queue.PriorityNormal)
	require.NoError(t, err)

	cancelled, err := coordinator.Cancel(t.Context(), run.ID, "owner requested")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, cancelled.Status)

	_, err = coordinator.Cancel(t.Context(), run.ID, "again")
	assert.ErrorIs(t, err, ErrRunTerminal)

	// A late Advance on a terminal run is a no-op.
	require.NoError(t, coordinator.Advance(t.Context(), run.ID))

	reloaded, err := repo.Runs().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, reloaded.Status)
}

func TestCoordinator_DynamicTranslationSubTask(t *testing.T) {
	stubAdapter, err := stub.NewAdapter(map[string]any{"id": "stub"})
	require.NoError(t, err)

	f := newFixture(t, stubAdapter)

	input := testInput()
	input.TargetLanguage = "fr"

	run, _, err := f.coordinator.Submit(t.Context(), "owner-1", input, queue.PriorityNormal)
	require.NoError(t, err)

	final := f.waitForTerminal(t, run.ID)
	require.Equal(t, models.RunStatusSucceeded, final.Status)

	// The stub always detects "en", so a French target forces a translation
	// subtask into the language phase.
	language := final.PhaseHistory[0]
	require.Equal(t, models.PhaseLanguageProcessing, language.Phase)
	assert.Equal(t, 2, language.SubTasks)
	assert.Equal(t, true, language.Output["translated"])
}

func TestCoordinator_RecoverRedrivesStaleDispatch(t *testing.T) {
	stubAdapter, err := stub.NewAdapter(map[string]any{"id": "stub"})
	require.NoError(t, err)

	f := newFixture(t, stubAdapter)

	// Persist a running run with a subtask dispatched far in the past, as if a
	// worker died mid-flight.
	dispatchedAt := time.Now().UTC().Add(-time.Hour)
	run := &models.GenerationRun{
		ID:           "run-stale",
		OwnerID:      "owner-1",
		Input:        testInput(),
		Priority:     queue.PriorityNormal,
		Status:       models.RunStatusRunning,
		CurrentPhase: models.PhaseLanguageProcessing,
		SubTasks: []*models.SubTask{
			{
				ID:           models.SubTaskID("run-stale", models.PhaseLanguageProcessing, 0),
				RunID:        "run-stale",
				Phase:        models.PhaseLanguageProcessing,
				Stage:        models.StageDetectLanguage,
				Input:        map[string]any{"text": testInput().Text},
				Status:       models.SubTaskStatusDispatched,
				DispatchedAt: &dispatchedAt,
			},
		},
		CreatedAt: dispatchedAt,
		UpdatedAt: dispatchedAt,
	}
	require.NoError(t, f.persistence.Runs().Save(t.Context(), run))

	recovered, err := f.coordinator.Recover(t.Context(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	final := f.waitForTerminal(t, run.ID)
	assert.Equal(t, models.RunStatusSucceeded, final.Status)
}
