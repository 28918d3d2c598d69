package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyreel/storyreel/pkg/channels/gochannel"
	"github.com/storyreel/storyreel/pkg/eventbus"
	"github.com/storyreel/storyreel/pkg/events"
	"github.com/storyreel/storyreel/pkg/models"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newTestBus(t)

	var (
		mu       sync.Mutex
		received []*events.RunRequested
	)

	err := bus.Handle(events.RunRequestedEvent, func(_ context.Context, event any) error {
		requested, ok := event.(*events.RunRequested)
		require.True(t, ok)

		mu.Lock()
		received = append(received, requested)
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	requested := events.RunRequested{
		BaseEvent: events.NewBaseEvent(events.RunRequestedEvent, "run-1"),
		OwnerID:   "owner-1",
		Input: models.StoryInput{
			Text:           "a story worth animating, told in ten words or more",
			TargetLanguage: "en",
		},
	}

	require.NoError(t, bus.Publish(t.Context(), "run-1", requested))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "run-1", received[0].RunID)
	assert.Equal(t, "owner-1", received[0].OwnerID)
	assert.Equal(t, events.RunRequestedEvent, received[0].Type)
	assert.Equal(t, "a story worth animating, told in ten words or more", received[0].Input.Text)
}

func TestWatermillEventBus_UnhandledTypesAreDropped(t *testing.T) {
	bus := newTestBus(t)

	handled := make(chan struct{}, 1)

	err := bus.Handle(events.RunCompletedEvent, func(context.Context, any) error {
		handled <- struct{}{}

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	// No handler registered for this type; it must be acked and ignored.
	queued := events.RunQueued{
		BaseEvent: events.NewBaseEvent(events.RunQueuedEvent, "run-1"),
		Position:  1,
	}
	require.NoError(t, bus.Publish(t.Context(), "run-1", queued))

	completed := events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, "run-1"),
	}
	require.NoError(t, bus.Publish(t.Context(), "run-1", completed))

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("run completed event was never handled")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
