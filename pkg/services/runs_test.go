package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/storyreel/storyreel/pkg/events"
	"github.com/storyreel/storyreel/pkg/mocks"
	"github.com/storyreel/storyreel/pkg/models"
)

func validSubmit() SubmitRequest {
	return SubmitRequest{
		OwnerID: "owner-1",
		Input: models.StoryInput{
			Text:           "A lighthouse keeper finds a message in a bottle and sails out to answer it.",
			TargetLanguage: "en",
		},
	}
}

func TestRuns_SubmitValidation(t *testing.T) {
	service := NewRuns(nil, nil)

	tests := []struct {
		name    string
		mutate  func(*SubmitRequest)
		wantErr error
	}{
		{
			name:    "empty owner",
			mutate:  func(req *SubmitRequest) { req.OwnerID = "  " },
			wantErr: ErrEmptyOwnerID,
		},
		{
			name:    "empty text",
			mutate:  func(req *SubmitRequest) { req.Input.Text = "   " },
			wantErr: ErrTextRequired,
		},
		{
			name:    "too short",
			mutate:  func(req *SubmitRequest) { req.Input.Text = "too short" },
			wantErr: ErrTextTooShort,
		},
		{
			name:    "too long",
			mutate:  func(req *SubmitRequest) { req.Input.Text = strings.Repeat("a", models.MaxInputLength+1) },
			wantErr: ErrTextTooLong,
		},
		{
			name:    "control characters",
			mutate:  func(req *SubmitRequest) { req.Input.Text = "a story with a\x00hidden null byte inside" },
			wantErr: ErrTextNotPrintable,
		},
		{
			name:    "bad language tag",
			mutate:  func(req *SubmitRequest) { req.Input.TargetLanguage = "not a language" },
			wantErr: ErrInvalidLanguage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validSubmit()
			tt.mutate(&req)

			_, err := service.Submit(t.Context(), req)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsValidationError(err) || err == ErrEmptyOwnerID)
		})
	}
}

func TestRuns_SubmitValidationAllowsWhitespaceControl(t *testing.T) {
	service := NewRuns(nil, nil)

	req := validSubmit()
	req.Input.Text = "line one of the story\nline two of the story\ttabbed"

	require.NoError(t, service.validateSubmit(&req))
}

func TestRuns_SubmitRemotePublishesRunRequested(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.MatchedBy(func(event events.RunRequested) bool {
		return event.Type == events.RunRequestedEvent && event.OwnerID == "owner-1"
	})).Return(nil)

	service := NewRuns(nil, nil).WithIngressBus(bus)

	resp, err := service.Submit(t.Context(), validSubmit())
	require.NoError(t, err)

	require.NotNil(t, resp.Run)
	assert.NotEmpty(t, resp.Run.ID)
	assert.Equal(t, models.RunStatusPending, resp.Run.Status)
	assert.Zero(t, resp.QueuePosition)

	bus.AssertExpectations(t)
}

func TestRuns_StatusMessage(t *testing.T) {
	assert.Equal(t, "video ready", statusMessage(&models.GenerationRun{Status: models.RunStatusSucceeded}))
	assert.Equal(t, "cancelled by owner", statusMessage(&models.GenerationRun{Status: models.RunStatusCancelled}))
	assert.Empty(t, statusMessage(&models.GenerationRun{Status: models.RunStatusRunning}))

	failed := &models.GenerationRun{
		Status:       models.RunStatusFailed,
		CurrentPhase: models.PhaseClipGeneration,
		LastError:    &models.ErrorInfo{Kind: "permanent", Message: "provider rejected the request"},
	}
	assert.Equal(t, "failed during clip_generation: provider rejected the request", statusMessage(failed))
}

func TestRuns_HealthCheck(t *testing.T) {
	service := NewRuns(nil, nil)

	message, healthy := service.HealthCheck(t.Context())
	assert.False(t, healthy)
	assert.Equal(t, "Persistence layer not initialized", message)

	p := &mocks.MockPersistence{}
	p.On("HealthCheck", mock.Anything).Return(nil)

	service = NewRuns(nil, p)

	message, healthy = service.HealthCheck(t.Context())
	assert.True(t, healthy)
	assert.Equal(t, "Persistence layer is healthy", message)
}
