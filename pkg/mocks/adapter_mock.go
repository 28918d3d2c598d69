package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/storyreel/storyreel/pkg/capability"
)

// MockAdapter is a mock implementation of capability.Adapter interface.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) ID() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockAdapter) Invoke(ctx context.Context, req capability.Request) (*capability.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*capability.Response), args.Error(1)
}
