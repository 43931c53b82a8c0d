package qa

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockModel is a mock implementation of Model using testify/mock.
type MockModel struct {
	mock.Mock
}

func (m *MockModel) Score(ctx context.Context, question, contextText string) (Scores, error) {
	args := m.Called(ctx, question, contextText)
	return args.Get(0).(Scores), args.Error(1)
}

func (m *MockModel) Name() string {
	return "mock-qa"
}
