package queue

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockQueue records enqueued tasks via testify/mock. Worker hands the tasks
// returned by its expectation to the handler in order and stops at the first
// handler error.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, task Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockQueue) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	args := m.Called(ctx, taskType)
	tasks, _ := args.Get(0).([]Task)
	for _, task := range tasks {
		if err := handler(ctx, task); err != nil {
			return err
		}
	}
	return args.Error(1)
}
