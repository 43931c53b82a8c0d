package llm

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of Client using testify/mock.
// Streaming calls replay the tokens returned by the expectation.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Answer(ctx context.Context, question, contextText string) (string, error) {
	args := m.Called(ctx, question, contextText)
	return args.String(0), args.Error(1)
}

func (m *MockClient) StreamAnswer(ctx context.Context, question, contextText string, onToken TokenFunc) (string, error) {
	args := m.Called(ctx, question, contextText)
	return replay(args.Get(0), onToken, args.Error(1))
}

func (m *MockClient) Generate(ctx context.Context, prompt string, onToken TokenFunc) (string, error) {
	args := m.Called(ctx, prompt)
	return replay(args.Get(0), onToken, args.Error(1))
}

func replay(v any, onToken TokenFunc, err error) (string, error) {
	tokens, _ := v.([]string)
	var full string
	for _, t := range tokens {
		if onToken != nil {
			if cbErr := onToken(t); cbErr != nil {
				return full, cbErr
			}
		}
		full += t
	}
	return full, err
}
