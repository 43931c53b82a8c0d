package llm

import "context"

// TokenFunc receives generated text as it streams in. Returning an error
// stops the stream.
type TokenFunc func(token string) error

// Client is a minimal generation interface to allow pluggable providers.
type Client interface {
	// Answer returns a completion grounded in contextText.
	Answer(ctx context.Context, question, contextText string) (string, error)
	// StreamAnswer is Answer with incremental delivery; it returns the full text.
	StreamAnswer(ctx context.Context, question, contextText string, onToken TokenFunc) (string, error)
	// Generate continues an ungrounded prompt, streaming tokens as they arrive.
	Generate(ctx context.Context, prompt string, onToken TokenFunc) (string, error)
}
