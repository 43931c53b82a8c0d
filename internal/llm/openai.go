package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"doc-qa/internal/metrics"
	"doc-qa/internal/qa"
)

// Options configures an OpenAI-compatible chat endpoint. BaseURL may point at
// a self-hosted server (llama.cpp, vLLM) instead of api.openai.com.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Stop        []string
	Source      string
}

// OpenAIClient calls the Chat Completions API.
type OpenAIClient struct {
	model       openai.ChatModel
	client      *openai.Client
	maxTokens   int64
	temperature float64
	stop        []string
	source      string
}

const (
	defaultChatTimeout   = 30 * time.Second
	defaultStreamTimeout = 2 * time.Minute
	defaultMaxTokens     = 60
	defaultTemperature   = 0.3
)

// DefaultStop ends generation at the chat-template turn marker.
var DefaultStop = []string{"<|im_end|>"}

// NewOpenAIClient builds a client from opts.
func NewOpenAIClient(opts Options) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	model := openai.ChatModel(opts.Model)
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature < 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.Stop == nil {
		opts.Stop = DefaultStop
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return &OpenAIClient{
		model:       model,
		client:      &cli,
		maxTokens:   int64(opts.MaxTokens),
		temperature: opts.Temperature,
		stop:        opts.Stop,
		source:      opts.Source,
	}, nil
}

func (c *OpenAIClient) Answer(ctx context.Context, question, contextText string) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("nil openai client")
	}
	reqCtx, cancel := context.WithTimeout(ctx, defaultChatTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(reqCtx, c.params(SystemPrompt(c.source, contextText), question))
	if err != nil {
		metrics.ObserveModel("chat", string(c.model), "error", time.Since(start))
		return "", classify(err)
	}
	metrics.ObserveModel("chat", string(c.model), "ok", time.Since(start))
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) StreamAnswer(ctx context.Context, question, contextText string, onToken TokenFunc) (string, error) {
	return c.stream(ctx, c.params(SystemPrompt(c.source, contextText), question), onToken)
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, onToken TokenFunc) (string, error) {
	return c.stream(ctx, c.params("", prompt), onToken)
}

func (c *OpenAIClient) stream(ctx context.Context, params openai.ChatCompletionNewParams, onToken TokenFunc) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("nil openai client")
	}
	reqCtx, cancel := context.WithTimeout(ctx, defaultStreamTimeout)
	defer cancel()

	start := time.Now()
	stream := c.client.Chat.Completions.NewStreaming(reqCtx, params)
	defer stream.Close()

	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onToken != nil {
			if err := onToken(delta); err != nil {
				metrics.ObserveModel("chat_stream", string(c.model), "aborted", time.Since(start))
				return full.String(), err
			}
		}
	}
	if err := stream.Err(); err != nil {
		metrics.ObserveModel("chat_stream", string(c.model), "error", time.Since(start))
		return full.String(), classify(err)
	}
	metrics.ObserveModel("chat_stream", string(c.model), "ok", time.Since(start))
	return full.String(), nil
}

// classify types API failures the same way as the QA model host: statuses
// through qa.StatusError, transport failures as qa.ErrInference.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w (%w)", qa.StatusError(apiErr.StatusCode, apiErr.Message), err)
	}
	return fmt.Errorf("%w: %w", qa.ErrInference, err)
}

func (c *OpenAIClient) params(system, user string) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    buildMessages(system, user),
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temperature),
		Stop: openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: c.stop,
		},
	}
}

func buildMessages(system, user string) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(system),
				},
			},
		})
	}
	return append(msgs, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(user),
			},
		},
	})
}
