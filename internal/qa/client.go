package qa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"doc-qa/internal/answer"
)

const defaultTimeout = 60 * time.Second

// Scores is the raw output of one extractive QA forward pass.
type Scores struct {
	Tokens      []string  `json:"tokens"`
	StartLogits []float32 `json:"start_logits"`
	EndLogits   []float32 `json:"end_logits"`
}

// Model scores a question against a context.
type Model interface {
	Score(ctx context.Context, question, context string) (Scores, error)
	Name() string
}

// Options configures a hosted QA model. Token is the hub access token and is
// sent as a bearer credential.
type Options struct {
	Endpoint   string
	Model      string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls a hosted question-answering model over HTTP.
type Client struct {
	endpoint string
	model    string
	token    string
	http     *http.Client
}

type scoreRequest struct {
	Model    string `json:"model"`
	Question string `json:"question,omitempty"`
	Context  string `json:"context"`
}

// NewClient validates opts and returns a Client. Missing endpoint or model
// name is reported as ErrModelLoad.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, fmt.Errorf("%w: QA endpoint not configured", ErrModelLoad)
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("%w: model name not configured", ErrModelLoad)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint: opts.Endpoint,
		model:    opts.Model,
		token:    opts.Token,
		http:     hc,
	}, nil
}

// Name returns the configured model name.
func (c *Client) Name() string { return c.model }

// Score runs one forward pass and returns tokens with start/end logits.
func (c *Client) Score(ctx context.Context, question, contextText string) (Scores, error) {
	if strings.TrimSpace(contextText) == "" {
		return Scores{}, fmt.Errorf("%w: empty context", answer.ErrInput)
	}
	body, err := json.Marshal(scoreRequest{Model: c.model, Question: question, Context: contextText})
	if err != nil {
		return Scores{}, fmt.Errorf("%w: encode request: %v", ErrInference, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Scores{}, fmt.Errorf("%w: build request: %v", ErrModelLoad, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Scores{}, fmt.Errorf("%w: %w", ErrInference, err)
		}
		return Scores{}, fmt.Errorf("%w: send request: %v", ErrInference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Scores{}, StatusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out Scores
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Scores{}, fmt.Errorf("%w: decode response: %v", ErrInference, err)
	}
	if len(out.Tokens) == 0 || len(out.StartLogits) != len(out.Tokens) || len(out.EndLogits) != len(out.Tokens) {
		return Scores{}, fmt.Errorf("%w: malformed response (%d tokens, %d start, %d end)",
			ErrInference, len(out.Tokens), len(out.StartLogits), len(out.EndLogits))
	}
	return out, nil
}

// StatusError maps an HTTP status from the model host to a failure kind.
// 503 is how hosted inference reports a model that is still loading.
func StatusError(code int, msg string) error {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: model rejected input (%d): %s", answer.ErrInput, code, msg)
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: status %d: %s", ErrModelLoad, code, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrInference, code, msg)
	}
}
