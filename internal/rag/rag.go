// Package rag answers questions from the stored document chunks most similar
// to the question.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"doc-qa/internal/answer"
	"doc-qa/internal/embeddings"
	"doc-qa/internal/llm"
	"doc-qa/internal/store"
)

var (
	// ErrDimension means the embedder returned a vector of the wrong length.
	ErrDimension = errors.New("invalid vector length")
	// ErrNoContext means no stored chunk matched the question.
	ErrNoContext = errors.New("no similar chunk found")
)

type Options struct {
	Dimension int
	TopK      int
}

// Pipeline embeds a question, retrieves the closest chunks and asks the LLM
// to answer from them.
type Pipeline struct {
	embedder embeddings.Embedder
	store    store.Store
	llm      llm.Client
	log      *slog.Logger
	dim      int
	topK     int
}

// Reply is a grounded answer and the chunks it was grounded on.
type Reply struct {
	Text    string
	Sources []store.SearchResult
}

func New(embedder embeddings.Embedder, st store.Store, client llm.Client, log *slog.Logger, opts Options) *Pipeline {
	if opts.Dimension <= 0 {
		opts.Dimension = store.DefaultDimension
	}
	if opts.TopK <= 0 {
		opts.TopK = 1
	}
	return &Pipeline{
		embedder: embedder,
		store:    st,
		llm:      client,
		log:      log,
		dim:      opts.Dimension,
		topK:     opts.TopK,
	}
}

// Retrieve returns the chunks closest to question, searching docIDs or every
// document when docIDs is empty.
func (p *Pipeline) Retrieve(ctx context.Context, question string, docIDs []uuid.UUID) ([]store.SearchResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", answer.ErrInput)
	}
	vec, err := p.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vec) != p.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), p.dim)
	}
	results, err := p.store.TopK(ctx, docIDs, vec, p.topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoContext
	}
	p.log.Debug("retrieved context", "chunks", len(results), "best_score", results[0].Score)
	return results, nil
}

// Answer retrieves context and returns the complete reply.
func (p *Pipeline) Answer(ctx context.Context, question string, docIDs []uuid.UUID) (Reply, error) {
	results, err := p.Retrieve(ctx, question, docIDs)
	if err != nil {
		return Reply{}, err
	}
	text, err := p.llm.Answer(ctx, question, JoinChunks(results))
	if err != nil {
		return Reply{}, fmt.Errorf("completion: %w", err)
	}
	return Reply{Text: text, Sources: results}, nil
}

// Stream is Answer with tokens delivered to onToken as they are generated.
// Retrieval errors are returned before any token is produced.
func (p *Pipeline) Stream(ctx context.Context, question string, docIDs []uuid.UUID, onToken llm.TokenFunc) (Reply, error) {
	results, err := p.Retrieve(ctx, question, docIDs)
	if err != nil {
		return Reply{}, err
	}
	text, err := p.llm.StreamAnswer(ctx, question, JoinChunks(results), onToken)
	if err != nil {
		return Reply{Text: text, Sources: results}, fmt.Errorf("completion: %w", err)
	}
	return Reply{Text: text, Sources: results}, nil
}

// JoinChunks renders search results as the data section of a prompt.
func JoinChunks(results []store.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = strings.TrimSpace(r.Chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}
