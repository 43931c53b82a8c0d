// Package ingest turns document text into stored, embedded chunks.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"doc-qa/internal/answer"
	"doc-qa/internal/cache"
	"doc-qa/internal/chunker"
	"doc-qa/internal/embeddings"
	"doc-qa/internal/metrics"
	"doc-qa/internal/store"
)

const defaultBatchSize = 64

type Options struct {
	MaxChars  int    // per chunk; see chunker.ChunkBySentence
	BatchSize int    // texts per embedding request
	Model     string // recorded with each embedding
}

type Pipeline struct {
	store    store.Store
	embedder embeddings.Embedder
	cache    cache.Cache
	log      *slog.Logger
	opts     Options
}

// New builds a Pipeline. A nil cache disables invalidation.
func New(st store.Store, emb embeddings.Embedder, c cache.Cache, log *slog.Logger, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Pipeline{store: st, embedder: emb, cache: c, log: log, opts: opts}
}

// Ingest registers a new document and processes it synchronously.
func (p *Pipeline) Ingest(ctx context.Context, filename, text string) (store.Document, int, error) {
	doc, err := p.store.CreateDocument(ctx, filename)
	if err != nil {
		return store.Document{}, 0, fmt.Errorf("create document: %w", err)
	}
	n, err := p.Process(ctx, doc.ID, text)
	if err != nil {
		doc.Status = store.StatusFailed
		return doc, 0, err
	}
	doc.Status = store.StatusReady
	return doc, n, nil
}

// Process chunks text, stores the chunks and their embeddings, and marks the
// document ready. Any failure marks the document failed. It returns the
// number of chunks stored.
func (p *Pipeline) Process(ctx context.Context, docID uuid.UUID, text string) (int, error) {
	log := p.log.With("document_id", docID)
	n, err := p.process(ctx, docID, text)
	if err != nil {
		log.Error("ingestion failed", "err", err)
		metrics.IncDocument(string(store.StatusFailed))
		if upErr := p.store.UpdateDocumentStatus(ctx, docID, store.StatusFailed); upErr != nil {
			log.Error("failed to mark document failed", "err", upErr)
		}
		return 0, err
	}
	if err := p.store.UpdateDocumentStatus(ctx, docID, store.StatusReady); err != nil {
		return n, fmt.Errorf("mark ready: %w", err)
	}
	// New chunks can change any retrieval-grounded reply.
	if err := p.cache.InvalidateNamespace(ctx, cache.NamespaceChat); err != nil {
		log.Warn("failed to invalidate chat cache", "err", err)
	}
	metrics.IncDocument(string(store.StatusReady))
	metrics.AddChunks(n)
	log.Info("document ingested", "chunks", n)
	return n, nil
}

func (p *Pipeline) process(ctx context.Context, docID uuid.UUID, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w: document has no text", answer.ErrInput)
	}
	pieces := chunker.ChunkBySentence(text, p.opts.MaxChars)
	chunks := make([]store.Chunk, len(pieces))
	for i, c := range pieces {
		chunks[i] = store.Chunk{Index: c.Index, Text: c.Text, TokenCount: c.TokenCount}
	}
	saved, err := p.store.SaveChunks(ctx, docID, chunks)
	if err != nil {
		return 0, fmt.Errorf("save chunks: %w", err)
	}

	for start := 0; start < len(saved); start += p.opts.BatchSize {
		batch := saved[start:min(start+p.opts.BatchSize, len(saved))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vecs) != len(batch) {
			return 0, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vecs), len(batch))
		}
		embs := make([]store.Embedding, len(batch))
		for i, c := range batch {
			embs[i] = store.Embedding{ChunkID: c.ID, Vector: vecs[i], Model: p.opts.Model}
		}
		if err := p.store.SaveEmbeddings(ctx, embs); err != nil {
			return 0, fmt.Errorf("save embeddings: %w", err)
		}
	}
	return len(saved), nil
}
