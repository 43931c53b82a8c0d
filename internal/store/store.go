package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"doc-qa/internal/embeddings"
)

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

var ErrDocumentNotFound = errors.New("document not found")

type Document struct {
	ID        uuid.UUID
	Filename  string
	Status    DocumentStatus
	CreatedAt time.Time
}

type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Index      int
	Text       string
	TokenCount int
}

type Embedding struct {
	ChunkID uuid.UUID
	Vector  embeddings.Vector
	Model   string
}

// SearchResult is a chunk ranked by cosine similarity to a query vector.
type SearchResult struct {
	Chunk Chunk
	Score float32
}

// Store defines the persistence contract for documents, chunks and vectors.
type Store interface {
	CreateDocument(ctx context.Context, filename string) (Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (Document, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus) error
	// SaveChunks replaces every chunk of the document and returns the new
	// chunks with their ids.
	SaveChunks(ctx context.Context, docID uuid.UUID, chunks []Chunk) ([]Chunk, error)
	ListChunks(ctx context.Context, docID uuid.UUID) ([]Chunk, error)
	SaveEmbeddings(ctx context.Context, embs []Embedding) error
	// TopK returns the k chunks of ready documents closest to vector. An
	// empty docIDs searches every document.
	TopK(ctx context.Context, docIDs []uuid.UUID, vector embeddings.Vector, k int) ([]SearchResult, error)
}
