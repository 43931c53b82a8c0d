package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"doc-qa/internal/embeddings"
)

const DefaultDimension = 384

type PostgresStore struct {
	db  *sql.DB
	dim int
}

// NewPostgres opens the database and migrates the schema. Embedding columns
// are sized to dim.
func NewPostgres(dsn string, dim int) (*PostgresStore, error) {
	if dim <= 0 {
		dim = DefaultDimension
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db, dim: dim}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Several processes may start at once; only the lock holder migrates.
	const lockID = 384001

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		time.Sleep(2 * time.Second)
		return nil
	}
	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			filename TEXT,
			status TEXT,
			created_at TIMESTAMPTZ DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id UUID PRIMARY KEY,
			document_id UUID REFERENCES documents(id) ON DELETE CASCADE,
			ord INT,
			text TEXT,
			token_count INT
		);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			chunk_id UUID PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
			vector vector(%d),
			model TEXT
		);`, s.dim),
		`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks(document_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS embeddings_vector_idx
		ON embeddings USING ivfflat (vector vector_cosine_ops)
		WITH (lists = 100)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, filename string) (Document, error) {
	doc := Document{ID: uuid.New(), Filename: filename, Status: StatusProcessing, CreatedAt: time.Now()}
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents(id, filename, status, created_at) VALUES($1,$2,$3,$4)`,
		doc.ID, doc.Filename, doc.Status, doc.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	doc := Document{ID: id}
	var status string
	row := s.db.QueryRowContext(ctx, `SELECT filename, status, created_at FROM documents WHERE id=$1`, id)
	if err := row.Scan(&doc.Filename, &status, &doc.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	doc.Status = DocumentStatus(status)
	return doc, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// SaveChunks replaces the document's chunks. Earlier chunks and their
// embeddings are removed in the same transaction, so a redelivered ingest
// leaves exactly one set.
func (s *PostgresStore) SaveChunks(ctx context.Context, docID uuid.UUID, chunks []Chunk) ([]Chunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	out, err := replaceChunks(ctx, tx, docID, chunks)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func replaceChunks(ctx context.Context, tx execer, docID uuid.UUID, chunks []Chunk) ([]Chunk, error) {
	// Embeddings cascade.
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, docID); err != nil {
		return nil, fmt.Errorf("delete previous chunks: %w", err)
	}
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		cid := uuid.New()
		_, err := tx.ExecContext(ctx, `INSERT INTO chunks(id, document_id, ord, text, token_count) VALUES($1,$2,$3,$4,$5)`,
			cid, docID, c.Index, c.Text, c.TokenCount)
		if err != nil {
			return nil, err
		}
		c.ID = cid
		c.DocumentID = docID
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, docID uuid.UUID) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, ord, text, token_count FROM chunks WHERE document_id=$1 ORDER BY ord`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Index, &c.Text, &c.TokenCount); err != nil {
			return nil, err
		}
		c.DocumentID = docID
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveEmbeddings upserts all vectors in one transaction. Vectors whose length
// differs from the column dimension are rejected before anything is written.
func (s *PostgresStore) SaveEmbeddings(ctx context.Context, embs []Embedding) error {
	for _, e := range embs {
		if len(e.Vector) != s.dim {
			return fmt.Errorf("embedding for chunk %s has %d dimensions, want %d", e.ChunkID, len(e.Vector), s.dim)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range embs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings(chunk_id, vector, model)
			VALUES($1,$2::vector,$3)
			ON CONFLICT (chunk_id) DO UPDATE SET vector=excluded.vector, model=excluded.model`,
			e.ChunkID, vectorToString(e.Vector), e.Model)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) TopK(ctx context.Context, docIDs []uuid.UUID, vector embeddings.Vector, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.id,
			c.document_id,
			c.ord,
			c.text,
			c.token_count,
			1 - (e.vector <=> $1::vector) AS similarity
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = 'ready'
			AND (cardinality($2::uuid[]) = 0 OR c.document_id = ANY($2::uuid[]))
		ORDER BY e.vector <=> $1::vector
		LIMIT $3
	`, vectorToString(vector), pq.Array(uuidStrings(docIDs)), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Index, &r.Chunk.Text, &r.Chunk.TokenCount, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// vectorToString renders v in pgvector text format: "[0.1,0.2,0.3]".
func vectorToString(v embeddings.Vector) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
