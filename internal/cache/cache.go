package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Namespaces partition cached entries by the operation that produced them.
const (
	NamespaceAnswer = "answer"
	NamespaceChat   = "chat"
)

// Cache provides answer caching.
type Cache interface {
	// Get retrieves a cached entry by key. Returns nil if not found.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores an entry with TTL.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// InvalidateNamespace removes every entry in a namespace.
	InvalidateNamespace(ctx context.Context, namespace string) error

	// Close closes the cache connection.
	Close() error
}

// Entry is a cached answer.
type Entry struct {
	Answer  string   `json:"answer"`
	Start   int      `json:"start"`
	End     int      `json:"end"`
	Score   float32  `json:"score"`
	Sources []Source `json:"sources,omitempty"`
}

// Source represents a document chunk that grounded a cached reply.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float32 `json:"score"`
	Preview    string  `json:"preview"` // Truncated text preview
}

// GenerateCacheKey derives a stable key "<namespace>:<sha256>". The query is
// normalized for case and surrounding whitespace; parts are hashed as given,
// since answers carry offsets into them.
func GenerateCacheKey(namespace, query string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}
