package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"doc-qa/internal/retry"
)

// ErrPayloadTooLarge means the encoded task exceeds what the broker accepts.
// Retrying cannot help.
var ErrPayloadTooLarge = errors.New("task payload too large")

// TaskType enumerates supported task categories.
type TaskType string

const (
	TaskTypeIngest TaskType = "ingest"
)

// Task represents a unit of background work.
type Task struct {
	ID          uuid.UUID
	Type        TaskType
	Payload     []byte
	Attempts    int
	MaxAttempts int
	NotBefore   time.Time
}

// IngestPayload carries an uploaded document's extracted text to the ingestor.
type IngestPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	Filename   string    `json:"filename"`
	Text       string    `json:"text"`
}

type Handler func(context.Context, Task) error

// Queue exposes a minimal contract to enqueue and consume tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := q.Enqueue(ctx, task); err == nil {
			return nil
		} else if attempt == attempts-1 || errors.Is(err, ErrPayloadTooLarge) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.ExponentialBackoff(attempt, base)):
		}
	}
	return nil
}
