package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"doc-qa/internal/answer"
	"doc-qa/internal/app"
	"doc-qa/internal/httputil"
	"doc-qa/internal/queue"
)

func main() {
	deps, err := app.BuildIngestor()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	deps.Log.Info("ingestor worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runWorker(ctx, deps)
	})

	g.Go(func() error {
		return httputil.ServeHealth(ctx, deps.Log, deps.Config.HealthPort, "ingestor")
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("ingestor service stopped", "err", err)
	}
	if err := deps.Cache.Close(); err != nil {
		deps.Log.Warn("cache close failed", "err", err)
	}
}

func runWorker(ctx context.Context, deps app.Deps) error {
	return deps.Queue.Worker(ctx, queue.TaskTypeIngest, func(ctx context.Context, task queue.Task) error {
		return handleTask(ctx, deps, task)
	})
}

// handleTask returns an error only when a retry could succeed. Malformed
// payloads and documents without text are logged and dropped.
func handleTask(ctx context.Context, deps app.Deps, task queue.Task) error {
	var payload queue.IngestPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		deps.Log.Error("dropping malformed ingest task", "id", task.ID, "err", err)
		return nil
	}
	if payload.DocumentID == uuid.Nil {
		deps.Log.Error("dropping ingest task without document id", "id", task.ID, "filename", payload.Filename)
		return nil
	}

	n, err := deps.Ingest.Process(ctx, payload.DocumentID, payload.Text)
	switch {
	case errors.Is(err, answer.ErrInput):
		deps.Log.Warn("document rejected", "document_id", payload.DocumentID, "filename", payload.Filename, "err", err)
		return nil
	case err != nil:
		return fmt.Errorf("ingest %s: %w", payload.DocumentID, err)
	}
	deps.Log.Debug("ingest task done", "id", task.ID, "document_id", payload.DocumentID, "chunks", n)
	return nil
}
