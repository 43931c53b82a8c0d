package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"doc-qa/internal/answer"
	"doc-qa/internal/app"
	"doc-qa/internal/cache"
	"doc-qa/internal/httputil"
	"doc-qa/internal/metrics"
	"doc-qa/internal/pdftext"
	"doc-qa/internal/qa"
	"doc-qa/internal/queue"
	"doc-qa/internal/rag"
	"doc-qa/internal/store"
)

type answerRequest struct {
	Question string `json:"question" validate:"max=500"`
	Context  string `json:"context" validate:"required"`
}

type chatRequest struct {
	Message string `json:"message" validate:"required,max=1000"`
}

type source struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float32 `json:"score"`
	Preview    string  `json:"preview"` // Truncated text preview
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		deps.Log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		deps.Log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			deps.Log.Error("server shutdown failed", "err", err)
		}
	case err := <-serverErr:
		deps.Log.Error("server failed", "err", err)
	}
	if err := deps.Cache.Close(); err != nil {
		deps.Log.Warn("cache close failed", "err", err)
	}
}

func newRouter(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log, 2*time.Minute)

	r.Post("/api/answer", answerHandler(deps))
	r.Post("/chat", chatHandler(deps))
	r.Get("/completion", completionHandler(deps))
	r.Post("/api/documents/upload", uploadHandler(deps))
	r.Get("/api/documents/{id}", documentHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))
	r.Handle("/metrics", metrics.Handler())
	return r
}

// statusFor maps typed failures to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, answer.ErrInput), errors.Is(err, rag.ErrDimension):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrNoContext), errors.Is(err, store.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, qa.ErrModelLoad):
		return http.StatusServiceUnavailable
	case errors.Is(err, qa.ErrInference):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func answerHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answerRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		ctx := r.Context()

		key := cache.GenerateCacheKey(cache.NamespaceAnswer, req.Question, req.Context)
		if cached := lookup(ctx, deps, key); cached != nil {
			httputil.WriteJSON(w, http.StatusOK, map[string]any{
				"answer": cached.Answer,
				"start":  cached.Start,
				"end":    cached.End,
				"score":  cached.Score,
				"cached": true,
			})
			return
		}

		res, err := deps.Reader.AnswerDocument(ctx, req.Question, req.Context)
		if err != nil {
			httputil.Fail(deps.Log.With("kind", qa.Classify(err)), w, "answer failed", err, statusFor(err))
			return
		}

		entry := &cache.Entry{Answer: res.Text, Start: res.Span.Start, End: res.Span.End, Score: res.Score}
		if err := deps.Cache.Set(ctx, key, entry, deps.Config.CacheTTL); err != nil {
			deps.Log.Warn("failed to cache answer", "err", err)
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"answer": res.Text,
			"start":  res.Span.Start,
			"end":    res.Span.End,
			"score":  res.Score,
			"cached": false,
		})
	}
}

func chatHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		ctx := r.Context()

		key := cache.GenerateCacheKey(cache.NamespaceChat, req.Message)
		if cached := lookup(ctx, deps, key); cached != nil {
			httputil.WriteJSON(w, http.StatusOK, map[string]any{
				"reply":   cached.Answer,
				"sources": cached.Sources,
				"cached":  true,
			})
			return
		}

		reply, err := deps.RAG.Answer(ctx, req.Message, nil)
		if err != nil {
			httputil.Fail(deps.Log, w, "chat failed", err, statusFor(err))
			return
		}

		sources := buildSources(reply.Sources)
		entry := &cache.Entry{Answer: reply.Text, Sources: toCacheSources(sources)}
		if err := deps.Cache.Set(ctx, key, entry, deps.Config.CacheTTL); err != nil {
			deps.Log.Warn("failed to cache reply", "err", err)
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"reply":   reply.Text,
			"sources": sources,
			"cached":  false,
		})
	}
}

// completionHandler streams a grounded completion as server-sent events, one
// JSON string per token.
func completionHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := strings.TrimSpace(r.URL.Query().Get("query"))
		if query == "" {
			httputil.Fail(deps.Log, w, "query is required", nil, http.StatusBadRequest)
			return
		}
		ctx := r.Context()

		results, err := deps.RAG.Retrieve(ctx, query, nil)
		if err != nil {
			httputil.Fail(deps.Log, w, "retrieval failed", err, statusFor(err))
			return
		}

		// The stream opens on the first token so that a failing model still
		// gets a status code.
		var sse *httputil.SSE
		_, err = deps.LLM.StreamAnswer(ctx, query, rag.JoinChunks(results), func(tok string) error {
			if sse == nil {
				if sse, err = httputil.NewSSE(w); err != nil {
					return err
				}
			}
			return sse.Send(tok)
		})
		switch {
		case err != nil && sse == nil:
			httputil.Fail(deps.Log, w, "completion failed", err, statusFor(err))
		case err != nil:
			deps.Log.Error("completion stream failed", "err", err)
		case sse == nil:
			if _, err := httputil.NewSSE(w); err != nil {
				deps.Log.Error("failed to open empty stream", "err", err)
			}
		}
	}
}

func uploadHandler(deps app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		content, err := io.ReadAll(io.LimitReader(file, maxFileSize+1))
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to read file", err, http.StatusInternalServerError)
			return
		}

		// The declared Content-Type is ignored; the bytes decide.
		src, err := deps.PDF.FromBytes(content)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, pdftext.ErrExtract) || errors.Is(err, pdftext.ErrTooManyPages) {
				status = http.StatusUnprocessableEntity
			}
			httputil.Fail(deps.Log, w, "unsupported or unreadable file (only PDF and TXT allowed)", err, status)
			return
		}

		doc, err := deps.Store.CreateDocument(ctx, header.Filename)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to persist document", err, http.StatusInternalServerError)
			return
		}

		body, err := json.Marshal(queue.IngestPayload{
			DocumentID: doc.ID,
			Filename:   header.Filename,
			Text:       src.Text,
		})
		if err != nil {
			fail(ctx, deps, w, "marshal payload failed", err, doc.ID, http.StatusInternalServerError)
			return
		}
		task := queue.Task{Type: queue.TaskTypeIngest, Payload: body}
		if err := queue.EnqueueWithRetry(ctx, deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			if errors.Is(err, queue.ErrPayloadTooLarge) {
				fail(ctx, deps, w, "document text too large to queue", err, doc.ID, http.StatusRequestEntityTooLarge)
				return
			}
			fail(ctx, deps, w, "failed to enqueue document; please retry", err, doc.ID, http.StatusInternalServerError)
			return
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"document_id": doc.ID.String(),
			"status":      doc.Status,
			"pages":       src.Pages,
		})
	}
}

// fail marks the document failed before writing the error response.
func fail(ctx context.Context, deps app.Deps, w http.ResponseWriter, message string, err error, docID uuid.UUID, status int) {
	log := deps.Log.With("document_id", docID)
	if upErr := deps.Store.UpdateDocumentStatus(ctx, docID, store.StatusFailed); upErr != nil {
		log.Error("failed to mark document failed", "err", upErr)
	}
	httputil.Fail(log, w, message, err, status)
}

func documentHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
			return
		}
		doc, err := deps.Store.GetDocument(r.Context(), docID)
		if err != nil {
			httputil.Fail(deps.Log, w, "document lookup failed", err, statusFor(err))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"document_id": doc.ID.String(),
			"filename":    doc.Filename,
			"status":      doc.Status,
			"created_at":  doc.CreatedAt,
		})
	}
}

func lookup(ctx context.Context, deps app.Deps, key string) *cache.Entry {
	cached, err := deps.Cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.IncCache("error")
		deps.Log.Warn("cache lookup failed", "err", err)
		return nil
	case cached == nil:
		metrics.IncCache("miss")
		return nil
	default:
		metrics.IncCache("hit")
		return cached
	}
}

// buildSources converts search results into sources with truncated previews.
func buildSources(results []store.SearchResult) []source {
	sources := make([]source, len(results))
	for i, res := range results {
		sources[i] = source{
			ChunkID:    res.Chunk.ID.String(),
			DocumentID: res.Chunk.DocumentID.String(),
			Score:      res.Score,
			Preview:    truncate(res.Chunk.Text, 150),
		}
	}
	return sources
}

func toCacheSources(sources []source) []cache.Source {
	out := make([]cache.Source, len(sources))
	for i, s := range sources {
		out[i] = cache.Source(s)
	}
	return out
}

// truncate limits text to maxLen bytes, cutting at a word boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if idx := strings.LastIndex(s[:maxLen], " "); idx > 0 {
		return s[:idx] + "..."
	}
	return s[:maxLen] + "..."
}
