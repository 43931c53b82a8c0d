package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"doc-qa/internal/app"
	"doc-qa/internal/cache"
	"doc-qa/internal/config"
	"doc-qa/internal/embeddings"
	"doc-qa/internal/llm"
	"doc-qa/internal/pdftext"
	"doc-qa/internal/qa"
	"doc-qa/internal/queue"
	"doc-qa/internal/store"
)

type mocks struct {
	store    *store.MockStore
	queue    *queue.MockQueue
	cache    *cache.MockCache
	model    *qa.MockModel
	embedder *embeddings.MockEmbedder
	llm      *llm.MockClient
}

func newMocks() *mocks {
	return &mocks{
		store:    new(store.MockStore),
		queue:    new(queue.MockQueue),
		cache:    new(cache.MockCache),
		model:    new(qa.MockModel),
		embedder: new(embeddings.MockEmbedder),
		llm:      new(llm.MockClient),
	}
}

func (m *mocks) assertExpectations(t *testing.T) {
	m.store.AssertExpectations(t)
	m.queue.AssertExpectations(t)
	m.cache.AssertExpectations(t)
	m.model.AssertExpectations(t)
	m.embedder.AssertExpectations(t)
	m.llm.AssertExpectations(t)
}

func newTestDeps(m *mocks) app.Deps {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := app.Deps{
		Store:    m.store,
		Queue:    m.queue,
		Cache:    m.cache,
		Embedder: m.embedder,
		LLM:      m.llm,
		Reader:   qa.NewReader(m.model, nil, log, qa.ReaderOptions{}),
		PDF:      pdftext.New(0),
		Config: config.Config{
			MaxUploadSize: 1024 * 1024, // 1MB for tests
			CacheTTL:      time.Minute,
			EmbeddingDim:  3,
			RetrievalTopK: 1,
		},
		Log: log,
	}
	deps.RAG = app.BuildRAG(deps)
	return deps
}

var hit = store.SearchResult{
	Chunk: store.Chunk{ID: uuid.New(), DocumentID: uuid.New(), Text: "Pericardial effusion is fluid around the heart."},
	Score: 0.9,
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAnswerHandler(t *testing.T) {
	scores := qa.Scores{
		Tokens:      []string{"the", "cat", "sat"},
		StartLogits: []float32{0.25, 1.5, 0.5},
		EndLogits:   []float32{0, 0.25, 0.125},
	}

	tests := []struct {
		name       string
		body       string
		setup      func(*mocks)
		wantStatus int
		wantBody   string
	}{
		{
			name: "answer from model",
			body: `{"question":"who sat?","context":"the cat sat"}`,
			setup: func(m *mocks) {
				m.cache.On("Get", mock.Anything, mock.Anything).Return(nil, nil).Once()
				m.model.On("Score", mock.Anything, "who sat?", "the cat sat").Return(scores, nil).Once()
				m.cache.On("Set", mock.Anything, mock.Anything, &cache.Entry{Answer: "cat", Start: 1, End: 1, Score: 1.75}, time.Minute).
					Return(nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"answer":"cat","start":1,"end":1,"score":1.75,"cached":false}`,
		},
		{
			name: "cache hit skips model",
			body: `{"question":"who sat?","context":"the cat sat"}`,
			setup: func(m *mocks) {
				m.cache.On("Get", mock.Anything, cache.GenerateCacheKey(cache.NamespaceAnswer, "who sat?", "the cat sat")).
					Return(&cache.Entry{Answer: "cat", Start: 1, End: 1, Score: 1.75}, nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"answer":"cat","start":1,"end":1,"score":1.75,"cached":true}`,
		},
		{
			name:       "missing context",
			body:       `{"question":"who sat?"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "model not loaded",
			body: `{"context":"the cat sat"}`,
			setup: func(m *mocks) {
				m.cache.On("Get", mock.Anything, mock.Anything).Return(nil, nil).Once()
				m.model.On("Score", mock.Anything, "", "the cat sat").
					Return(qa.Scores{}, fmt.Errorf("%w: status 503", qa.ErrModelLoad)).Once()
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name: "inference failure with cache error",
			body: `{"context":"the cat sat"}`,
			setup: func(m *mocks) {
				m.cache.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("redis down")).Once()
				m.model.On("Score", mock.Anything, "", "the cat sat").
					Return(qa.Scores{}, fmt.Errorf("%w: status 500", qa.ErrInference)).Once()
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMocks()
			if tt.setup != nil {
				tt.setup(m)
			}
			w := httptest.NewRecorder()
			answerHandler(newTestDeps(m))(w, postJSON("/api/answer", tt.body))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
			m.assertExpectations(t)
		})
	}
}

func TestChatHandler(t *testing.T) {
	vec := embeddings.Vector{1, 0, 0}

	tests := []struct {
		name       string
		body       string
		setup      func(*mocks)
		wantStatus int
		check      func(*testing.T, map[string]any)
	}{
		{
			name: "grounded reply",
			body: `{"message":"what is an effusion?"}`,
			setup: func(m *mocks) {
				m.cache.On("Get", mock.Anything, mock.Anything).Return(nil, nil).Once()
				m.embedder.On("Embed", mock.Anything, "what is an effusion?").Return(vec, nil).Once()
				m.store.On("TopK", mock.Anything, []uuid.UUID(nil), vec, 1).Return([]store.SearchResult{hit}, nil).Once()
				m.llm.On("Answer", mock.Anything, "what is an effusion?", hit.Chunk.Text).Return("Fluid around the heart.", nil).Once()
				m.cache.On("Set", mock.Anything, mock.Anything, mock.Anything, time.Minute).Return(nil).Once()
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Fluid around the heart.", body["reply"])
				sources := body["sources"].([]any)
				require.Len(t, sources, 1)
				assert.Equal(t, hit.Chunk.ID.String(), sources[0].(map[string]any)["chunk_id"])
			},
		},
		{
			name: "no similar chunk",
			body: `{"message":"what is an effusion?"}`,
			setup: func(m *mocks) {
				m.cache.On("Get", mock.Anything, mock.Anything).Return(nil, nil).Once()
				m.embedder.On("Embed", mock.Anything, mock.Anything).Return(vec, nil).Once()
				m.store.On("TopK", mock.Anything, mock.Anything, vec, 1).Return([]store.SearchResult{}, nil).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "invalid vector length",
			body: `{"message":"what is an effusion?"}`,
			setup: func(m *mocks) {
				m.cache.On("Get", mock.Anything, mock.Anything).Return(nil, nil).Once()
				m.embedder.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{1}, nil).Once()
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty message",
			body:       `{"message":""}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMocks()
			if tt.setup != nil {
				tt.setup(m)
			}
			w := httptest.NewRecorder()
			chatHandler(newTestDeps(m))(w, postJSON("/chat", tt.body))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.check != nil {
				var body map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				tt.check(t, body)
			}
			m.assertExpectations(t)
		})
	}
}

func TestCompletionHandler(t *testing.T) {
	vec := embeddings.Vector{0, 1, 0}

	t.Run("streams tokens", func(t *testing.T) {
		m := newMocks()
		m.embedder.On("Embed", mock.Anything, "effusion").Return(vec, nil).Once()
		m.store.On("TopK", mock.Anything, []uuid.UUID(nil), vec, 1).Return([]store.SearchResult{hit}, nil).Once()
		m.llm.On("StreamAnswer", mock.Anything, "effusion", hit.Chunk.Text).Return([]string{"Fluid", " around"}, nil).Once()

		w := httptest.NewRecorder()
		completionHandler(newTestDeps(m))(w, httptest.NewRequest(http.MethodGet, "/completion?query=effusion", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
		assert.Equal(t, "data: \"Fluid\"\n\ndata: \" around\"\n\n", w.Body.String())
		m.assertExpectations(t)
	})

	t.Run("model failure before first token", func(t *testing.T) {
		m := newMocks()
		m.embedder.On("Embed", mock.Anything, "effusion").Return(vec, nil).Once()
		m.store.On("TopK", mock.Anything, mock.Anything, vec, 1).Return([]store.SearchResult{hit}, nil).Once()
		m.llm.On("StreamAnswer", mock.Anything, "effusion", mock.Anything).Return(nil, errors.New("upstream 500")).Once()

		w := httptest.NewRecorder()
		completionHandler(newTestDeps(m))(w, httptest.NewRequest(http.MethodGet, "/completion?query=effusion", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("typed model failure keeps its status", func(t *testing.T) {
		m := newMocks()
		m.embedder.On("Embed", mock.Anything, "effusion").Return(vec, nil).Once()
		m.store.On("TopK", mock.Anything, mock.Anything, vec, 1).Return([]store.SearchResult{hit}, nil).Once()
		m.llm.On("StreamAnswer", mock.Anything, "effusion", mock.Anything).
			Return(nil, fmt.Errorf("%w: status 401: bad key", qa.ErrModelLoad)).Once()

		w := httptest.NewRecorder()
		completionHandler(newTestDeps(m))(w, httptest.NewRequest(http.MethodGet, "/completion?query=effusion", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
		m.assertExpectations(t)
	})

	t.Run("status codes", func(t *testing.T) {
		tests := []struct {
			name       string
			url        string
			setup      func(*mocks)
			wantStatus int
		}{
			{"missing query", "/completion", nil, http.StatusBadRequest},
			{"invalid vector length", "/completion?query=q", func(m *mocks) {
				m.embedder.On("Embed", mock.Anything, "q").Return(embeddings.Vector{1, 2}, nil).Once()
			}, http.StatusBadRequest},
			{"no similar chunk", "/completion?query=q", func(m *mocks) {
				m.embedder.On("Embed", mock.Anything, "q").Return(vec, nil).Once()
				m.store.On("TopK", mock.Anything, mock.Anything, vec, 1).Return([]store.SearchResult{}, nil).Once()
			}, http.StatusNotFound},
			{"embedding failure", "/completion?query=q", func(m *mocks) {
				m.embedder.On("Embed", mock.Anything, "q").Return(nil, errors.New("down")).Once()
			}, http.StatusInternalServerError},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				m := newMocks()
				if tt.setup != nil {
					tt.setup(m)
				}
				w := httptest.NewRecorder()
				completionHandler(newTestDeps(m))(w, httptest.NewRequest(http.MethodGet, tt.url, nil))
				assert.Equal(t, tt.wantStatus, w.Code)
				m.assertExpectations(t)
			})
		}
	})
}

func TestUploadHandler(t *testing.T) {
	validDocID := uuid.New()

	tests := []struct {
		name          string
		filename      string
		contentType   string
		content       []byte
		setup         func(*mocks)
		wantStatus    int
		checkResponse func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:        "successful upload",
			filename:    "test.txt",
			contentType: "text/plain",
			content:     []byte("Effusion is fluid."),
			setup: func(m *mocks) {
				m.store.On("CreateDocument", mock.Anything, "test.txt").
					Return(store.Document{ID: validDocID, Status: store.StatusProcessing}, nil).Once()
				m.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
					var p queue.IngestPayload
					if err := json.Unmarshal(task.Payload, &p); err != nil {
						return false
					}
					return task.Type == queue.TaskTypeIngest && p.DocumentID == validDocID && p.Text == "Effusion is fluid."
				})).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
			checkResponse: func(t *testing.T, w *httptest.ResponseRecorder) {
				var result map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
				assert.Equal(t, validDocID.String(), result["document_id"])
				assert.Equal(t, string(store.StatusProcessing), result["status"])
			},
		},
		{
			name:        "content type is detected from bytes",
			filename:    "notes",
			contentType: "",
			content:     []byte("plain text without an extension"),
			setup: func(m *mocks) {
				m.store.On("CreateDocument", mock.Anything, "notes").
					Return(store.Document{ID: validDocID, Status: store.StatusProcessing}, nil).Once()
				m.queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:        "file too large",
			filename:    "large.txt",
			contentType: "text/plain",
			content:     make([]byte, 2*1024*1024), // 2MB
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "unsupported binary",
			filename:    "image.png",
			contentType: "image/png",
			content:     []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"),
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "unreadable pdf",
			filename:    "broken.pdf",
			contentType: "application/pdf",
			content:     []byte("%PDF-1.4\nnot really a pdf"),
			wantStatus:  http.StatusUnprocessableEntity,
		},
		{
			name:        "CreateDocument failure",
			filename:    "test.txt",
			contentType: "text/plain",
			content:     []byte("content"),
			setup: func(m *mocks) {
				m.store.On("CreateDocument", mock.Anything, "test.txt").
					Return(store.Document{}, errors.New("db error")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:        "text over the broker limit",
			filename:    "big.txt",
			contentType: "text/plain",
			content:     []byte("content"),
			setup: func(m *mocks) {
				m.store.On("CreateDocument", mock.Anything, "big.txt").
					Return(store.Document{ID: validDocID, Status: store.StatusProcessing}, nil).Once()
				m.queue.On("Enqueue", mock.Anything, mock.Anything).
					Return(fmt.Errorf("%w: 1500000 bytes encoded (max 1048576)", queue.ErrPayloadTooLarge)).Once()
				m.store.On("UpdateDocumentStatus", mock.Anything, validDocID, store.StatusFailed).Return(nil).Once()
			},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:        "Enqueue failure marks doc failed",
			filename:    "test.txt",
			contentType: "text/plain",
			content:     []byte("content"),
			setup: func(m *mocks) {
				m.store.On("CreateDocument", mock.Anything, "test.txt").
					Return(store.Document{ID: validDocID, Status: store.StatusProcessing}, nil).Once()
				m.queue.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("queue error")).Times(3)
				m.store.On("UpdateDocumentStatus", mock.Anything, validDocID, store.StatusFailed).Return(nil).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMocks()
			if tt.setup != nil {
				tt.setup(m)
			}

			req, err := createMultipartRequest(tt.filename, tt.contentType, tt.content)
			require.NoError(t, err)

			w := httptest.NewRecorder()
			uploadHandler(newTestDeps(m))(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.checkResponse != nil {
				tt.checkResponse(t, w)
			}
			m.assertExpectations(t)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		m := newMocks()
		req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", nil)
		req.Header.Set("Content-Type", "multipart/form-data")
		w := httptest.NewRecorder()

		uploadHandler(newTestDeps(m))(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDocumentHandler(t *testing.T) {
	validDocID := uuid.New()

	tests := []struct {
		name       string
		docID      string
		setup      func(*store.MockStore)
		wantStatus int
	}{
		{
			name:  "ready document",
			docID: validDocID.String(),
			setup: func(s *store.MockStore) {
				s.On("GetDocument", mock.Anything, validDocID).
					Return(store.Document{ID: validDocID, Filename: "a.pdf", Status: store.StatusReady}, nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid UUID",
			docID:      "not-a-uuid",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:  "not found",
			docID: validDocID.String(),
			setup: func(s *store.MockStore) {
				s.On("GetDocument", mock.Anything, validDocID).Return(store.Document{}, store.ErrDocumentNotFound).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:  "store error",
			docID: validDocID.String(),
			setup: func(s *store.MockStore) {
				s.On("GetDocument", mock.Anything, validDocID).Return(store.Document{}, errors.New("db error")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMocks()
			if tt.setup != nil {
				tt.setup(m.store)
			}

			req := httptest.NewRequest(http.MethodGet, "/api/documents/"+tt.docID, nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", tt.docID)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			w := httptest.NewRecorder()
			documentHandler(newTestDeps(m))(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			m.store.AssertExpectations(t)
		})
	}
}

func TestRouterHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(newTestDeps(newMocks())).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "hello...", truncate("hello world again", 10))
	assert.Equal(t, "abcdefghij...", truncate(strings.Repeat("abcdefghij", 2), 10))
}

func createMultipartRequest(filename, contentType string, content []byte) (*http.Request, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(map[string][]string)
	h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename)}
	if contentType != "" {
		h["Content-Type"] = []string{contentType}
	}

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}
