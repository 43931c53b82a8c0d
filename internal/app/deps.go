package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"doc-qa/internal/answer"
	"doc-qa/internal/cache"
	"doc-qa/internal/config"
	"doc-qa/internal/embeddings"
	"doc-qa/internal/ingest"
	"doc-qa/internal/llm"
	"doc-qa/internal/logger"
	"doc-qa/internal/metrics"
	"doc-qa/internal/pdftext"
	"doc-qa/internal/qa"
	"doc-qa/internal/queue"
	"doc-qa/internal/rag"
	"doc-qa/internal/store"
)

// Deps bundles common runtime dependencies for services.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Store    store.Store
	Queue    queue.Queue
	Cache    cache.Cache
	Embedder embeddings.Embedder
	LLM      llm.Client
	Reader   *qa.Reader
	RAG      *rag.Pipeline
	Ingest   *ingest.Pipeline
	PDF      *pdftext.Extractor
}

// LoadEnv loads .env if present. A missing file is not an error.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

// Base loads env and config and builds the logger.
func Base() (Deps, error) {
	if err := LoadEnv(); err != nil {
		return Deps{}, err
	}
	cfg := config.Load()
	metrics.Init()
	return Deps{
		Config: cfg,
		Log:    logger.New(cfg.LogLevel),
		PDF:    pdftext.New(cfg.MaxPDFPages),
	}, nil
}

// Build wires everything the HTTP server needs.
func Build() (Deps, error) {
	deps, err := Base()
	if err != nil {
		return Deps{}, err
	}
	cfg, log := deps.Config, deps.Log

	if deps.Store, err = BuildStore(cfg, log); err != nil {
		return Deps{}, fmt.Errorf("failed to initialize store: %w", err)
	}
	if deps.Queue, err = BuildQueue(cfg, log); err != nil {
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}
	deps.Cache = BuildCache(cfg, log)
	if deps.LLM, err = BuildLLM(cfg, log); err != nil {
		return Deps{}, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	if deps.Embedder, err = BuildEmbedder(cfg, log); err != nil {
		return Deps{}, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if deps.Reader, err = BuildReader(cfg, log); err != nil {
		return Deps{}, fmt.Errorf("failed to initialize QA model: %w", err)
	}
	deps.RAG = BuildRAG(deps)
	return deps, nil
}

// BuildIngestor wires the queue worker: store, queue, cache and embedder.
func BuildIngestor() (Deps, error) {
	deps, err := Base()
	if err != nil {
		return Deps{}, err
	}
	cfg, log := deps.Config, deps.Log

	if deps.Store, err = BuildStore(cfg, log); err != nil {
		return Deps{}, fmt.Errorf("failed to initialize store: %w", err)
	}
	if deps.Queue, err = BuildQueue(cfg, log); err != nil {
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}
	deps.Cache = BuildCache(cfg, log)
	if deps.Embedder, err = BuildEmbedder(cfg, log); err != nil {
		return Deps{}, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	deps.Ingest = BuildIngest(deps)
	return deps, nil
}

func BuildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL, cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store", "dimension", cfg.EmbeddingDim)
		return db, nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid option: postgres)", cfg.StoreProvider)
	}
}

func BuildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, error) {
	switch cfg.QueueProvider {
	case "nats":
		if cfg.QueueURL == "" {
			return nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL, nats.Name("docqa"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), nil
	default:
		return nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid option: nats)", cfg.QueueProvider)
	}
}

// BuildCache never fails: an unreachable Redis degrades to the no-op cache.
func BuildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	switch cfg.CacheProvider {
	case "redis":
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable; caching disabled", "addr", cfg.RedisAddr, "err", err)
			return cache.NewNoOpCache()
		}
		log.Info("using Redis cache", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
		return c
	default:
		return cache.NewNoOpCache()
	}
}

func BuildLLM(cfg config.Config, log *slog.Logger) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
		client, err := llm.NewOpenAIClient(llm.Options{
			APIKey:      cfg.OpenAIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.LLMModel,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
			Source:      cfg.SourceTitle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		log.Info("using OpenAI LLM client", "model", cfg.LLMModel, "base_url", cfg.OpenAIBaseURL)
		return client, nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid option: openai)", cfg.LLMProvider)
	}
}

func BuildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, cfg.OpenAIBaseURL, openai.EmbeddingModel(cfg.EmbeddingModel), cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel, "dimension", cfg.EmbeddingDim)
		return embedder, nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid option: openai)", cfg.LLMProvider)
	}
}

// BuildReader constructs the extractive QA reader. Configuration problems
// are reported as qa.ErrModelLoad.
func BuildReader(cfg config.Config, log *slog.Logger) (*qa.Reader, error) {
	client, err := qa.NewClient(qa.Options{
		Endpoint: cfg.QAEndpoint,
		Model:    cfg.QAModel,
		Token:    cfg.HFToken,
		Timeout:  cfg.QATimeout,
	})
	if err != nil {
		return nil, err
	}
	if cfg.HFToken == "" {
		log.Warn("HUGGINGFACE_HUB_TOKEN not set; calling QA endpoint anonymously")
	}
	log.Info("using hosted QA model", "model", cfg.QAModel, "endpoint", cfg.QAEndpoint)
	return qa.NewReader(client, answer.New(nil), log, qa.ReaderOptions{
		WindowWords: cfg.QAWindowWords,
		Overlap:     cfg.QAWindowOverlap,
		Concurrency: cfg.QAConcurrency,
	}), nil
}

// BuildRAG requires Embedder, Store and LLM to be set.
func BuildRAG(deps Deps) *rag.Pipeline {
	return rag.New(deps.Embedder, deps.Store, deps.LLM, deps.Log, rag.Options{
		Dimension: deps.Config.EmbeddingDim,
		TopK:      deps.Config.RetrievalTopK,
	})
}

// BuildIngest requires Store and Embedder to be set; Cache may be nil.
func BuildIngest(deps Deps) *ingest.Pipeline {
	return ingest.New(deps.Store, deps.Embedder, deps.Cache, deps.Log, ingest.Options{
		MaxChars: deps.Config.ChunkMaxChars,
		Model:    deps.Config.EmbeddingModel,
	})
}
