package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for every binary. Credentials are read
// here once and passed to constructors; nothing else reads the environment.
type Config struct {
	// Server
	Port       int    `env:"PORT" envDefault:"8080"`
	HealthPort int    `env:"HEALTH_PORT" envDefault:"8081"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload limits
	// Extracted text must also fit the NATS max_payload (1MB by default)
	// once encoded; larger uploads are refused with 413.
	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB in bytes
	MaxPDFPages   int   `env:"MAX_PDF_PAGES" envDefault:"500"`        // 0 disables the limit

	// Store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"postgres"`
	DBURL         string `env:"DB_URL"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"nats"`
	QueueURL      string `env:"QUEUE_URL"`

	// Cache
	CacheProvider string        `env:"CACHE_PROVIDER" envDefault:"none"` // "redis" or "none"
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"1h"`

	// Extractive QA model
	HFToken         string        `env:"HUGGINGFACE_HUB_TOKEN"`
	QAEndpoint      string        `env:"QA_ENDPOINT"`
	QAModel         string        `env:"QA_MODEL" envDefault:"NousResearch/Hermes-2-Theta-Llama-3-8B"`
	QATimeout       time.Duration `env:"QA_TIMEOUT" envDefault:"60s"`
	QAWindowWords   int           `env:"QA_WINDOW_WORDS" envDefault:"384"`
	QAWindowOverlap int           `env:"QA_WINDOW_OVERLAP" envDefault:"64"`
	QAConcurrency   int           `env:"QA_CONCURRENCY" envDefault:"2"`

	// LLM & Embeddings
	LLMProvider    string  `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIKey      string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string  `env:"OPENAI_BASE_URL"` // empty targets api.openai.com
	LLMModel       string  `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMMaxTokens   int     `env:"LLM_MAX_TOKENS" envDefault:"60"`
	LLMTemperature float64 `env:"LLM_TEMPERATURE" envDefault:"0.3"`
	SourceTitle    string  `env:"SOURCE_TITLE" envDefault:"the ingested documents"`
	EmbeddingModel string  `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDim   int     `env:"EMBEDDING_DIM" envDefault:"384"`

	// Retrieval
	ChunkMaxChars int `env:"CHUNK_MAX_CHARS" envDefault:"1000"`
	RetrievalTopK int `env:"RETRIEVAL_TOP_K" envDefault:"1"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
