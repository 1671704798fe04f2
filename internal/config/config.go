package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvFile = ".env"

	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	defaultTopK         = 4
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	ChatLLM     LLMConfig         `yaml:"chat_llm"`
	RAG         RAGConfig         `yaml:"rag"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Session     SessionConfig     `yaml:"session"`
	Log         LogConfig         `yaml:"log"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type ServerConfig struct {
	Port               string        `yaml:"port"`
	BodyLimitMB        int           `yaml:"body_limit_mb"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	CorsAllowedOrigins string        `yaml:"cors_allowed_origins"`
}

// LLMConfig describes one model endpoint. Provider is "openai" or "ollama".
type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type RAGConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	TopK          int    `yaml:"top_k"`
	TextColumn    string `yaml:"text_column"`
	EncryptionKey string `yaml:"encryption_key"`
}

type VectorStoreConfig struct {
	// Type is "chromem" (in memory) or "pgvector".
	Type string `yaml:"type"`
	// Distance is "cosine" or "l2". chromem only supports cosine.
	Distance  string `yaml:"distance"`
	Dimension int    `yaml:"dimension"`
}

type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Limit    int           `yaml:"limit"`
	Window   time.Duration `yaml:"window"`
	RedisURL string        `yaml:"redis_url"`
}

type SessionConfig struct {
	// TTL evicts sessions idle for longer than this. Zero keeps them for the process lifetime.
	TTL time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               "5000",
			BodyLimitMB:        10,
			ReadTimeout:        2 * time.Minute,
			WriteTimeout:       2 * time.Minute,
			CorsAllowedOrigins: "*",
		},
		EmbedLLM: LLMConfig{
			Provider: "openai",
			Model:    "text-embedding-ada-002",
		},
		ChatLLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-3.5-turbo",
		},
		RAG: RAGConfig{
			ChunkSize:    defaultChunkSize,
			ChunkOverlap: defaultChunkOverlap,
			TopK:         defaultTopK,
			TextColumn:   "text",
		},
		VectorStore: VectorStoreConfig{
			Type:      "chromem",
			Distance:  "cosine",
			Dimension: 1536,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   1,
			Window:  24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "document-qa",
		},
	}
}

// LoadConfig loads credentials from .env, then the YAML file at path over the defaults,
// then environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", EnvFile, err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.EmbedLLM.Key == "" {
			c.EmbedLLM.Key = key
		}
		if c.ChatLLM.Key == "" {
			c.ChatLLM.Key = key
		}
	}
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		if c.EmbedLLM.BaseURL == "" && c.EmbedLLM.Provider == "openai" {
			c.EmbedLLM.BaseURL = base
		}
		if c.ChatLLM.BaseURL == "" && c.ChatLLM.Provider == "openai" {
			c.ChatLLM.BaseURL = base
		}
	}
	if port := os.Getenv("DOCQA_PORT"); port != "" {
		c.Server.Port = port
	}
	if url := os.Getenv("DOCQA_REDIS_URL"); url != "" {
		c.RateLimit.RedisURL = url
	}
	if dsn := os.Getenv("DOCQA_DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.TextColumn == "" {
		return errors.New("rag.text_column is required")
	}
	for name, llm := range map[string]LLMConfig{"embed_llm": c.EmbedLLM, "chat_llm": c.ChatLLM} {
		if llm.Provider != "openai" && llm.Provider != "ollama" {
			return fmt.Errorf("%s.provider must be openai or ollama, got %q", name, llm.Provider)
		}
	}
	switch c.VectorStore.Type {
	case "chromem":
		if c.VectorStore.Distance != "cosine" {
			return fmt.Errorf("vector_store.distance %q is not supported by chromem", c.VectorStore.Distance)
		}
	case "pgvector":
		if c.VectorStore.Distance != "cosine" && c.VectorStore.Distance != "l2" {
			return fmt.Errorf("vector_store.distance must be cosine or l2, got %q", c.VectorStore.Distance)
		}
		if c.VectorStore.Dimension <= 0 {
			return errors.New("vector_store.dimension must be positive for pgvector")
		}
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for pgvector")
		}
	default:
		return fmt.Errorf("unknown vector_store.type %q", c.VectorStore.Type)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("rate_limit.limit and rate_limit.window must be positive")
	}
	return nil
}
