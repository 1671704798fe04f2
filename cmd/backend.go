package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/uptrace/bun"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/db"
	"document-qa/internal/embedding"
	"document-qa/internal/llmservice"
	"document-qa/internal/ratelimit"
	"document-qa/internal/service"
	"document-qa/internal/session"
)

// backend holds the collaborators shared by every command
type backend struct {
	svc      *service.DocumentService
	embedder embeddings.Embedder
	db       *bun.DB
}

func newBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	llm, err := llmservice.NewChatModel(&cfg.ChatLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}

	b := &backend{embedder: embedder}
	var indexer service.Indexer
	switch cfg.VectorStore.Type {
	case "pgvector":
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		b.db = db.NewDB(sqldb, cfg.Database.Debug)
		if err := db.InitDB(ctx, b.db, cfg.VectorStore.Dimension, cfg.VectorStore.Distance); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		indexer = db.NewIndexer(b.db, embedder, cfg.VectorStore.Distance, cfg.VectorStore.Dimension)
	default:
		indexer = chromemdb.NewIndexer(embedder, cfg.RAG.EncryptionKey)
	}
	log.Info().Str("vector_store", cfg.VectorStore.Type).Str("chat_model", cfg.ChatLLM.Model).Msg("Backend ready")

	b.svc = service.NewDocumentService(session.NewStore(cfg.Session.TTL), embedder, indexer, llm, cfg.RAG)
	return b, nil
}

func (b *backend) Close() {
	if b.db == nil {
		return
	}
	if err := b.db.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing database")
	}
}

// newLimiter returns nil when rate limiting is disabled
func newLimiter(cfg *config.RateLimitConfig) (ratelimit.Limiter, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryLimiter(cfg.Limit, cfg.Window), nil
	}
	client, err := ratelimit.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return ratelimit.NewRedisLimiter(client, cfg.Limit, cfg.Window), nil
}
