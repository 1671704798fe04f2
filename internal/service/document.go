package service

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/vectorstores"

	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/session"
)

// Indexer turns embedded chunks into a searchable store, replacing the session's previous one
type Indexer interface {
	BuildIndex(ctx context.Context, sessionID string, chunkEmbeddings []models.ChunkEmbedding) (vectorstores.VectorStore, error)
}

type ProcessResult struct {
	Filename string
	Chunks   int
}

// DocumentService runs the upload and question pipelines against per-session state
type DocumentService struct {
	sessions *session.Store
	embedder embeddings.Embedder
	indexer  Indexer
	llm      llms.Model
	cfg      config.RAGConfig
	now      func() time.Time
}

func NewDocumentService(sessions *session.Store, embedder embeddings.Embedder, indexer Indexer, llm llms.Model, cfg config.RAGConfig) *DocumentService {
	return &DocumentService{
		sessions: sessions,
		embedder: embedder,
		indexer:  indexer,
		llm:      llm,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Process loads, chunks, embeds and indexes one document, then makes it the session's index
// with an empty history. Nothing changes for the session if any step fails.
func (s *DocumentService) Process(ctx context.Context, sessionID, filename string, r io.Reader) (ProcessResult, error) {
	text, err := parser.LoadText(filename, r, s.cfg.TextColumn)
	if err != nil {
		return ProcessResult{}, err
	}

	chunks, err := parser.ChunkText(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		return ProcessResult{}, err
	}

	chunkEmbeddings, err := embedding.GenerateEmbedding(ctx, s.embedder, filename, chunks)
	if err != nil {
		return ProcessResult{}, err
	}

	store, err := s.indexer.BuildIndex(ctx, sessionID, chunkEmbeddings)
	if err != nil {
		return ProcessResult{}, err
	}

	s.Install(sessionID, store, session.Info{Filename: filename, Chunks: len(chunks), IndexedAt: s.now()})
	log.Info().Str("session", sessionID).Str("file", filename).Int("chunks", len(chunks)).Msg("Processed document")
	return ProcessResult{Filename: filename, Chunks: len(chunks)}, nil
}

// Install makes store the session's index, e.g. one restored from a snapshot
func (s *DocumentService) Install(sessionID string, store vectorstores.VectorStore, info session.Info) {
	s.sessions.GetOrCreate(sessionID).SetRetriever(rag.NewRetriever(s.llm, store, s.cfg.TopK), info)
}

// Ask answers on the session's index. Unknown sessions are not created.
func (s *DocumentService) Ask(ctx context.Context, sessionID, question string) (models.PromptResponse, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return models.PromptResponse{}, models.ErrNotInitialized
	}
	return sess.Ask(ctx, question)
}

func (s *DocumentService) History(ctx context.Context, sessionID string) ([]models.Turn, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return []models.Turn{}, nil
	}
	return sess.History(ctx)
}

// Info describes the session's current document, if any
func (s *DocumentService) Info(sessionID string) (session.Info, bool) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return session.Info{}, false
	}
	return sess.Info()
}
