package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"document-qa/internal/helper"
	"document-qa/internal/models"
)

const (
	collectionPrefix = "docqa-"
	compress         = true
)

var ErrNoEmbedder = errors.New("chromemdb: no embedder configured")

// VectorDBManager wraps one in-memory chromem collection and exposes it as a langchaingo vector store
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	embedder      embeddings.Embedder
	encryptionKey string
}

var _ vectorstores.VectorStore = (*VectorDBManager)(nil)

// CollectionName returns the collection used for a session's index
func CollectionName(sessionID string) string {
	return collectionPrefix + sessionID
}

// NewVectorDBManager creates an empty in-memory collection
func NewVectorDBManager(collectionName string, embedder embeddings.Embedder, encryptionKey string) (*VectorDBManager, error) {
	m := &VectorDBManager{
		db:            chromem.NewDB(),
		embedder:      embedder,
		encryptionKey: encryptionKey,
	}
	c, err := m.db.CreateCollection(collectionName, nil, m.embedFunc())
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	m.collection = c
	return m, nil
}

// LoadVectorDBManager restores a collection previously written with Export
func LoadVectorDBManager(filePath, collectionName string, embedder embeddings.Embedder, encryptionKey string) (*VectorDBManager, error) {
	m := &VectorDBManager{
		db:            chromem.NewDB(),
		embedder:      embedder,
		encryptionKey: encryptionKey,
	}
	if err := m.db.ImportFromFile(filePath, encryptionKey, collectionName); err != nil {
		return nil, fmt.Errorf("failed to import database: %w", err)
	}
	c := m.db.GetCollection(collectionName, m.embedFunc())
	if c == nil {
		return nil, fmt.Errorf("collection %q not found in %s", collectionName, filePath)
	}
	m.collection = c
	log.Info().Str("file", filePath).Int("documents", c.Count()).Msg("Imported vector index")
	return m, nil
}

func (m *VectorDBManager) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if m.embedder == nil {
			return nil, ErrNoEmbedder
		}
		return m.embedder.EmbedQuery(ctx, text)
	}
}

func (m *VectorDBManager) Name() string {
	return m.collection.Name
}

func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// CreateDocs adds chunks whose vectors were already computed
func (m *VectorDBManager) CreateDocs(ctx context.Context, chunkEmbeddings []models.ChunkEmbedding) error {
	if len(chunkEmbeddings) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunkEmbeddings))
	for _, ce := range chunkEmbeddings {
		docs = append(docs, chromem.Document{
			ID:        fmt.Sprintf("%s-%d", ce.SourceFilename, ce.ChunkID),
			Content:   ce.Content,
			Metadata:  CreateMetadata(ce.SourceFilename, ce.ChunkID),
			Embedding: ce.Embedding,
		})
	}
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// AddDocuments embeds and stores langchaingo documents
func (m *VectorDBManager) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	opts := m.getOptions(options...)
	if opts.Embedder == nil {
		return nil, ErrNoEmbedder
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.PageContent
	}
	vectors, err := opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrExternalService, err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d documents", models.ErrExternalService, len(vectors), len(docs))
	}

	ids := make([]string, len(docs))
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		id, err := helper.GenerateUUID()
		if err != nil {
			return nil, err
		}
		metadata := make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			metadata[k] = fmt.Sprint(v)
		}
		ids[i] = id
		chromemDocs[i] = chromem.Document{
			ID:        id,
			Content:   doc.PageContent,
			Metadata:  metadata,
			Embedding: vectors[i],
		}
	}
	if err := m.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("failed to add documents: %w", err)
	}
	return ids, nil
}

// SimilaritySearch returns up to numDocuments chunks ordered by decreasing cosine similarity.
// An empty collection yields no documents.
func (m *VectorDBManager) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	count := m.collection.Count()
	if count == 0 || numDocuments <= 0 {
		return nil, nil
	}
	opts := m.getOptions(options...)
	if opts.Embedder == nil {
		return nil, ErrNoEmbedder
	}

	queryEmbedding, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", models.ErrExternalService, err)
	}

	results, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: queryEmbedding,
		NResults:       min(numDocuments, count),
	})
	if err != nil {
		return nil, err
	}

	docs := make([]schema.Document, 0, len(results))
	for _, r := range results {
		if opts.ScoreThreshold > 0 && r.Similarity < opts.ScoreThreshold {
			continue
		}
		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		if id, err := strconv.Atoi(r.Metadata[models.MetaChunkID]); err == nil {
			metadata[models.MetaChunkID] = id
		}
		docs = append(docs, schema.Document{
			PageContent: r.Content,
			Metadata:    metadata,
			Score:       r.Similarity,
		})
	}
	log.Debug().Str("collection", m.collection.Name).Int("results", len(docs)).Msg("Similarity search")
	return docs, nil
}

func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, fmt.Errorf("either query or embedding must be provided")
	}

	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// Export writes the collection to filePath, gzip compressed and AES-GCM encrypted when a key is set
func (m *VectorDBManager) Export(filePath string) error {
	if filePath == "" {
		return fmt.Errorf("file path is required")
	}
	log.Debug().Str("collection", m.collection.Name).Str("file", filePath).Bool("encrypted", m.encryptionKey != "").Msg("Exporting vector index")
	if err := m.db.ExportToFile(filePath, compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

func (m *VectorDBManager) getOptions(options ...vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{Embedder: m.embedder}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

func CreateMetadata(filename string, chunkID int) map[string]string {
	return map[string]string{
		models.MetaSource:  filename,
		models.MetaChunkID: strconv.Itoa(chunkID),
	}
}

// Indexer builds a fresh in-memory index for every upload
type Indexer struct {
	embedder      embeddings.Embedder
	encryptionKey string
}

func NewIndexer(embedder embeddings.Embedder, encryptionKey string) *Indexer {
	return &Indexer{embedder: embedder, encryptionKey: encryptionKey}
}

func (i *Indexer) BuildIndex(ctx context.Context, sessionID string, chunkEmbeddings []models.ChunkEmbedding) (vectorstores.VectorStore, error) {
	return i.Build(ctx, sessionID, chunkEmbeddings)
}

// Build is BuildIndex returning the concrete manager, used when the index is exported
func (i *Indexer) Build(ctx context.Context, sessionID string, chunkEmbeddings []models.ChunkEmbedding) (*VectorDBManager, error) {
	m, err := NewVectorDBManager(CollectionName(sessionID), i.embedder, i.encryptionKey)
	if err != nil {
		return nil, err
	}
	if err := m.CreateDocs(ctx, chunkEmbeddings); err != nil {
		return nil, err
	}
	log.Info().Str("session", sessionID).Int("documents", m.Count()).Msg("Built vector index")
	return m, nil
}

// Load restores a session index exported by Build + Export
func (i *Indexer) Load(filePath, sessionID string) (*VectorDBManager, error) {
	return LoadVectorDBManager(filePath, CollectionName(sessionID), i.embedder, i.encryptionKey)
}
