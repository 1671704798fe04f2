package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"document-qa/internal/config"
	"document-qa/internal/models"
)

const (
	DistanceCosine = "cosine"
	DistanceL2     = "l2"
)

type DocumentChunk struct {
	bun.BaseModel  `bun:"table:document_chunks,alias:dc"`
	ID             int64           `bun:"id,pk,autoincrement"`
	SessionID      string          `bun:"session_id,notnull"`
	SourceFilename string          `bun:"source_filename,notnull"`
	ChunkID        int             `bun:"chunk_id,notnull"`
	Content        string          `bun:"content,notnull"`
	Embedding      pgvector.Vector `bun:"embedding,type:vector,notnull"`
	Distance       float64         `bun:"distance,scanonly"`
}

// ConnectDB opens a pool for the DSN without dialing
func ConnectDB(dbConfig *config.DatabaseConfig) (sqldb *sql.DB, err error) {
	if dbConfig.DSN == "" {
		return nil, errors.New("database dsn is required")
	}
	// pgdriver panics on a DSN it cannot parse
	defer func() {
		if r := recover(); r != nil {
			sqldb, err = nil, fmt.Errorf("invalid database dsn: %v", r)
		}
	}()
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dbConfig.DSN))), nil
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// InitDB creates the vector extension, the chunk table and its indexes
func InitDB(ctx context.Context, db *bun.DB, dimension int, distance string) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*DocumentChunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE document_chunks ALTER COLUMN embedding TYPE vector(%d)", dimension)); err != nil {
		return fmt.Errorf("failed to set embedding dimension: %w", err)
	}
	if _, err := db.NewCreateIndex().
		Model((*DocumentChunk)(nil)).
		Index("document_chunks_session_idx").
		IfNotExists().
		Column("session_id").
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create session index: %w", err)
	}
	if _, err := db.NewCreateIndex().
		Model((*DocumentChunk)(nil)).
		Index("document_chunks_embedding_" + distance + "_idx").
		IfNotExists().
		ColumnExpr("embedding " + opClass(distance)).
		Using("hnsw").
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create embedding index: %w", err)
	}
	return nil
}

func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*DocumentChunk)(nil)).IfExists().Exec(ctx)
	return err
}

func opClass(distance string) string {
	if distance == DistanceL2 {
		return "vector_l2_ops"
	}
	return "vector_cosine_ops"
}

func operator(distance string) string {
	if distance == DistanceL2 {
		return "<->"
	}
	return "<=>"
}

// similarity turns a pgvector distance into a score where higher is closer
func similarity(distance string, d float64) float32 {
	if distance == DistanceL2 {
		return float32(1 / (1 + d))
	}
	return float32(1 - d)
}

// Indexer replaces a session's rows in one transaction per upload
type Indexer struct {
	db        *bun.DB
	embedder  embeddings.Embedder
	distance  string
	dimension int
}

func NewIndexer(db *bun.DB, embedder embeddings.Embedder, distance string, dimension int) *Indexer {
	return &Indexer{db: db, embedder: embedder, distance: distance, dimension: dimension}
}

func (i *Indexer) BuildIndex(ctx context.Context, sessionID string, chunkEmbeddings []models.ChunkEmbedding) (vectorstores.VectorStore, error) {
	rows := make([]DocumentChunk, 0, len(chunkEmbeddings))
	for _, ce := range chunkEmbeddings {
		if i.dimension > 0 && len(ce.Embedding) != i.dimension {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, expected %d", models.ErrExternalService, ce.ChunkID, len(ce.Embedding), i.dimension)
		}
		rows = append(rows, DocumentChunk{
			SessionID:      sessionID,
			SourceFilename: ce.SourceFilename,
			ChunkID:        ce.ChunkID,
			Content:        ce.Content,
			Embedding:      pgvector.NewVector(ce.Embedding),
		})
	}

	err := i.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := deleteSessionQuery(tx, sessionID).Exec(ctx); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: storing %d chunks: %w", models.ErrExternalService, len(rows), err)
	}

	log.Info().Str("session", sessionID).Int("documents", len(rows)).Msg("Stored chunks in pgvector")
	return NewVectorStore(i.db, i.embedder, sessionID, i.distance), nil
}

// VectorStore searches the rows of one session
type VectorStore struct {
	db        *bun.DB
	embedder  embeddings.Embedder
	sessionID string
	distance  string
}

var _ vectorstores.VectorStore = (*VectorStore)(nil)

func NewVectorStore(db *bun.DB, embedder embeddings.Embedder, sessionID, distance string) *VectorStore {
	return &VectorStore{db: db, embedder: embedder, sessionID: sessionID, distance: distance}
}

func (s *VectorStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	opts := s.getOptions(options...)
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

	rows := make([]DocumentChunk, len(docs))
	for i, doc := range docs {
		source, _ := doc.Metadata[models.MetaSource].(string)
		chunkID, _ := doc.Metadata[models.MetaChunkID].(int)
		rows[i] = DocumentChunk{
			SessionID:      s.namespace(opts),
			SourceFilename: source,
			ChunkID:        chunkID,
			Content:        doc.PageContent,
			Embedding:      pgvector.NewVector(vectors[i]),
		}
	}
	if _, err := s.db.NewInsert().Model(&rows).Returning("id").Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrExternalService, err)
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = fmt.Sprint(row.ID)
	}
	return ids, nil
}

func (s *VectorStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	if numDocuments <= 0 {
		return nil, nil
	}
	opts := s.getOptions(options...)
	queryEmbedding, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", models.ErrExternalService, err)
	}

	var rows []DocumentChunk
	if err := searchQuery(s.db, &rows, s.namespace(opts), s.distance, queryEmbedding, numDocuments).Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: similarity search: %w", models.ErrExternalService, err)
	}

	docs := make([]schema.Document, 0, len(rows))
	for _, row := range rows {
		score := similarity(s.distance, row.Distance)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: row.Content,
			Metadata: map[string]any{
				models.MetaSource:  row.SourceFilename,
				models.MetaChunkID: row.ChunkID,
			},
			Score: score,
		})
	}
	return docs, nil
}

func (s *VectorStore) namespace(opts vectorstores.Options) string {
	if opts.NameSpace != "" {
		return opts.NameSpace
	}
	return s.sessionID
}

func (s *VectorStore) getOptions(options ...vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{Embedder: s.embedder}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}

func deleteSessionQuery(db bun.IDB, sessionID string) *bun.DeleteQuery {
	return db.NewDelete().Model((*DocumentChunk)(nil)).Where("session_id = ?", sessionID)
}

func searchQuery(db bun.IDB, rows *[]DocumentChunk, sessionID, distance string, queryEmbedding []float32, limit int) *bun.SelectQuery {
	return db.NewSelect().
		Model(rows).
		Column("id", "source_filename", "chunk_id", "content").
		ColumnExpr("embedding "+operator(distance)+" ? AS distance", pgvector.NewVector(queryEmbedding)).
		Where("session_id = ?", sessionID).
		OrderExpr("distance").
		Limit(limit)
}
