package models

// Chunk represents a window of document text with its position
type Chunk struct {
	Content string `json:"content"`
	ChunkID int    `json:"chunk_id"`
}

// ChunkEmbedding is a chunk paired with the vector the embedding model produced for it
type ChunkEmbedding struct {
	Content        string
	Embedding      []float32
	SourceFilename string
	ChunkID        int
}

// Turn is one question and the answer generated for it
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type PromptResponse struct {
	Query   string
	Content string
	Sources []Chunk
	History []Turn
}
