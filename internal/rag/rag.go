package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"document-qa/internal/models"
)

// Retriever answers questions over one similarity index and keeps the conversation so far.
// It is not safe for concurrent use; callers serialize Ask.
type Retriever struct {
	chain  chains.ConversationalRetrievalQA
	memory *memory.ConversationBuffer
}

func NewRetriever(llm llms.Model, store vectorstores.VectorStore, topK int) *Retriever {
	buffer := memory.NewConversationBuffer(
		memory.WithMemoryKey(models.HistoryMemoryKey),
		memory.WithReturnMessages(true),
		memory.WithInputKey(models.QuestionKey),
		memory.WithOutputKey(models.AnswerKey),
	)
	chain := chains.NewConversationalRetrievalQAFromLLM(llm, vectorstores.ToRetriever(store, topK), buffer)
	chain.ReturnSourceDocuments = true

	return &Retriever{chain: chain, memory: buffer}
}

// Ask retrieves the chunks closest to question, asks the model and records the turn.
// A failed question leaves the history unchanged.
func (r *Retriever) Ask(ctx context.Context, question string) (models.PromptResponse, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.PromptResponse{}, fmt.Errorf("%w: question is empty", models.ErrInvalidInput)
	}

	out, err := chains.Call(ctx, r.chain, map[string]any{models.QuestionKey: question})
	if err != nil {
		if errors.Is(err, models.ErrExternalService) {
			return models.PromptResponse{}, err
		}
		return models.PromptResponse{}, fmt.Errorf("%w: %w", models.ErrExternalService, err)
	}

	answer, ok := out[models.AnswerKey].(string)
	if !ok {
		return models.PromptResponse{}, fmt.Errorf("%w: chain returned no answer", models.ErrExternalService)
	}
	docs, _ := out[models.SourceDocsKey].([]schema.Document)

	history, err := r.History(ctx)
	if err != nil {
		return models.PromptResponse{}, err
	}

	log.Debug().Str("question", question).Int("sources", len(docs)).Int("turns", len(history)).Msg("Answered question")
	return models.PromptResponse{
		Query:   question,
		Content: strings.TrimSpace(answer),
		Sources: sourceChunks(docs),
		History: history,
	}, nil
}

// History returns the recorded turns, oldest first
func (r *Retriever) History(ctx context.Context) ([]models.Turn, error) {
	messages, err := r.memory.ChatHistory.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}
	return Turns(messages), nil
}

// Turns pairs each human message with the AI message that follows it
func Turns(messages []llms.ChatMessage) []models.Turn {
	turns := make([]models.Turn, 0, len(messages)/2)
	for _, msg := range messages {
		switch msg.GetType() {
		case llms.ChatMessageTypeHuman:
			turns = append(turns, models.Turn{Question: msg.GetContent()})
		case llms.ChatMessageTypeAI:
			if len(turns) == 0 || turns[len(turns)-1].Answer != "" {
				turns = append(turns, models.Turn{})
			}
			turns[len(turns)-1].Answer = msg.GetContent()
		}
	}
	return turns
}

func sourceChunks(docs []schema.Document) []models.Chunk {
	chunks := make([]models.Chunk, 0, len(docs))
	for _, doc := range docs {
		chunk := models.Chunk{Content: doc.PageContent}
		if id, ok := doc.Metadata[models.MetaChunkID].(int); ok {
			chunk.ChunkID = id
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
