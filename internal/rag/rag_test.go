package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
	"github.com/tmc/langchaingo/vectorstores"

	"document-qa/internal/chromemdb"
	"document-qa/internal/fakes"
	"document-qa/internal/models"
)

var corpus = []string{
	"apples oranges bananas grow in the orchard",
	"rocket engines burn fuel to reach orbit",
	"violins cellos and pianos play in the orchestra",
}

func newStore(t *testing.T, texts []string) vectorstores.VectorStore {
	t.Helper()
	ces := make([]models.ChunkEmbedding, len(texts))
	for i, text := range texts {
		ces[i] = models.ChunkEmbedding{Content: text, Embedding: fakes.Embed(text), SourceFilename: "doc.csv", ChunkID: i + 1}
	}
	store, err := chromemdb.NewIndexer(fakes.NewEmbedder(&fakes.Embedder{}), "").BuildIndex(context.Background(), "test", ces)
	require.NoError(t, err)
	return store
}

func TestAsk(t *testing.T) {
	llm := &fakes.ChatModel{}
	r := NewRetriever(llm, newStore(t, corpus), 1)
	ctx := context.Background()

	resp, err := r.Ask(ctx, "  how do rocket engines reach orbit ")
	require.NoError(t, err)
	assert.Equal(t, "how do rocket engines reach orbit", resp.Query)
	assert.Equal(t, "answer 1", resp.Content)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, models.Chunk{Content: corpus[1], ChunkID: 2}, resp.Sources[0])
	assert.Equal(t, []models.Turn{{Question: "how do rocket engines reach orbit", Answer: "answer 1"}}, resp.History)

	prompt := llm.LastPrompt()
	assert.Contains(t, prompt, corpus[1])
	assert.Contains(t, prompt, "Question: how do rocket engines reach orbit")
	assert.NotContains(t, prompt, corpus[0])
	require.Len(t, llm.Prompts, 1)
}

func TestAskKeepsHistory(t *testing.T) {
	llm := &fakes.ChatModel{}
	r := NewRetriever(llm, newStore(t, corpus), 2)
	ctx := context.Background()

	_, err := r.Ask(ctx, "what fruit grows in the orchard")
	require.NoError(t, err)
	resp, err := r.Ask(ctx, "who plays violins in the orchestra")
	require.NoError(t, err)

	assert.Equal(t, "answer 2", resp.Content)
	assert.Equal(t, []models.Turn{
		{Question: "what fruit grows in the orchard", Answer: "answer 1"},
		{Question: "who plays violins in the orchestra", Answer: "answer 2"},
	}, resp.History)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, corpus[2], resp.Sources[0].Content)

	// second question is condensed against the first turn before retrieval
	require.Len(t, llm.Prompts, 3)
	assert.Contains(t, llm.Prompts[1], "Human: what fruit grows in the orchard")
	assert.Contains(t, llm.Prompts[1], "AI: answer 1")

	history, err := r.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, resp.History, history)
}

func TestAskEmptyQuestion(t *testing.T) {
	llm := &fakes.ChatModel{}
	r := NewRetriever(llm, newStore(t, corpus), 4)

	_, err := r.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Empty(t, llm.Prompts)

	history, err := r.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAskModelFailure(t *testing.T) {
	llm := &fakes.ChatModel{Err: fakes.ErrUnavailable}
	r := NewRetriever(llm, newStore(t, corpus), 4)
	ctx := context.Background()

	_, err := r.Ask(ctx, "what fruit grows in the orchard")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExternalService)
	assert.ErrorIs(t, err, fakes.ErrUnavailable)

	history, err := r.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)

	llm.Err = nil
	resp, err := r.Ask(ctx, "what fruit grows in the orchard")
	require.NoError(t, err)
	assert.Len(t, resp.History, 1)
}

func TestAskEmptyIndex(t *testing.T) {
	r := NewRetriever(fake.NewFakeLLM([]string{"I don't know"}), newStore(t, nil), 4)

	resp, err := r.Ask(context.Background(), "anything there?")
	require.NoError(t, err)
	assert.Equal(t, "I don't know", resp.Content)
	assert.Empty(t, resp.Sources)
	assert.Len(t, resp.History, 1)
}

func TestTurns(t *testing.T) {
	turns := Turns([]llms.ChatMessage{
		llms.HumanChatMessage{Content: "q1"},
		llms.AIChatMessage{Content: "a1"},
		llms.HumanChatMessage{Content: "q2"},
		llms.AIChatMessage{Content: "a2"},
		llms.SystemChatMessage{Content: "ignored"},
		llms.HumanChatMessage{Content: "q3"},
	})
	assert.Equal(t, []models.Turn{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
		{Question: "q3"},
	}, turns)
	assert.Empty(t, Turns(nil))
}
