// Package fakes provides offline stand-ins for the embedding and chat services used in tests.
package fakes

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

const Dimension = 64

// Embed hashes lower-cased words into a bag-of-words vector. The last component is a
// constant bias so no text maps to the zero vector.
func Embed(text string) []float32 {
	v := make([]float32, Dimension+1)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%Dimension]++
	}
	v[Dimension] = 0.01
	return v
}

// Embedder counts calls and can be told to fail
type Embedder struct {
	mu    sync.Mutex
	Calls int
	Err   error
}

func (e *Embedder) Client() embeddings.EmbedderClient {
	return embeddings.EmbedderClientFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.Calls++
		if e.Err != nil {
			return nil, e.Err
		}
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = Embed(t)
		}
		return out, nil
	})
}

// NewEmbedder wraps e in the langchaingo embedder used in production
func NewEmbedder(e *Embedder) *embeddings.EmbedderImpl {
	impl, err := embeddings.NewEmbedder(e.Client())
	if err != nil {
		panic(err)
	}
	return impl
}

// ChatModel answers "answer N" for the Nth answer prompt and records every prompt it sees.
// Prompts asking to rephrase a follow-up question are answered with the question unchanged.
type ChatModel struct {
	mu      sync.Mutex
	Prompts []string
	answers int
	Err     error
}

var _ llms.Model = (*ChatModel)(nil)

func (m *ChatModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var sb strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				sb.WriteString(text.Text)
			}
		}
	}
	prompt := sb.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return nil, m.Err
	}

	var content string
	if q, ok := followUp(prompt); ok {
		content = q
	} else {
		m.answers++
		content = fmt.Sprintf("answer %d", m.answers)
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}, nil
}

func (m *ChatModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// LastPrompt returns the most recent prompt, or "" if none was sent
func (m *ChatModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Prompts) == 0 {
		return ""
	}
	return m.Prompts[len(m.Prompts)-1]
}

func followUp(prompt string) (string, bool) {
	const marker = "Follow Up Input:"
	i := strings.Index(prompt, marker)
	if i < 0 {
		return "", false
	}
	q := strings.TrimSpace(prompt[i+len(marker):])
	q, _, _ = strings.Cut(q, "\n")
	return strings.TrimSpace(q), true
}

var ErrUnavailable = errors.New("service unavailable")
