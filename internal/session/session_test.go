package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-qa/internal/models"
)

type recordingRetriever struct {
	name     string
	mu       sync.Mutex
	turns    []models.Turn
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (r *recordingRetriever) Ask(_ context.Context, question string) (models.PromptResponse, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		prev := r.maxSeen.Load()
		if n <= prev || r.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, models.Turn{Question: question, Answer: r.name})
	return models.PromptResponse{Query: question, Content: r.name, History: append([]models.Turn(nil), r.turns...)}, nil
}

func (r *recordingRetriever) History(context.Context) ([]models.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Turn{}, r.turns...), nil
}

func TestSessionBeforeUpload(t *testing.T) {
	s := NewStore(0).GetOrCreate(models.DefaultSessionID)

	_, err := s.Ask(context.Background(), "hello?")
	assert.ErrorIs(t, err, models.ErrNotInitialized)

	history, err := s.History(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)

	_, ok := s.Info()
	assert.False(t, ok)
}

func TestSessionSetRetrieverReplacesHistory(t *testing.T) {
	s := NewStore(0).GetOrCreate("s1")
	ctx := context.Background()

	s.SetRetriever(&recordingRetriever{name: "first"}, Info{Filename: "a.csv", Chunks: 2})
	_, err := s.Ask(ctx, "q1")
	require.NoError(t, err)
	resp, err := s.Ask(ctx, "q2")
	require.NoError(t, err)
	assert.Len(t, resp.History, 2)

	s.SetRetriever(&recordingRetriever{name: "second"}, Info{Filename: "b.csv", Chunks: 5})
	history, err := s.History(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)

	resp, err = s.Ask(ctx, "q3")
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)
	assert.Equal(t, []models.Turn{{Question: "q3", Answer: "second"}}, resp.History)

	info, ok := s.Info()
	assert.True(t, ok)
	assert.Equal(t, "b.csv", info.Filename)
	assert.Equal(t, 5, info.Chunks)
}

func TestSessionSerializesQuestions(t *testing.T) {
	s := NewStore(0).GetOrCreate("busy")
	r := &recordingRetriever{name: "r"}
	s.SetRetriever(r, Info{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Ask(context.Background(), fmt.Sprintf("q%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := s.History(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 20)
	assert.Equal(t, int32(1), r.maxSeen.Load())
}

func TestStoreGetOrCreate(t *testing.T) {
	store := NewStore(0)

	a := store.GetOrCreate("a")
	assert.Same(t, a, store.GetOrCreate("a"))
	assert.NotSame(t, a, store.GetOrCreate("b"))
	assert.Equal(t, 2, store.Count())

	got, ok := store.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	store.Delete("a")
	_, ok = store.Get("a")
	assert.False(t, ok)
}

func TestStoreConcurrentGetOrCreate(t *testing.T) {
	store := NewStore(0)
	sessions := make([]*Session, 50)

	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = store.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
}

func TestStoreExpiresIdleSessions(t *testing.T) {
	store := NewStore(50 * time.Millisecond)
	store.GetOrCreate("idle")

	assert.Eventually(t, func() bool {
		return store.Count() == 0
	}, time.Second, 10*time.Millisecond)

	_, ok := store.Get("idle")
	assert.False(t, ok)
}

func TestStoreGetKeepsSessionAlive(t *testing.T) {
	store := NewStore(200 * time.Millisecond)
	store.GetOrCreate("active")

	for i := 0; i < 6; i++ {
		time.Sleep(50 * time.Millisecond)
		_, ok := store.Get("active")
		require.True(t, ok)
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{id: "default"},
		{id: "user-42_tab.1"},
		{id: "", wantErr: true},
		{id: "has space", wantErr: true},
		{id: "../etc", wantErr: true},
		{id: string(make([]byte, 129)), wantErr: true},
	}
	for _, tt := range tests {
		err := ValidateID(tt.id)
		if tt.wantErr {
			assert.ErrorIs(t, err, models.ErrInvalidInput, tt.id)
		} else {
			assert.NoError(t, err, tt.id)
		}
	}
}
