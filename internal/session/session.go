package session

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"document-qa/internal/models"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Retriever is the per-index question answering handle a session holds
type Retriever interface {
	Ask(ctx context.Context, question string) (models.PromptResponse, error)
	History(ctx context.Context) ([]models.Turn, error)
}

// Info describes the document behind a session's current index
type Info struct {
	Filename  string    `json:"filename"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Session owns one index and its conversation history. All access goes through mu.
type Session struct {
	ID string

	mu        sync.Mutex
	retriever Retriever
	info      Info
}

// SetRetriever replaces the index and starts a new, empty history
func (s *Session) SetRetriever(r Retriever, info Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retriever = r
	s.info = info
}

// Ask answers on the current index. Questions on the same session run one at a time.
func (s *Session) Ask(ctx context.Context, question string) (models.PromptResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retriever == nil {
		return models.PromptResponse{}, models.ErrNotInitialized
	}
	return s.retriever.Ask(ctx, question)
}

// History returns the turns of the current index, or none before the first upload
func (s *Session) History(ctx context.Context) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retriever == nil {
		return []models.Turn{}, nil
	}
	return s.retriever.History(ctx)
}

func (s *Session) Info() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.retriever != nil
}

// Store keeps sessions in memory, evicting those idle for longer than the TTL
type Store struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewStore(ttl time.Duration) *Store {
	c := cache.New(cache.NoExpiration, 0)
	if ttl > 0 {
		c = cache.New(ttl, ttl/2)
	}
	c.OnEvicted(func(id string, _ any) {
		log.Info().Str("session", id).Msg("Session evicted")
	})
	return &Store{cache: c}
}

// ValidateID checks that a caller supplied session id is usable
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: session id must be 1-128 characters of letters, digits, '.', '_' or '-'", models.ErrInvalidInput)
	}
	return nil
}

// GetOrCreate returns the session for id, creating it on first use. Each call counts as activity.
func (s *Store) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sess *Session
	if x, found := s.cache.Get(id); found {
		sess = x.(*Session)
	} else {
		sess = &Session{ID: id}
		log.Debug().Str("session", id).Msg("Created session")
	}
	s.cache.Set(id, sess, cache.DefaultExpiration)
	return sess
}

// Get returns an existing session and counts as activity on it
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	x, found := s.cache.Get(id)
	if !found {
		return nil, false
	}
	s.cache.Set(id, x, cache.DefaultExpiration)
	return x.(*Session), true
}

func (s *Store) Delete(id string) {
	s.cache.Delete(id)
}

func (s *Store) Count() int {
	return s.cache.ItemCount()
}
