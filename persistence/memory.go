package persistence

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/wfunc/jackofhearts/models"
)

// MemoryStore keeps games in process. Updates are serialized per store.
type MemoryStore struct {
	clock clockwork.Clock
	games map[string]*models.Game
	mu    sync.RWMutex
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock: clock,
		games: make(map[string]*models.Game),
	}
}

func (s *MemoryStore) CreateGame(ctx context.Context, g *models.Game) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.games[g.Code]; exists {
		return ErrCodeTaken
	}
	stored := g.Clone()
	now := s.clock.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.games[g.Code] = stored
	return nil
}

func (s *MemoryStore) LoadGame(ctx context.Context, code string) (*models.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[code]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return g.Clone(), nil
}

func (s *MemoryStore) UpdateGame(ctx context.Context, code string, fn func(g *models.Game) error) (*models.Game, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.games[code]
	if !ok {
		return nil, ErrRecordNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = s.clock.Now()
	s.games[code] = working
	return working.Clone(), nil
}

func (s *MemoryStore) DeleteGame(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[code]; !ok {
		return ErrRecordNotFound
	}
	delete(s.games, code)
	return nil
}

// Count returns the number of stored games.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}

func (s *MemoryStore) Close() error {
	return nil
}
