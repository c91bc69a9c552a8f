package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"loja/backend/internal/domain"
)

// CartStore persists cart entries per session. A missing session loads as an empty cart.
type CartStore interface {
	Load(ctx context.Context, sessionID string) ([]domain.CartEntry, error)
	Save(ctx context.Context, sessionID string, entries []domain.CartEntry) error
	Delete(ctx context.Context, sessionID string) error
	// DeleteAll drops the carts of every session.
	DeleteAll(ctx context.Context) error
}

type memoryCart struct {
	entries   []domain.CartEntry
	expiresAt time.Time
}

type MemoryCartStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	carts map[string]memoryCart
}

func NewMemoryCartStore(ttl time.Duration) *MemoryCartStore {
	return &MemoryCartStore{
		ttl:   ttl,
		now:   time.Now,
		carts: make(map[string]memoryCart),
	}
}

func (s *MemoryCartStore) Load(_ context.Context, sessionID string) ([]domain.CartEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.carts[sessionID]
	if !ok {
		return nil, nil
	}
	if s.ttl > 0 && s.now().After(stored.expiresAt) {
		delete(s.carts, sessionID)
		return nil, nil
	}
	return slices.Clone(stored.entries), nil
}

func (s *MemoryCartStore) Save(_ context.Context, sessionID string, entries []domain.CartEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(entries) == 0 {
		delete(s.carts, sessionID)
		return nil
	}
	s.carts[sessionID] = memoryCart{
		entries:   slices.Clone(entries),
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryCartStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, sessionID)
	return nil
}

func (s *MemoryCartStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.carts)
	return nil
}
