package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/video-portal/internal/douban"
)

type pageKey struct {
	key       string
	pageStart int
}

// MemoryListings is an in-memory Listings implementation for tests and
// deployments without Postgres.
type MemoryListings struct {
	mu    sync.RWMutex
	pages map[pageKey]*Page
}

func NewMemoryListings() *MemoryListings {
	return &MemoryListings{pages: make(map[pageKey]*Page)}
}

func (s *MemoryListings) UpsertPage(_ context.Context, key string, pageStart int, items []douban.Item) error {
	cp := make([]douban.Item, len(items))
	copy(cp, items)

	s.mu.Lock()
	s.pages[pageKey{key, pageStart}] = &Page{
		ListingKey: key,
		PageStart:  pageStart,
		Items:      cp,
		FetchedAt:  time.Now().UTC(),
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryListings) GetPage(_ context.Context, key string, pageStart int) (*Page, error) {
	s.mu.RLock()
	p, ok := s.pages[pageKey{key, pageStart}]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *MemoryListings) Purge(_ context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, p := range s.pages {
		if p.FetchedAt.Before(cutoff) {
			delete(s.pages, k)
			n++
		}
	}
	return n, nil
}
