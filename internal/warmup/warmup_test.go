package warmup

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/video-portal/internal/cache"
	"github.com/example/video-portal/internal/config"
	"github.com/example/video-portal/internal/douban"
	"github.com/example/video-portal/internal/store"
)

type scriptedUpstream struct {
	mu    sync.Mutex
	calls []douban.CategoryQuery
	pages map[string]int // kind → items per page, default full
	err   error
}

func (s *scriptedUpstream) Categories(ctx context.Context, q douban.CategoryQuery) (*douban.ListResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, q)
	if s.err != nil {
		return nil, s.err
	}
	n := q.Limit
	if v, ok := s.pages[q.Kind]; ok {
		n = v
	}
	items := make([]douban.Item, n)
	for i := range items {
		items[i] = douban.Item{ID: fmt.Sprintf("%s-%d-%d", q.Kind, q.Start, i), Title: "条目"}
	}
	return &douban.ListResponse{Items: items}, nil
}

func (s *scriptedUpstream) queries() []douban.CategoryQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]douban.CategoryQuery(nil), s.calls...)
}

func TestRunWarmsRequestedPages(t *testing.T) {
	up := &scriptedUpstream{}
	pages := cache.NewTTLCache(time.Minute, nil, "")
	listings := store.NewMemoryListings()

	Run(context.Background(), Deps{
		Upstream: up,
		Cache:    pages,
		Store:    listings,
		Log:      zap.NewNop(),
	}, 2)

	calls := up.queries()
	// 3 default selections x 2 pages each
	if len(calls) != 6 {
		t.Fatalf("upstream calls = %d, want 6", len(calls))
	}
	starts := map[string][]int{}
	for _, q := range calls {
		starts[q.Kind+":"+q.Type] = append(starts[q.Kind+":"+q.Type], q.Start)
	}
	for sel, got := range starts {
		if len(got) != 2 || got[0] != 0 || got[1] != config.PageLimit {
			t.Errorf("selection %s fetched starts %v, want [0 %d]", sel, got, config.PageLimit)
		}
	}

	key := cache.Key("movie", "热门", "全部", 0, config.PageLimit)
	if _, ok := pages.Get(context.Background(), key); !ok {
		t.Fatal("movie page 0 not cached")
	}
	if _, err := listings.GetPage(context.Background(), store.ListingKey("movie", "热门", "全部"), config.PageLimit); err != nil {
		t.Fatalf("movie page 1 not snapshotted: %v", err)
	}
}

func TestRunStopsOnShortPage(t *testing.T) {
	up := &scriptedUpstream{pages: map[string]int{"movie": 3, "tv": 3}}
	pages := cache.NewTTLCache(time.Minute, nil, "")

	Run(context.Background(), Deps{Upstream: up, Cache: pages, Log: zap.NewNop()}, 5)

	for _, q := range up.queries() {
		if q.Start != 0 {
			t.Fatalf("fetched past an exhausted listing: start=%d", q.Start)
		}
	}
}

func TestRunFailureSkipsSelection(t *testing.T) {
	up := &scriptedUpstream{err: context.DeadlineExceeded}
	pages := cache.NewTTLCache(time.Minute, nil, "")

	done := make(chan struct{})
	go func() {
		Run(context.Background(), Deps{Upstream: up, Cache: pages, Log: zap.NewNop()}, 3)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("warmup did not give up on failing upstream")
	}
	// one attempt per selection, no retries
	if got := len(up.queries()); got != 3 {
		t.Fatalf("upstream calls = %d, want 3", got)
	}
}

func TestRunZeroPagesIsNoop(t *testing.T) {
	up := &scriptedUpstream{}
	Run(context.Background(), Deps{Upstream: up, Cache: cache.NewTTLCache(time.Minute, nil, ""), Log: zap.NewNop()}, 0)
	if got := len(up.queries()); got != 0 {
		t.Fatalf("upstream calls = %d, want 0", got)
	}
}
