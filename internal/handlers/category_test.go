package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/video-portal/internal/cache"
	"github.com/example/video-portal/internal/config"
	"github.com/example/video-portal/internal/douban"
	"github.com/example/video-portal/internal/store"
)

type stubUpstream struct {
	mu    sync.Mutex
	calls []douban.CategoryQuery
	resp  *douban.ListResponse
	err   error
}

func (s *stubUpstream) Categories(ctx context.Context, q douban.CategoryQuery) (*douban.ListResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, q)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubUpstream) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func pageOf(n int) []douban.Item {
	items := make([]douban.Item, n)
	for i := range items {
		items[i] = douban.Item{ID: fmt.Sprintf("%d", i+1), Title: fmt.Sprintf("片名 %d", i+1), Rate: "8.1"}
	}
	return items
}

func newDeps(up *stubUpstream) CategoriesDeps {
	return CategoriesDeps{
		Upstream: up,
		Cache:    cache.NewTTLCache(time.Minute, nil, ""),
		Log:      zap.NewNop(),
	}
}

func doList(t *testing.T, deps CategoriesDeps, query string) (*httptest.ResponseRecorder, listEnvelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/douban/categories?"+query, nil)
	rec := httptest.NewRecorder()
	ListCategories(deps)(rec, req)
	var env listEnvelope
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, env
}

func TestListCategoriesSuccess(t *testing.T) {
	up := &stubUpstream{resp: &douban.ListResponse{Items: pageOf(config.PageLimit)}}
	deps := newDeps(up)

	rec, env := doList(t, deps, "kind=movie&category=热门&type=全部&start=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if env.Code != http.StatusOK || len(env.List) != config.PageLimit {
		t.Fatalf("envelope = code %d, %d items", env.Code, len(env.List))
	}

	q := up.calls[0]
	if q.Kind != "movie" || q.Category != "热门" || q.Type != "全部" || q.Start != 0 || q.Limit != config.PageLimit {
		t.Fatalf("unexpected upstream query: %+v", q)
	}
}

func TestListCategoriesServesFromCache(t *testing.T) {
	up := &stubUpstream{resp: &douban.ListResponse{Items: pageOf(3)}}
	deps := newDeps(up)

	doList(t, deps, "kind=tv&category=热门&start=0")
	doList(t, deps, "kind=tv&category=热门&start=0")

	if got := up.callCount(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestListCategoriesValidation(t *testing.T) {
	up := &stubUpstream{resp: &douban.ListResponse{Items: pageOf(1)}}
	deps := newDeps(up)

	cases := []string{
		"kind=book&start=0",
		"kind=movie&start=-25",
		"kind=movie&start=10",
		"kind=movie&start=abc",
	}
	for _, query := range cases {
		rec, _ := doList(t, deps, query)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want 400", query, rec.Code)
		}
	}
	if got := up.callCount(); got != 0 {
		t.Fatalf("upstream calls = %d, want 0", got)
	}
}

func TestListCategoriesSnapshotFallback(t *testing.T) {
	up := &stubUpstream{err: errors.New("douban down")}
	deps := newDeps(up)

	listings := store.NewMemoryListings()
	if err := listings.UpsertPage(context.Background(), store.ListingKey("movie", "热门", "全部"), 0, pageOf(5)); err != nil {
		t.Fatal(err)
	}
	deps.Store = listings

	rec, env := doList(t, deps, "kind=movie&category=热门&type=全部&start=0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(env.List) != 5 {
		t.Fatalf("stale items = %d, want 5", len(env.List))
	}
}

func TestListCategoriesUpstreamFailureWithoutSnapshot(t *testing.T) {
	up := &stubUpstream{err: errors.New("douban down")}
	deps := newDeps(up)

	rec, _ := doList(t, deps, "kind=movie&start=0")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestListCategoriesReadAheadOnFullPage(t *testing.T) {
	up := &stubUpstream{resp: &douban.ListResponse{Items: pageOf(config.PageLimit)}}
	deps := newDeps(up)

	var mu sync.Mutex
	var starts []int
	deps.Prefetch = func(kind, category, typ string, pageStart int) {
		mu.Lock()
		starts = append(starts, pageStart)
		mu.Unlock()
	}

	doList(t, deps, "kind=movie&category=热门&start=25")

	mu.Lock()
	defer mu.Unlock()
	if len(starts) != 1 || starts[0] != 50 {
		t.Fatalf("prefetch starts = %v, want [50]", starts)
	}
}

func TestListCategoriesNoReadAheadOnShortPage(t *testing.T) {
	up := &stubUpstream{resp: &douban.ListResponse{Items: pageOf(7)}}
	deps := newDeps(up)

	called := false
	deps.Prefetch = func(string, string, string, int) { called = true }

	doList(t, deps, "kind=movie&start=0")
	if called {
		t.Fatal("prefetch enqueued for a short page")
	}
}
