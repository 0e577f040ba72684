package browse

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"
)

// recordingFetcher captures every issued fetch and serves full pages.
type recordingFetcher struct {
	mu    sync.Mutex
	calls []fetchCall
	serve func(sel FilterSelection, pageStart int) (Page, error)
}

type fetchCall struct {
	sel       FilterSelection
	pageStart int
}

func (f *recordingFetcher) FetchPage(_ context.Context, sel FilterSelection, pageStart, pageLimit int) (Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{sel: sel, pageStart: pageStart})
	f.mu.Unlock()
	if f.serve != nil {
		return f.serve(sel, pageStart)
	}
	return Page{Items: itemsN("x", pageLimit), StatusCode: http.StatusOK}, nil
}

func (f *recordingFetcher) snapshot() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fetchCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func waitFor(t *testing.T, l *Loader, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("condition not reached; last snapshot: %+v", l.Snapshot())
		case <-l.Changes():
		case <-time.After(10 * time.Millisecond):
		}
		if s := l.Snapshot(); cond(s) {
			return s
		}
	}
}

func TestLoader_MountLoadsPageZero(t *testing.T) {
	f := &recordingFetcher{}
	l := New(Config{
		Fetcher:  f,
		Initial:  FilterSelection{ContentType: ContentMovie, PrimaryCategory: "热门"},
		Debounce: 20 * time.Millisecond,
	})
	defer l.Close()

	s := waitFor(t, l, func(s Snapshot) bool { return s.State == Ready })
	if len(s.Items) != DefaultPageLimit || !s.HasMore {
		t.Fatalf("unexpected snapshot after mount: %d items hasMore=%v", len(s.Items), s.HasMore)
	}
	calls := f.snapshot()
	if len(calls) != 1 || calls[0].pageStart != 0 {
		t.Fatalf("expected exactly one page-0 fetch, got %+v", calls)
	}
}

func TestLoader_RapidSelectionChangesCoalesce(t *testing.T) {
	f := &recordingFetcher{}
	l := New(Config{
		Fetcher:  f,
		Initial:  FilterSelection{ContentType: ContentMovie},
		Debounce: 100 * time.Millisecond,
	})
	defer l.Close()

	// Three changes inside one debounce window (including the mount reset
	// still pending) must produce a single page-0 fetch carrying the last
	// selection's values.
	l.SetPrimaryCategory("热门")
	time.Sleep(10 * time.Millisecond)
	l.SetSecondaryCategory("华语")
	time.Sleep(10 * time.Millisecond)
	l.SetPrimaryCategory("豆瓣高分")

	waitFor(t, l, func(s Snapshot) bool { return s.State == Ready })

	calls := f.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected one coalesced fetch, got %d: %+v", len(calls), calls)
	}
	got := calls[0].sel
	if got.PrimaryCategory != "豆瓣高分" || got.SecondaryCategory != "华语" {
		t.Fatalf("fetch did not use last selection: %+v", got)
	}
}

func TestLoader_SentinelAppendsNextPage(t *testing.T) {
	f := &recordingFetcher{}
	l := New(Config{Fetcher: f, Initial: FilterSelection{ContentType: ContentTV}, Debounce: 10 * time.Millisecond})
	defer l.Close()

	waitFor(t, l, func(s Snapshot) bool { return s.State == Ready })
	l.SentinelVisible()
	s := waitFor(t, l, func(s Snapshot) bool { return len(s.Items) == 2*DefaultPageLimit })
	if s.State != Ready {
		t.Fatalf("expected Ready after append, got %s", s.State)
	}

	calls := f.snapshot()
	if len(calls) != 2 || calls[1].pageStart != DefaultPageLimit {
		t.Fatalf("expected page-1 fetch at offset 25, got %+v", calls)
	}
}

func TestLoader_SelectionChangeStartsNewEpoch(t *testing.T) {
	f := &recordingFetcher{
		serve: func(sel FilterSelection, pageStart int) (Page, error) {
			prefix := sel.PrimaryCategory
			return Page{Items: itemsN(prefix, DefaultPageLimit), StatusCode: http.StatusOK}, nil
		},
	}
	l := New(Config{Fetcher: f, Initial: FilterSelection{ContentType: ContentMovie, PrimaryCategory: "a"}, Debounce: 10 * time.Millisecond})
	defer l.Close()

	first := waitFor(t, l, func(s Snapshot) bool { return s.State == Ready })

	l.SetPrimaryCategory("b")
	s := waitFor(t, l, func(s Snapshot) bool {
		return s.State == Ready && s.Epoch > first.Epoch
	})
	if s.Items[0].ExternalID != "b-0" {
		t.Fatalf("expected items from new epoch, got %+v", s.Items[0])
	}
	if len(s.Items) != DefaultPageLimit {
		t.Fatalf("old accumulation leaked into new epoch: %d items", len(s.Items))
	}
}

func TestLoader_FailureLeavesNonLoadingState(t *testing.T) {
	f := &recordingFetcher{
		serve: func(FilterSelection, int) (Page, error) {
			return Page{StatusCode: http.StatusInternalServerError}, nil
		},
	}
	l := New(Config{Fetcher: f, Initial: FilterSelection{ContentType: ContentShow}, Debounce: 10 * time.Millisecond})
	defer l.Close()

	s := waitFor(t, l, func(s Snapshot) bool { return !s.FailedAt.IsZero() })
	if s.State != Idle {
		t.Fatalf("expected Idle after failed initial load, got %s", s.State)
	}
	if len(s.Items) != 0 {
		t.Fatalf("failure changed result set: %d items", len(s.Items))
	}

	// No automatic retry: the call count must stay at one.
	time.Sleep(100 * time.Millisecond)
	if calls := f.snapshot(); len(calls) != 1 {
		t.Fatalf("expected no retry, got %d calls", len(calls))
	}
}

func TestLoader_CloseIsIdempotent(t *testing.T) {
	l := New(Config{Fetcher: &recordingFetcher{}, Debounce: 10 * time.Millisecond})
	l.Close()
	l.Close()

	// Events after Close must not block.
	done := make(chan struct{})
	go func() {
		l.SentinelVisible()
		l.SetPrimaryCategory("热门")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loader methods blocked after Close")
	}
}
