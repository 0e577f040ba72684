// Package browse implements the paginated category loader: filter
// selection state, debounced page-0 reloads, infinite-scroll page
// advancement and epoch-fenced result accumulation.
package browse

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultPageLimit = 25

// Fetcher retrieves one page of a category listing. pageStart is always a
// non-negative multiple of pageLimit. Implementations report upstream
// failures either through err or a non-200 StatusCode; the loader treats
// both identically and never retries.
type Fetcher interface {
	FetchPage(ctx context.Context, sel FilterSelection, pageStart, pageLimit int) (Page, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, sel FilterSelection, pageStart, pageLimit int) (Page, error)

func (f FetcherFunc) FetchPage(ctx context.Context, sel FilterSelection, pageStart, pageLimit int) (Page, error) {
	return f(ctx, sel, pageStart, pageLimit)
}

// Snapshot is the externally visible loader state.
type Snapshot struct {
	Selection FilterSelection
	Items     []ResultItem
	State     LoadState
	HasMore   bool
	Epoch     uint64
	FailedAt  time.Time
}

type Config struct {
	Fetcher   Fetcher
	Initial   FilterSelection
	PageLimit int           // default DefaultPageLimit
	Debounce  time.Duration // default 120ms
	Logger    *zap.Logger
}

// Loader owns one browse session. All transitions are serialized through
// a single event-loop goroutine; public methods only enqueue events and
// read published snapshots, so they are safe from any goroutine.
type Loader struct {
	fetcher   Fetcher
	pageLimit int
	debounce  time.Duration
	log       *zap.Logger

	events chan event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu      sync.RWMutex
	snap    Snapshot
	changes chan struct{}
}

// New starts a loader. Mounting counts as a selection change: the initial
// page-0 load is issued after one debounce window.
func New(cfg Config) *Loader {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 120 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		fetcher:   cfg.Fetcher,
		pageLimit: cfg.PageLimit,
		debounce:  cfg.Debounce,
		log:       cfg.Logger,
		events:    make(chan event, 16),
		cancel:    cancel,
		done:      make(chan struct{}),
		changes:   make(chan struct{}, 1),
	}
	l.snap = Snapshot{Selection: cfg.Initial, State: Idle}

	go l.loop(ctx, cfg.Initial)
	l.enqueue(selectionChanged{}) // mount
	return l
}

// SetPrimaryCategory replaces the primary category filter.
func (l *Loader) SetPrimaryCategory(v string) {
	l.enqueue(selectionChanged{mutate: func(s FilterSelection) FilterSelection {
		s.PrimaryCategory = v
		return s
	}})
}

// SetSecondaryCategory replaces the secondary category filter.
func (l *Loader) SetSecondaryCategory(v string) {
	l.enqueue(selectionChanged{mutate: func(s FilterSelection) FilterSelection {
		s.SecondaryCategory = v
		return s
	}})
}

// SetContentType switches between movie/tv/show catalogs.
func (l *Loader) SetContentType(ct ContentType) {
	l.enqueue(selectionChanged{mutate: func(s FilterSelection) FilterSelection {
		s.ContentType = ct
		return s
	}})
}

// SentinelVisible reports that the end-of-list marker became visible.
// Ignored unless more results are expected and nothing is in flight.
func (l *Loader) SentinelVisible() {
	l.enqueue(sentinelVisible{})
}

// Snapshot returns the current published state. The Items slice is shared
// and must be treated as read-only.
func (l *Loader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// Changes signals after every applied event. Capacity 1; consumers that
// fall behind coalesce notifications and re-read Snapshot.
func (l *Loader) Changes() <-chan struct{} {
	return l.changes
}

// Close tears down the debounce timer and the event loop. In-flight
// fetches are abandoned via context cancellation.
func (l *Loader) Close() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
}

func (l *Loader) enqueue(ev event) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *Loader) loop(ctx context.Context, initial FilterSelection) {
	defer close(l.done)

	m := newMachine(initial, l.pageLimit)

	timer := time.NewTimer(l.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	timerArmed := false

	handle := func(ev event) {
		for _, act := range m.apply(ev) {
			switch act.kind {
			case armDebounce:
				if timerArmed && !timer.Stop() {
					<-timer.C
				}
				timer.Reset(l.debounce)
				timerArmed = true
			case issueFetch:
				go l.fetch(ctx, act.epoch, act.selection, act.pageStart)
			}
		}
		l.publish(m)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timerArmed = false
			handle(debounceFired{})
		case ev := <-l.events:
			handle(ev)
		}
	}
}

func (l *Loader) fetch(ctx context.Context, epoch uint64, sel FilterSelection, pageStart int) {
	page, err := l.fetcher.FetchPage(ctx, sel, pageStart, l.pageLimit)
	if err != nil || page.StatusCode != 200 {
		l.log.Warn("category page fetch failed",
			zap.String("content_type", string(sel.ContentType)),
			zap.String("primary", sel.PrimaryCategory),
			zap.String("secondary", sel.SecondaryCategory),
			zap.Int("page_start", pageStart),
			zap.Int("status", page.StatusCode),
			zap.Uint64("epoch", epoch),
			zap.Error(err))
	}
	select {
	case l.events <- fetchDone{epoch: epoch, pageStart: pageStart, page: page, err: err}:
	case <-ctx.Done():
	}
}

func (l *Loader) publish(m *machine) {
	l.mu.Lock()
	l.snap = Snapshot{
		Selection: m.sel,
		Items:     m.items,
		State:     m.state,
		HasMore:   m.hasMore,
		Epoch:     m.epoch,
		FailedAt:  m.failedAt,
	}
	l.mu.Unlock()

	select {
	case l.changes <- struct{}{}:
	default:
	}
}
