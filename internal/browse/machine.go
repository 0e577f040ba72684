package browse

import (
	"net/http"
	"time"
)

// ContentType selects which catalog a browse session lists.
type ContentType string

const (
	ContentMovie ContentType = "movie"
	ContentTV    ContentType = "tv"
	ContentShow  ContentType = "show"
)

// FilterSelection is the complete filter state of a browse session.
// Any change to it starts a new epoch and discards accumulated results.
type FilterSelection struct {
	PrimaryCategory   string
	SecondaryCategory string
	ContentType       ContentType
}

// ResultItem is one listed entry. Immutable once fetched; items are
// appended in fetch order and never deduplicated or reordered here.
type ResultItem struct {
	Title      string `json:"title"`
	PosterURL  string `json:"poster"`
	ExternalID string `json:"id"`
	Rating     string `json:"rate"`
	Year       string `json:"year"`
}

// LoadState is the loader's single active state.
type LoadState int

const (
	Idle LoadState = iota
	InitialLoading
	LoadingMore
	Ready
	Exhausted
)

func (s LoadState) String() string {
	switch s {
	case Idle:
		return "idle"
	case InitialLoading:
		return "initial-loading"
	case LoadingMore:
		return "loading-more"
	case Ready:
		return "ready"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// Page is the outcome of one fetch. StatusCode other than 200 marks the
// attempt as a recoverable failure regardless of Items.
type Page struct {
	Items      []ResultItem
	StatusCode int
}

// event is one input to the transition function. All loader behaviour is
// a fold of events over the machine, which keeps the ordering of
// concurrently firing triggers unambiguous.
type event interface{ isEvent() }

type selectionChanged struct {
	mutate func(FilterSelection) FilterSelection
}

type debounceFired struct{}

type sentinelVisible struct{}

type fetchDone struct {
	epoch     uint64
	pageStart int
	page      Page
	err       error
}

func (selectionChanged) isEvent() {}
func (debounceFired) isEvent()    {}
func (sentinelVisible) isEvent()  {}
func (fetchDone) isEvent()        {}

// action is a side effect requested by a transition. The surrounding loop
// owns the timer and the fetch goroutines; the machine itself stays
// synchronous and deterministic.
type action struct {
	kind      actionKind
	epoch     uint64
	selection FilterSelection
	pageStart int
}

type actionKind int

const (
	armDebounce actionKind = iota
	issueFetch
)

type machine struct {
	sel       FilterSelection
	pageLimit int

	epoch    uint64
	cursor   int // page index, ×pageLimit gives the fetch offset
	items    []ResultItem
	state    LoadState
	hasMore  bool
	inFlight bool
	failedAt time.Time
}

func newMachine(sel FilterSelection, pageLimit int) *machine {
	return &machine{sel: sel, pageLimit: pageLimit, state: Idle}
}

// apply advances the machine by one event and returns the side effects to
// perform. It is the only place state transitions happen.
func (m *machine) apply(ev event) []action {
	switch ev := ev.(type) {
	case selectionChanged:
		if ev.mutate != nil {
			m.sel = ev.mutate(m.sel)
		}
		// Full reset: new epoch, cursor back to page 0, accumulation
		// discarded before the page-0 fetch is even issued. A fetch still
		// in flight belongs to the dead epoch and will be dropped on
		// completion.
		m.epoch++
		m.cursor = 0
		m.items = nil
		m.hasMore = false
		m.inFlight = false
		m.state = Idle
		return []action{{kind: armDebounce}}

	case debounceFired:
		if m.inFlight {
			return nil
		}
		m.state = InitialLoading
		m.inFlight = true
		return []action{{kind: issueFetch, epoch: m.epoch, selection: m.sel, pageStart: 0}}

	case sentinelVisible:
		// Eligible only between pages: results present, more expected,
		// nothing in flight.
		if m.state != Ready || !m.hasMore || m.inFlight {
			return nil
		}
		m.cursor++
		m.state = LoadingMore
		m.inFlight = true
		return []action{{kind: issueFetch, epoch: m.epoch, selection: m.sel, pageStart: m.cursor * m.pageLimit}}

	case fetchDone:
		if ev.epoch != m.epoch {
			// Late answer from a previous epoch; never merged.
			return nil
		}
		m.inFlight = false

		if ev.err != nil || ev.page.StatusCode != http.StatusOK {
			m.failedAt = time.Now()
			// No retry, result set untouched. Initial load falls back to
			// Idle; a failed page-N load leaves the session browsable.
			if m.state == InitialLoading {
				m.state = Idle
			} else {
				m.state = Ready
			}
			return nil
		}

		if m.state == InitialLoading {
			m.items = ev.page.Items
		} else {
			m.items = append(m.items, ev.page.Items...)
		}
		m.failedAt = time.Time{}
		// Heuristic: a full page implies a possible next page. A catalog
		// sized at an exact multiple of pageLimit costs one trailing empty
		// fetch before parking in Exhausted; documented behaviour.
		m.hasMore = len(ev.page.Items) == m.pageLimit
		if m.hasMore {
			m.state = Ready
		} else {
			m.state = Exhausted
		}
		return nil
	}
	return nil
}
