// Package warmup primes the page cache at startup by walking the default
// category listings through a browse.Loader, the same way the infinite
// scroll walks them in the browser.
package warmup

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/video-portal/internal/browse"
	"github.com/example/video-portal/internal/cache"
	"github.com/example/video-portal/internal/config"
	"github.com/example/video-portal/internal/douban"
	"github.com/example/video-portal/internal/ratelimit"
	"github.com/example/video-portal/internal/store"
)

const perSelectionTimeout = 2 * time.Minute

// Upstream is the slice of the Douban client warmup needs.
type Upstream interface {
	Categories(ctx context.Context, q douban.CategoryQuery) (*douban.ListResponse, error)
}

// Deps wires a warmup run. Store is optional.
type Deps struct {
	Upstream Upstream
	Limiter  *ratelimit.RPS
	Cache    cache.Pages
	Store    store.Listings
	Log      *zap.Logger
}

// defaultSelections are the listings every visitor lands on.
func defaultSelections() []browse.FilterSelection {
	return []browse.FilterSelection{
		{ContentType: browse.ContentMovie, PrimaryCategory: "热门", SecondaryCategory: "全部"},
		{ContentType: browse.ContentTV, PrimaryCategory: "最近热门", SecondaryCategory: "tv"},
		{ContentType: browse.ContentShow, PrimaryCategory: "最近热门", SecondaryCategory: "show"},
	}
}

// Run warms up to pages pages of each default listing. Failures are
// logged and skipped; warming is never load-bearing.
func Run(ctx context.Context, deps Deps, pages int) {
	if pages <= 0 {
		return
	}
	for _, sel := range defaultSelections() {
		if ctx.Err() != nil {
			return
		}
		deps.warmSelection(ctx, sel, pages)
	}
}

func (d Deps) warmSelection(ctx context.Context, sel browse.FilterSelection, pages int) {
	ld := browse.New(browse.Config{
		Fetcher:  browse.FetcherFunc(d.fetchPage),
		Initial:  sel,
		Debounce: time.Millisecond,
		Logger:   d.Log,
	})
	defer ld.Close()

	deadline := time.NewTimer(perSelectionTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			d.Log.Warn("cache warmup timed out",
				zap.String("content_type", string(sel.ContentType)),
				zap.String("primary", sel.PrimaryCategory))
			return
		case <-ld.Changes():
			snap := ld.Snapshot()
			switch snap.State {
			case browse.Exhausted:
				return
			case browse.Ready:
				// a failed page-N load leaves the session browsable but
				// warmup does not re-trigger the sentinel after a failure
				if !snap.FailedAt.IsZero() {
					return
				}
				if len(snap.Items) >= pages*config.PageLimit {
					d.Log.Info("listing warmed",
						zap.String("content_type", string(sel.ContentType)),
						zap.String("primary", sel.PrimaryCategory),
						zap.Int("items", len(snap.Items)))
					return
				}
				ld.SentinelVisible()
			case browse.Idle:
				// a failed initial fetch parks the loader here; no retry
				if !snap.FailedAt.IsZero() {
					return
				}
			}
		}
	}
}

// fetchPage backs the loader with the live Douban client and fans every
// fetched page out to the cache and the snapshot store.
func (d Deps) fetchPage(ctx context.Context, sel browse.FilterSelection, pageStart, pageLimit int) (browse.Page, error) {
	kind := "tv"
	if sel.ContentType == browse.ContentMovie {
		kind = "movie"
	}

	if err := d.Limiter.Wait(ctx); err != nil {
		return browse.Page{}, err
	}
	resp, err := d.Upstream.Categories(ctx, douban.CategoryQuery{
		Kind:     kind,
		Category: sel.PrimaryCategory,
		Type:     sel.SecondaryCategory,
		Start:    pageStart,
		Limit:    pageLimit,
	})
	if err != nil {
		var se *douban.StatusError
		if errors.As(err, &se) {
			return browse.Page{StatusCode: se.StatusCode}, err
		}
		return browse.Page{}, err
	}

	key := cache.Key(kind, sel.PrimaryCategory, sel.SecondaryCategory, pageStart, pageLimit)
	d.Cache.Set(ctx, key, resp.Items)
	if d.Store != nil {
		lk := store.ListingKey(kind, sel.PrimaryCategory, sel.SecondaryCategory)
		if err := d.Store.UpsertPage(ctx, lk, pageStart, resp.Items); err != nil {
			d.Log.Warn("warmup snapshot write failed", zap.String("listing", lk), zap.Error(err))
		}
	}

	items := make([]browse.ResultItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, browse.ResultItem{
			Title:      it.Title,
			PosterURL:  it.PosterURL,
			ExternalID: it.ID,
			Rating:     it.Rate,
			Year:       it.Year,
		})
	}
	return browse.Page{Items: items, StatusCode: 200}, nil
}
