// Package handlers contains the portal's JSON API endpoints.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/video-portal/internal/cache"
	"github.com/example/video-portal/internal/config"
	"github.com/example/video-portal/internal/douban"
	"github.com/example/video-portal/internal/platform/api"
	"github.com/example/video-portal/internal/platform/httpserver"
	"github.com/example/video-portal/internal/ratelimit"
	"github.com/example/video-portal/internal/store"
)

// Upstream is the slice of the Douban client the handlers need.
type Upstream interface {
	Categories(ctx context.Context, q douban.CategoryQuery) (*douban.ListResponse, error)
}

// listEnvelope is the wire format of /api/douban/categories. The browser
// loader keys success on code == 200.
type listEnvelope struct {
	Code    int           `json:"code"`
	Message string        `json:"message,omitempty"`
	List    []douban.Item `json:"list"`
}

// CategoriesDeps wires the category listing endpoint. Store and Prefetch
// are optional.
type CategoriesDeps struct {
	Upstream Upstream
	Cache    cache.Pages
	Store    store.Listings
	Limiter  *ratelimit.RPS
	Prefetch func(kind, category, typ string, pageStart int)
	Log      *zap.Logger
}

// ListCategories handles GET /api/douban/categories?kind=&category=&type=&start=
func ListCategories(deps CategoriesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())

		kind := strings.TrimSpace(r.URL.Query().Get("kind"))
		if kind != "movie" && kind != "tv" {
			api.BadRequest(w, "BAD_KIND", "kind must be 'movie' or 'tv'", rid, nil)
			return
		}
		category := strings.TrimSpace(r.URL.Query().Get("category"))
		typ := strings.TrimSpace(r.URL.Query().Get("type"))

		start, err := parsePageStart(r.URL.Query().Get("start"))
		if err != nil {
			api.BadRequest(w, "BAD_START", err.Error(), rid, nil)
			return
		}

		key := cache.Key(kind, category, typ, start, config.PageLimit)
		if items, ok := deps.Cache.Get(r.Context(), key); ok {
			deps.readAhead(kind, category, typ, start, len(items))
			api.WriteJSON(w, http.StatusOK, listEnvelope{Code: http.StatusOK, Message: "获取成功", List: items})
			return
		}

		if err := deps.Limiter.Wait(r.Context()); err != nil {
			api.Internal(w, rid)
			return
		}
		resp, err := deps.Upstream.Categories(r.Context(), douban.CategoryQuery{
			Kind:     kind,
			Category: category,
			Type:     typ,
			Start:    start,
			Limit:    config.PageLimit,
		})
		if err != nil {
			deps.Log.Warn("douban categories fetch failed",
				zap.String("kind", kind),
				zap.String("category", category),
				zap.String("type", typ),
				zap.Int("start", start),
				zap.String("request_id", rid),
				zap.Error(err))
			deps.serveStale(w, r, rid, kind, category, typ, start)
			return
		}

		deps.Cache.Set(r.Context(), key, resp.Items)
		if deps.Store != nil {
			lk := store.ListingKey(kind, category, typ)
			if err := deps.Store.UpsertPage(r.Context(), lk, start, resp.Items); err != nil {
				deps.Log.Warn("snapshot write failed", zap.String("listing", lk), zap.Error(err))
			}
		}
		deps.readAhead(kind, category, typ, start, len(resp.Items))

		api.WriteJSON(w, http.StatusOK, listEnvelope{Code: http.StatusOK, Message: "获取成功", List: resp.Items})
	}
}

// readAhead enqueues a prefetch of the next page when the served page was
// full, mirroring the hasMore heuristic of the browse loader.
func (d CategoriesDeps) readAhead(kind, category, typ string, start, served int) {
	if d.Prefetch == nil || served != config.PageLimit {
		return
	}
	d.Prefetch(kind, category, typ, start+config.PageLimit)
}

// serveStale answers from the snapshot store after an upstream failure.
// Without a snapshot the failure surfaces as 502.
func (d CategoriesDeps) serveStale(w http.ResponseWriter, r *http.Request, rid, kind, category, typ string, start int) {
	if d.Store != nil {
		p, err := d.Store.GetPage(r.Context(), store.ListingKey(kind, category, typ), start)
		if err == nil {
			api.WriteJSON(w, http.StatusOK, listEnvelope{Code: http.StatusOK, Message: "获取成功（快照）", List: p.Items})
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			d.Log.Warn("snapshot read failed", zap.Error(err))
		}
	}
	api.BadGateway(w, "UPSTREAM_FAILED", "category source unavailable", rid)
}

func parsePageStart(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("start must be an integer")
	}
	if n < 0 || n%config.PageLimit != 0 {
		return 0, errors.New("start must be a non-negative multiple of 25")
	}
	return n, nil
}
