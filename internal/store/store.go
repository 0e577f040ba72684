// Package store persists fetched category pages so listings stay
// servable (stale) while Douban is unreachable or rate limiting.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/video-portal/internal/douban"
)

// ErrNotFound is returned when no snapshot exists for a page.
var ErrNotFound = errors.New("store: page not found")

// ListingKey identifies one category listing independent of paging.
func ListingKey(kind, category, typ string) string {
	return fmt.Sprintf("%s:%s:%s", kind, category, typ)
}

// Page is one persisted category page.
type Page struct {
	ListingKey string
	PageStart  int
	Items      []douban.Item
	FetchedAt  time.Time
}

// Listings is implemented by the Postgres store and the in-memory store
// used in tests and when DATABASE_URL is unset.
type Listings interface {
	UpsertPage(ctx context.Context, key string, pageStart int, items []douban.Item) error
	GetPage(ctx context.Context, key string, pageStart int) (*Page, error)
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}
