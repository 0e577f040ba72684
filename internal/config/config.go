package config

import (
	"strings"
	"time"

	platformcfg "github.com/example/video-portal/internal/platform/config"
)

// PageLimit is the fixed page length of every category listing request.
// The hasMore heuristic in the browse loader depends on it, so it is a
// constant rather than configuration.
const PageLimit = 25

// Portal holds the portal-specific configuration. Loaded once at startup
// and passed by reference; handlers and templates never read the
// environment themselves.
type Portal struct {
	SiteName     string
	Announcement string

	DoubanBaseURL    string
	DoubanImageHosts []string
	DoubanRPS        int

	DebounceWindow time.Duration
	CacheTTL       time.Duration
	WarmPages      int

	DatabaseURL string
	RedisURL    string
	NATSURL     string

	HTTPRate  float64
	HTTPBurst int
}

func Load() (Portal, error) {
	cfg := Portal{
		SiteName:     platformcfg.String("SITE_NAME", "VideoPortal"),
		Announcement: platformcfg.String("ANNOUNCEMENT", ""),

		DoubanBaseURL:    platformcfg.String("DOUBAN_BASE_URL", "https://m.douban.com/rexxar/api/v2"),
		DoubanImageHosts: splitHosts(platformcfg.String("DOUBAN_IMAGE_HOSTS", "doubanio.com,douban.com")),
		DoubanRPS:        platformcfg.Int("DOUBAN_RPS", 2),

		DebounceWindow: platformcfg.Duration("BROWSE_DEBOUNCE", 120*time.Millisecond),
		CacheTTL:       platformcfg.Duration("CACHE_TTL", 10*time.Minute),
		WarmPages:      platformcfg.Int("CACHE_WARM_PAGES", 0),

		DatabaseURL: platformcfg.String("DATABASE_URL", ""),
		RedisURL:    platformcfg.String("REDIS_URL", ""),
		NATSURL:     platformcfg.String("NATS_URL", ""),

		HTTPRate:  float64(platformcfg.Int("HTTP_RATE", 20)),
		HTTPBurst: platformcfg.Int("HTTP_BURST", 40),
	}
	return cfg, nil
}

// SnapshotsEnabled reports whether the Postgres listing snapshot store
// should be wired in.
func (p Portal) SnapshotsEnabled() bool { return p.DatabaseURL != "" }

// PrefetchEnabled reports whether the NATS read-ahead worker should run.
func (p Portal) PrefetchEnabled() bool { return p.NATSURL != "" }

func splitHosts(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
