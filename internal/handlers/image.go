package handlers

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/video-portal/internal/platform/api"
	"github.com/example/video-portal/internal/platform/httpserver"
)

const imageProxyTimeout = 15 * time.Second

// ImageProxyDeps wires the poster proxy. AllowedHosts are lowercase host
// suffixes, e.g. "doubanio.com".
type ImageProxyDeps struct {
	Client       *http.Client
	AllowedHosts []string
	Log          *zap.Logger
}

// ImageProxy handles GET /api/image-proxy?url=. Douban's image CDN rejects
// requests with a foreign Referer, so the proxy refetches posters with a
// clean request and streams them back with long-lived cache headers.
func ImageProxy(deps ImageProxyDeps) http.HandlerFunc {
	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: imageProxyTimeout}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())

		raw := r.URL.Query().Get("url")
		target, err := url.Parse(raw)
		if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
			api.BadRequest(w, "BAD_URL", "url must be an absolute http(s) URL", rid, nil)
			return
		}
		if !hostAllowed(target.Hostname(), deps.AllowedHosts) {
			api.BadRequest(w, "HOST_NOT_ALLOWED", "image host is not on the allow list", rid, nil)
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
		if err != nil {
			api.Internal(w, rid)
			return
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1")

		resp, err := client.Do(req)
		if err != nil {
			deps.Log.Warn("image fetch failed", zap.String("host", target.Hostname()), zap.Error(err))
			api.BadGateway(w, "IMAGE_FETCH_FAILED", "image source unavailable", rid)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			api.BadGateway(w, "IMAGE_FETCH_FAILED", "image source unavailable", rid)
			return
		}

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, resp.Body); err != nil {
			deps.Log.Debug("image stream interrupted", zap.Error(err))
		}
	}
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, suffix := range allowed {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
