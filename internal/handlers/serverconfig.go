package handlers

import (
	"net/http"

	"github.com/example/video-portal/internal/config"
	"github.com/example/video-portal/internal/platform/api"
)

// serverConfig is what the browser needs before first render.
type serverConfig struct {
	SiteName     string `json:"SiteName"`
	Announcement string `json:"Announcement"`
	PageLimit    int    `json:"PageLimit"`
}

// ServerConfig handles GET /api/server-config.
func ServerConfig(cfg *config.Portal) http.HandlerFunc {
	payload := serverConfig{
		SiteName:     cfg.SiteName,
		Announcement: cfg.Announcement,
		PageLimit:    config.PageLimit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, payload)
	}
}
