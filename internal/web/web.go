// Package web serves the server-rendered browse pages.
package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/video-portal/internal/config"
)

//go:embed templates/*.html static/*
var assets embed.FS

// startupConfig is injected into the page as a JSON script tag so the
// browser code can read it without reaching for window globals.
type startupConfig struct {
	SiteName     string `json:"siteName"`
	Announcement string `json:"announcement"`
	Kind         string `json:"kind"`
	PageLimit    int    `json:"pageLimit"`
	DebounceMS   int64  `json:"debounceMs"`
}

type browsePage struct {
	SiteName     string
	Announcement string
	Kind         string
	Config       template.JS
}

// Handler renders the HTML pages.
type Handler struct {
	cfg  *config.Portal
	tmpl *template.Template
	log  *zap.Logger
}

func New(cfg *config.Portal, log *zap.Logger) (*Handler, error) {
	tmpl, err := template.ParseFS(assets, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Handler{cfg: cfg, tmpl: tmpl, log: log}, nil
}

// Routes mounts the page and static asset routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/browse/movie", http.StatusFound)
	})
	r.Get("/browse/{kind}", h.browse)
	r.Handle("/static/*", http.FileServer(http.FS(assets)))
}

func (h *Handler) browse(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if kind != "movie" && kind != "tv" && kind != "show" {
		http.NotFound(w, r)
		return
	}

	raw, err := json.Marshal(startupConfig{
		SiteName:     h.cfg.SiteName,
		Announcement: h.cfg.Announcement,
		Kind:         kind,
		PageLimit:    config.PageLimit,
		DebounceMS:   h.cfg.DebounceWindow.Milliseconds(),
	})
	if err != nil {
		h.log.Error("marshal startup config", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	page := browsePage{
		SiteName:     h.cfg.SiteName,
		Announcement: h.cfg.Announcement,
		Kind:         kind,
		Config:       template.JS(raw),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.ExecuteTemplate(w, "browse.html", page); err != nil {
		h.log.Error("render browse page", zap.String("kind", kind), zap.Error(err))
	}
}
