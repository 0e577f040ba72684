package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/video-portal/internal/cache"
	"github.com/example/video-portal/internal/config"
	"github.com/example/video-portal/internal/douban"
	"github.com/example/video-portal/internal/handlers"
	platformcfg "github.com/example/video-portal/internal/platform/config"
	"github.com/example/video-portal/internal/platform/db"
	"github.com/example/video-portal/internal/platform/httpserver"
	"github.com/example/video-portal/internal/platform/logging"
	"github.com/example/video-portal/internal/platform/natsconn"
	"github.com/example/video-portal/internal/platform/run"
	"github.com/example/video-portal/internal/ratelimit"
	"github.com/example/video-portal/internal/store"
	"github.com/example/video-portal/internal/warmup"
	"github.com/example/video-portal/internal/web"
	"github.com/example/video-portal/internal/worker"
)

const cacheInvalidateSubject = "cache.invalidate.pages"

func main() {
	appCfg, err := platformcfg.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, err := logging.New(appCfg.ServiceName, appCfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()

	doubanClient := douban.New(cfg.DoubanBaseURL)
	limiter := ratelimit.NewRPS(cfg.DoubanRPS)
	defer limiter.Stop()

	var pool *pgxpool.Pool
	var listings store.Listings
	if cfg.SnapshotsEnabled() {
		pool, err = db.Open(ctx)
		if err != nil {
			log.Fatal("postgres connect failed", zap.Error(err))
		}
		defer pool.Close()
		pg := store.NewPostgresListings(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal("schema migration failed", zap.Error(err))
		}
		listings = pg
		log.Info("listing snapshots enabled")
	}

	var nc *nats.Conn
	if cfg.PrefetchEnabled() {
		nc, err = natsconn.Connect(natsconn.Options{URL: cfg.NATSURL})
		if err != nil {
			log.Fatal("nats connect failed", zap.Error(err))
		}
		defer nc.Drain() //nolint:errcheck
	}

	pages, err := buildPageCache(cfg, nc, log)
	if err != nil {
		log.Fatal("cache init failed", zap.Error(err))
	}

	var prefetch func(kind, category, typ string, pageStart int)
	if nc != nil {
		pub, err := worker.NewPublisher(nc, log)
		if err != nil {
			log.Fatal("jetstream init failed", zap.Error(err))
		}
		prefetch = func(kind, category, typ string, pageStart int) {
			pub.Enqueue(worker.Job{
				Kind:      kind,
				Category:  category,
				Type:      typ,
				PageStart: pageStart,
				PageLimit: config.PageLimit,
			})
		}
	}

	pagesHandler, err := web.New(&cfg, log)
	if err != nil {
		log.Fatal("template init failed", zap.Error(err))
	}

	router := chi.NewRouter()
	httpserver.SetupRouter(router, httpserver.RouterConfig{
		ReadyFunc: func() error {
			if pool == nil {
				return nil
			}
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(pingCtx)
		},
	})

	ipLimiter := ratelimit.NewIPLimiter(cfg.HTTPRate, cfg.HTTPBurst)
	router.Route("/api", func(r chi.Router) {
		r.Use(ipLimiter.Middleware)
		r.Get("/douban/categories", handlers.ListCategories(handlers.CategoriesDeps{
			Upstream: doubanClient,
			Cache:    pages,
			Store:    listings,
			Limiter:  limiter,
			Prefetch: prefetch,
			Log:      log,
		}))
		r.Get("/server-config", handlers.ServerConfig(&cfg))
		r.Get("/image-proxy", handlers.ImageProxy(handlers.ImageProxyDeps{
			Client:       &http.Client{Timeout: 15 * time.Second},
			AllowedHosts: cfg.DoubanImageHosts,
			Log:          log,
		}))
	})
	pagesHandler.Routes(router)

	srv := httpserver.New(httpserver.Options{
		Addr:        appCfg.HTTP.Addr,
		ServiceName: appCfg.ServiceName,
		Logger:      log,
		Router:      router,
	})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		if listings != nil {
			go purgeLoop(ctx, listings, log)
		}
		if cfg.WarmPages > 0 {
			go warmup.Run(ctx, warmup.Deps{
				Upstream: doubanClient,
				Limiter:  limiter,
				Cache:    pages,
				Store:    listings,
				Log:      log,
			}, cfg.WarmPages)
		}
		if nc != nil {
			w, err := worker.NewWorker(log, nc, doubanClient, limiter, pages, listings)
			if err != nil {
				return err
			}
			go func() {
				if err := w.Run(ctx); err != nil && ctx.Err() == nil {
					log.Error("prefetch worker stopped", zap.Error(err))
				}
			}()
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("http shutdown", zap.Error(err))
			}
		}()
		return srv.Start(log)
	})
	run.Exit(code)
}

// purgeLoop drops listing snapshots older than a week, hourly. Snapshots
// only exist to paper over Douban outages; week-old listings mislead more
// than they help.
func purgeLoop(ctx context.Context, listings store.Listings, log *zap.Logger) {
	const retention = 7 * 24 * time.Hour
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := listings.Purge(ctx, retention)
			if err != nil {
				log.Warn("snapshot purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("purged stale snapshots", zap.Int64("pages", n))
			}
		}
	}
}

// buildPageCache prefers Redis when configured and falls back to the
// in-process TTL cache, which subscribes to NATS invalidation when a
// connection is available.
func buildPageCache(cfg config.Portal, nc *nats.Conn, log *zap.Logger) (cache.Pages, error) {
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		log.Info("redis page cache enabled")
		return rc, nil
	}
	return cache.NewTTLCache(cfg.CacheTTL, nc, cacheInvalidateSubject), nil
}
