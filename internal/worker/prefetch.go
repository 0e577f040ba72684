// Package worker runs the read-ahead prefetcher: the API layer publishes
// the next page of a listing it just served, and this consumer warms the
// cache and the snapshot store before the infinite scroll asks for it.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/video-portal/internal/cache"
	"github.com/example/video-portal/internal/config"
	"github.com/example/video-portal/internal/douban"
	"github.com/example/video-portal/internal/ratelimit"
	"github.com/example/video-portal/internal/store"
)

const (
	streamName     = "PREFETCH_JOBS"
	subjectPages   = "prefetch.category"
	subjectDLQ     = "prefetch.dlq"
	durableName    = "portal_prefetch"
	defaultDeliver = 5
)

// Job asks for one category page to be warmed.
type Job struct {
	Kind      string `json:"kind"`
	Category  string `json:"category"`
	Type      string `json:"type"`
	PageStart int    `json:"page_start"`
	PageLimit int    `json:"page_limit"`
}

// CategoryFetcher is the slice of the Douban client the worker needs.
type CategoryFetcher interface {
	Categories(ctx context.Context, q douban.CategoryQuery) (*douban.ListResponse, error)
}

// Publisher enqueues prefetch jobs. Safe for concurrent use.
type Publisher struct {
	JS  nats.JetStreamContext
	Log *zap.Logger
}

func NewPublisher(nc *nats.Conn, log *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{JS: js, Log: log}, nil
}

// Enqueue publishes a job, dropping it on error: prefetching is an
// optimization, never load-bearing.
func (p *Publisher) Enqueue(job Job) {
	b, err := json.Marshal(job)
	if err != nil {
		return
	}
	if _, err := p.JS.Publish(subjectPages, b); err != nil {
		p.Log.Warn("prefetch enqueue failed",
			zap.String("kind", job.Kind),
			zap.Int("page_start", job.PageStart),
			zap.Error(err))
	}
}

// Worker consumes prefetch jobs from JetStream.
type Worker struct {
	Log     *zap.Logger
	JS      nats.JetStreamContext
	Douban  CategoryFetcher
	Limiter *ratelimit.RPS
	Cache   cache.Pages
	Store   store.Listings // nil disables snapshots

	MaxDeliver int
}

func NewWorker(log *zap.Logger, nc *nats.Conn, dc CategoryFetcher, lim *ratelimit.RPS, pages cache.Pages, listings store.Listings) (*Worker, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Worker{
		Log:        log,
		JS:         js,
		Douban:     dc,
		Limiter:    lim,
		Cache:      pages,
		Store:      listings,
		MaxDeliver: defaultDeliver,
	}, nil
}

// EnsureStream creates or updates the job stream.
func (w *Worker) EnsureStream(ctx context.Context) error {
	info, err := w.JS.StreamInfo(streamName)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == "prefetch.>" {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = []string{"prefetch.>"}
		_, err := w.JS.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = w.JS.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"prefetch.>"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	return err
}

// Run blocks consuming jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.EnsureStream(ctx); err != nil {
		return err
	}
	sub, err := w.JS.PullSubscribe(subjectPages, durableName)
	if err != nil {
		return err
	}

	w.Log.Info("prefetch consumer started", zap.String("subject", subjectPages))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return err
		}
		for _, m := range msgs {
			w.handleMsg(ctx, m)
		}
	}
}

func (w *Worker) handleMsg(ctx context.Context, m *nats.Msg) {
	md, _ := m.Metadata()
	numDelivered := uint64(1)
	if md != nil {
		numDelivered = md.NumDelivered
	}

	if w.MaxDeliver > 0 && int(numDelivered) > w.MaxDeliver {
		w.publishDLQ(m.Data, fmt.Sprintf("max deliveries exceeded: %d", numDelivered))
		_ = m.Ack()
		return
	}

	var job Job
	if err := json.Unmarshal(m.Data, &job); err != nil {
		w.Log.Warn("bad prefetch payload", zap.Error(err))
		_ = m.Ack()
		return
	}
	if err := w.Prefetch(ctx, job); err != nil {
		w.Log.Warn("prefetch failed",
			zap.String("kind", job.Kind),
			zap.String("category", job.Category),
			zap.Int("page_start", job.PageStart),
			zap.Uint64("attempt", numDelivered),
			zap.Error(err))
		_ = m.NakWithDelay(backoffDelay(numDelivered))
		return
	}
	_ = m.Ack()
}

// Prefetch performs one warm-up fetch and fans the page out to the cache
// and the snapshot store.
func (w *Worker) Prefetch(ctx context.Context, job Job) error {
	if job.PageLimit <= 0 {
		job.PageLimit = config.PageLimit
	}
	q := douban.CategoryQuery{
		Kind:     job.Kind,
		Category: job.Category,
		Type:     job.Type,
		Start:    job.PageStart,
		Limit:    job.PageLimit,
	}
	if err := w.Limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := w.Douban.Categories(ctx, q)
	if err != nil {
		return err
	}

	key := cache.Key(job.Kind, job.Category, job.Type, job.PageStart, job.PageLimit)
	w.Cache.Set(ctx, key, resp.Items)

	if w.Store != nil {
		lk := store.ListingKey(job.Kind, job.Category, job.Type)
		if err := w.Store.UpsertPage(ctx, lk, job.PageStart, resp.Items); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) publishDLQ(data []byte, reason string) {
	msg := map[string]any{"subject": subjectPages, "reason": reason, "payload": json.RawMessage(data)}
	b, _ := json.Marshal(msg)
	if _, err := w.JS.Publish(subjectDLQ, b); err != nil {
		w.Log.Warn("dlq publish failed", zap.Error(err))
	}
}

func backoffDelay(attempt uint64) time.Duration {
	d := time.Duration(1<<min(attempt, 6)) * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
