// Package ratelimit contains the two throttles the portal needs: pacing of
// outbound Douban requests and per-IP limiting of inbound API traffic.
package ratelimit

import (
	"context"
	"time"
)

// RPS is a ticker-based pacer allowing up to rps operations per second.
// It deliberately has no burst: Douban reacts to bursts with login walls.
type RPS struct {
	t *time.Ticker
}

func NewRPS(rps int) *RPS {
	if rps <= 0 {
		rps = 1
	}
	interval := time.Second / time.Duration(rps)
	if interval <= 0 {
		interval = time.Second
	}
	return &RPS{t: time.NewTicker(interval)}
}

func (l *RPS) Stop() {
	if l != nil && l.t != nil {
		l.t.Stop()
	}
}

// Wait blocks until the next slot or context cancellation. A nil limiter
// never blocks.
func (l *RPS) Wait(ctx context.Context) error {
	if l == nil || l.t == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.t.C:
		return nil
	}
}
