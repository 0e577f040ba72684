package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPLimiter_BurstThenBlock(t *testing.T) {
	rl := NewIPLimiter(1, 2)
	now := time.Now()

	if !rl.allow("1.2.3.4", now) || !rl.allow("1.2.3.4", now) {
		t.Fatal("expected burst of 2 to pass")
	}
	if rl.allow("1.2.3.4", now) {
		t.Fatal("expected third request in the same instant to be blocked")
	}
	// Other IPs have their own bucket.
	if !rl.allow("5.6.7.8", now) {
		t.Fatal("expected fresh IP to pass")
	}
	// Refill after a second.
	if !rl.allow("1.2.3.4", now.Add(1100*time.Millisecond)) {
		t.Fatal("expected refill to allow another request")
	}
}

func TestIPLimiter_Middleware429(t *testing.T) {
	rl := NewIPLimiter(0.001, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/douban/categories", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestRPS_NilNeverBlocks(t *testing.T) {
	var l *RPS
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRPS_ContextCancel(t *testing.T) {
	l := NewRPS(1)
	defer l.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
