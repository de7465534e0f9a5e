package halo

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterMapRefillsOverTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limits := newLimiterMap(2, 1, func() time.Time { return now })

	if _, ok := limits.reserve("a"); !ok {
		t.Fatal("first request rejected")
	}
	wait, ok := limits.reserve("a")
	if ok {
		t.Fatal("burst exceeded without rejection")
	}
	if wait != 500*time.Millisecond {
		t.Fatalf("expected 500ms wait got %s", wait)
	}

	now = now.Add(500 * time.Millisecond)
	if _, ok := limits.reserve("a"); !ok {
		t.Fatal("request after refill rejected")
	}
}

func TestLimiterMapForgetsIdleClients(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limits := newLimiterMap(1, 1, func() time.Time { return now })
	limits.reserve("idle")

	now = now.Add(limiterIdleTTL + time.Second)
	limits.reserve("active")

	limits.mu.Lock()
	defer limits.mu.Unlock()
	if _, ok := limits.clients["idle"]; ok {
		t.Fatal("idle client was not swept")
	}
	if _, ok := limits.clients["active"]; !ok {
		t.Fatal("active client missing")
	}
}

func TestClientKey(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/protocols", nil)
	req.RemoteAddr = "203.0.113.7:4711"
	if got := clientKey(req); got != "addr:203.0.113.7" {
		t.Fatalf("unexpected key %s", got)
	}
	req.RemoteAddr = "pipe"
	if got := clientKey(req); got != "addr:pipe" {
		t.Fatalf("unexpected key %s", got)
	}
	req.Header.Set("Authorization", "Bearer agent-7")
	if got := clientKey(req); got != "key:agent-7" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	tests := map[time.Duration]int64{
		0:                       0,
		-time.Second:            0,
		time.Millisecond:        1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
	}
	for in, want := range tests {
		if got := retryAfterSeconds(in); got != want {
			t.Fatalf("retryAfterSeconds(%s) = %d want %d", in, got, want)
		}
	}
}
