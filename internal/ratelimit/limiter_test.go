package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestLimiterAllowsUpToMax(t *testing.T) {
	limiter := NewLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("ak_abc") {
			t.Fatalf("request %d denied under the limit", i+1)
		}
	}
	if limiter.Allow("ak_abc") {
		t.Error("request over the limit allowed")
	}
	if limiter.Remaining("ak_abc") != 0 {
		t.Errorf("remaining = %d, want 0", limiter.Remaining("ak_abc"))
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(1, time.Minute)

	if !limiter.Allow("ak_one") {
		t.Fatal("first key denied")
	}
	if !limiter.Allow("ak_two") {
		t.Error("second key affected by first key's usage")
	}
	if limiter.Allow("ak_one") {
		t.Error("first key allowed over its limit")
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	limiter := NewLimiter(2, time.Minute)
	current := time.Now()
	limiter.now = func() time.Time { return current }

	limiter.Allow("ak_abc")
	current = current.Add(30 * time.Second)
	limiter.Allow("ak_abc")
	if limiter.Allow("ak_abc") {
		t.Fatal("third request within the window allowed")
	}

	// The first hit expires; one slot opens.
	current = current.Add(31 * time.Second)
	if !limiter.Allow("ak_abc") {
		t.Error("request denied after the oldest hit left the window")
	}
	if limiter.Allow("ak_abc") {
		t.Error("second request allowed with only one slot free")
	}
}

func TestLimiterConcurrentAccess(t *testing.T) {
	limiter := NewLimiter(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("ak_%d", n)
			for j := 0; j < 100; j++ {
				limiter.Allow(key)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		key := fmt.Sprintf("ak_%d", i)
		if got := limiter.Remaining(key); got != 900 {
			t.Errorf("key %s remaining = %d, want 900", key, got)
		}
	}
}

func TestIPLimiterEnforcesLimit(t *testing.T) {
	handler := IPLimiter(IPConfig{
		Enabled: true,
		Limit:   2,
		Window:  time.Minute,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/payments/verify/", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/verify/", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
}

func TestIPLimiterDisabledPassesThrough(t *testing.T) {
	handler := IPLimiter(IPConfig{Enabled: false, Limit: 1, Window: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d blocked with limiter disabled", i+1)
		}
	}
}
