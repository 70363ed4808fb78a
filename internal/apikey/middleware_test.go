package apikey

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/acoruss/gateway/internal/ratelimit"
	"github.com/acoruss/gateway/internal/storage"
)

func newAuthedHandler(t *testing.T, store storage.Store, limiter *ratelimit.Limiter) http.Handler {
	t.Helper()
	return Middleware(store, limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := TenantFromContext(r.Context())
		if !ok {
			t.Error("tenant missing from context after auth")
		}
		w.Header().Set("X-Tenant-ID", tenant.ID)
		w.WriteHeader(http.StatusOK)
	}))
}

func seedTenant(t *testing.T, store storage.Store, tenant storage.Tenant) {
	t.Helper()
	if err := store.CreateTenant(context.Background(), tenant); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
}

func TestMiddlewareResolvesTenant(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTenant(t, store, storage.Tenant{
		ID: "t1", Slug: "svc-one", APIKey: "ak_valid", APISecret: "sk_x", IsActive: true,
	})
	handler := newAuthedHandler(t, store, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/", nil)
	req.Header.Set("Authorization", "Bearer ak_valid")
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Tenant-ID") != "t1" {
		t.Errorf("tenant id = %q", rec.Header().Get("X-Tenant-ID"))
	}
}

func TestMiddlewareMissingHeader(t *testing.T) {
	store := storage.NewMemoryStore()
	handler := newAuthedHandler(t, store, nil)

	for _, header := range []string{"", "Basic abc", "Bearer ", "ak_raw_key"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/payments/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestMiddlewareUnknownAndInactiveKeys(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTenant(t, store, storage.Tenant{
		ID: "t1", Slug: "svc-one", APIKey: "ak_inactive", APISecret: "sk_x", IsActive: false,
	})
	handler := newAuthedHandler(t, store, nil)

	for _, key := range []string{"ak_unknown", "ak_inactive"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/payments/", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("key %q: status = %d, want 401", key, rec.Code)
		}
	}
}

func TestMiddlewareIPAllowlist(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTenant(t, store, storage.Tenant{
		ID: "t1", Slug: "svc-one", APIKey: "ak_valid", APISecret: "sk_x", IsActive: true,
		AllowedIPs: []string{"203.0.113.7"},
	})
	handler := newAuthedHandler(t, store, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/", nil)
	req.Header.Set("Authorization", "Bearer ak_valid")
	req.RemoteAddr = "203.0.113.7:5000"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed ip: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/payments/", nil)
	req.Header.Set("Authorization", "Bearer ak_valid")
	req.RemoteAddr = "198.51.100.1:5000"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("blocked ip: status = %d, want 403", rec.Code)
	}

	// The allowlist is checked against the first X-Forwarded-For hop.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/payments/", nil)
	req.Header.Set("Authorization", "Bearer ak_valid")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:5000"
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("forwarded ip: status = %d, want 200", rec.Code)
	}
}

func TestMiddlewareRateLimit(t *testing.T) {
	store := storage.NewMemoryStore()
	seedTenant(t, store, storage.Tenant{
		ID: "t1", Slug: "svc-one", APIKey: "ak_0123456789abcdef", APISecret: "sk_x", IsActive: true,
	})
	limiter := ratelimit.NewLimiter(2, time.Minute)
	handler := newAuthedHandler(t, store, limiter)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/payments/", nil)
		req.Header.Set("Authorization", "Bearer ak_0123456789abcdef")
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/", nil)
	req.Header.Set("Authorization", "Bearer ak_0123456789abcdef")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestMiddlewareRateLimitKeyedByPrefix(t *testing.T) {
	store := storage.NewMemoryStore()
	// Two keys sharing the first 12 characters share one window.
	seedTenant(t, store, storage.Tenant{
		ID: "t1", Slug: "svc-one", APIKey: "ak_aaaaaaaaa111", APISecret: "sk_x", IsActive: true,
	})
	seedTenant(t, store, storage.Tenant{
		ID: "t2", Slug: "svc-two", APIKey: "ak_aaaaaaaaa222", APISecret: "sk_y", IsActive: true,
	})
	limiter := ratelimit.NewLimiter(1, time.Minute)
	handler := newAuthedHandler(t, store, limiter)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/payments/", nil)
	req.Header.Set("Authorization", "Bearer ak_aaaaaaaaa111")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first key: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/payments/", nil)
	req.Header.Set("Authorization", "Bearer ak_aaaaaaaaa222")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("prefix-sharing key: status = %d, want 429", rec.Code)
	}
}
