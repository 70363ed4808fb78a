package tenant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/acoruss/gateway/internal/storage"
)

func newTestService() (*Service, storage.Store) {
	store := storage.NewMemoryStore()
	return NewService(store, zerolog.Nop()), store
}

func TestRegisterMintsCredentials(t *testing.T) {
	svc, store := newTestService()

	tenant, err := svc.Register(context.Background(), RegisterInput{
		Slug:              "Orders-API",
		Name:              "Orders API",
		AllowedCurrencies: []string{"KES"},
		WebhookURL:        "https://orders.example/hooks",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if tenant.Slug != "orders-api" {
		t.Errorf("slug = %q, want normalised lowercase", tenant.Slug)
	}
	if !strings.HasPrefix(tenant.ID, "tn_") {
		t.Errorf("id = %q", tenant.ID)
	}
	if !strings.HasPrefix(tenant.APIKey, "ak_") || len(tenant.APIKey) != 51 {
		t.Errorf("api key = %q", tenant.APIKey)
	}
	if !strings.HasPrefix(tenant.APISecret, "sk_") || len(tenant.APISecret) != 67 {
		t.Errorf("api secret = %q", tenant.APISecret)
	}
	if !tenant.IsActive {
		t.Error("new tenant not active")
	}

	resolved, err := store.GetTenantByAPIKey(context.Background(), tenant.APIKey)
	if err != nil {
		t.Fatalf("GetTenantByAPIKey: %v", err)
	}
	if resolved.ID != tenant.ID {
		t.Errorf("resolved id = %q, want %q", resolved.ID, tenant.ID)
	}
}

func TestRegisterRejectsBadSlugs(t *testing.T) {
	svc, _ := newTestService()

	for _, slug := range []string{"", "  ", "has space", "päy", strings.Repeat("a", 65)} {
		_, err := svc.Register(context.Background(), RegisterInput{Slug: slug})
		if !errors.Is(err, ErrInvalidSlug) {
			t.Errorf("slug %q: err = %v, want ErrInvalidSlug", slug, err)
		}
	}
}

func TestRegenerateCredentialsInvalidatesOldKey(t *testing.T) {
	svc, store := newTestService()

	tenant, err := svc.Register(context.Background(), RegisterInput{Slug: "svc-one"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	oldKey := tenant.APIKey
	oldSecret := tenant.APISecret

	rotated, err := svc.RegenerateCredentials(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("RegenerateCredentials: %v", err)
	}
	if rotated.APIKey == oldKey || rotated.APISecret == oldSecret {
		t.Error("credentials unchanged after rotation")
	}

	if _, err := store.GetTenantByAPIKey(context.Background(), oldKey); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old key still resolves: err = %v", err)
	}
	if _, err := store.GetTenantByAPIKey(context.Background(), rotated.APIKey); err != nil {
		t.Errorf("new key does not resolve: %v", err)
	}
}

func TestDeactivateAndActivate(t *testing.T) {
	svc, store := newTestService()

	tenant, err := svc.Register(context.Background(), RegisterInput{Slug: "svc-one"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := svc.Deactivate(context.Background(), tenant.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	got, _ := store.GetTenantByID(context.Background(), tenant.ID)
	if got.IsActive {
		t.Error("tenant still active after Deactivate")
	}

	if err := svc.Activate(context.Background(), tenant.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	got, _ = store.GetTenantByID(context.Background(), tenant.ID)
	if !got.IsActive {
		t.Error("tenant inactive after Activate")
	}
}

func TestDeactivateUnknownTenant(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.Deactivate(context.Background(), "tn_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
