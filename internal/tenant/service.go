// Package tenant provisions gateway tenants: registration, credential
// rotation, and activation state. It is the operator-side counterpart
// to the request-path auth in internal/apikey.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/acoruss/gateway/internal/logger"
	"github.com/acoruss/gateway/internal/mint"
	"github.com/acoruss/gateway/internal/storage"
)

// ErrInvalidSlug rejects slugs that cannot form a stable tenant identity.
var ErrInvalidSlug = errors.New("tenant: slug must be non-empty, lowercase, and url-safe")

// Service provisions tenants against the shared store.
type Service struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewService builds a provisioning service.
func NewService(store storage.Store, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		logger: log.With().Str("component", "tenant").Logger(),
	}
}

// RegisterInput describes a new tenant. Credentials are always minted by
// the gateway; callers never choose their own key or secret.
type RegisterInput struct {
	Slug               string
	Name               string
	AllowedCurrencies  []string
	AllowedIPs         []string
	WebhookURL         string
	DefaultCallbackURL string
	ContactEmail       string
}

// Register creates an active tenant with freshly minted credentials.
// A colliding minted key is retried with a new one.
func (s *Service) Register(ctx context.Context, input RegisterInput) (storage.Tenant, error) {
	slug := strings.TrimSpace(strings.ToLower(input.Slug))
	if !validSlug(slug) {
		return storage.Tenant{}, ErrInvalidSlug
	}

	tenant := storage.Tenant{
		ID:                 mint.TenantID(),
		Slug:               slug,
		Name:               input.Name,
		IsActive:           true,
		AllowedCurrencies:  input.AllowedCurrencies,
		AllowedIPs:         input.AllowedIPs,
		WebhookURL:         input.WebhookURL,
		DefaultCallbackURL: input.DefaultCallbackURL,
		ContactEmail:       input.ContactEmail,
	}

	for {
		tenant.APIKey = mint.APIKey()
		tenant.APISecret = mint.APISecret()
		err := s.store.CreateTenant(ctx, tenant)
		if errors.Is(err, storage.ErrDuplicateAPIKey) {
			continue
		}
		if err != nil {
			return storage.Tenant{}, fmt.Errorf("create tenant: %w", err)
		}
		break
	}

	s.logger.Info().
		Str("tenant_id", tenant.ID).
		Str("slug", tenant.Slug).
		Str("api_key_prefix", logger.TruncateKey(tenant.APIKey)).
		Msg("tenant registered")
	return tenant, nil
}

// RegenerateCredentials replaces the tenant's key and secret atomically.
// The old pair stops authenticating as soon as the write lands.
func (s *Service) RegenerateCredentials(ctx context.Context, id string) (storage.Tenant, error) {
	for {
		apiKey := mint.APIKey()
		apiSecret := mint.APISecret()
		err := s.store.UpdateTenantCredentials(ctx, id, apiKey, apiSecret)
		if errors.Is(err, storage.ErrDuplicateAPIKey) {
			continue
		}
		if err != nil {
			return storage.Tenant{}, fmt.Errorf("update credentials: %w", err)
		}
		break
	}

	tenant, err := s.store.GetTenantByID(ctx, id)
	if err != nil {
		return storage.Tenant{}, fmt.Errorf("reload tenant: %w", err)
	}
	s.logger.Info().
		Str("tenant_id", id).
		Str("api_key_prefix", logger.TruncateKey(tenant.APIKey)).
		Msg("tenant credentials rotated")
	return tenant, nil
}

// Deactivate blocks the tenant's API key without destroying its history.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if err := s.store.SetTenantActive(ctx, id, false); err != nil {
		return fmt.Errorf("deactivate tenant: %w", err)
	}
	s.logger.Info().Str("tenant_id", id).Msg("tenant deactivated")
	return nil
}

// Activate re-enables a previously deactivated tenant.
func (s *Service) Activate(ctx context.Context, id string) error {
	if err := s.store.SetTenantActive(ctx, id, true); err != nil {
		return fmt.Errorf("activate tenant: %w", err)
	}
	s.logger.Info().Str("tenant_id", id).Msg("tenant activated")
	return nil
}

func validSlug(slug string) bool {
	if slug == "" || len(slug) > 64 {
		return false
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
