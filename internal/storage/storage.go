package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acoruss/gateway/internal/config"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateReference is returned when a payment reference collides with an existing row.
var ErrDuplicateReference = errors.New("storage: duplicate reference")

// ErrDuplicateIdempotencyKey is returned when a (tenant, idempotency_key) pair already exists.
var ErrDuplicateIdempotencyKey = errors.New("storage: duplicate idempotency key")

// ErrDuplicateAPIKey is returned when a generated API key collides with an existing tenant.
var ErrDuplicateAPIKey = errors.New("storage: duplicate api key")

// Store captures the persistence requirements for gateway state.
//
// Conditional transitions (MarkPaymentSucceeded, MarkPaymentTerminal) return
// whether the update applied: exactly one of two racing verification paths
// observes the payment in pending, and only the winner dispatches webhooks.
type Store interface {
	// Tenant operations
	CreateTenant(ctx context.Context, tenant Tenant) error
	GetTenantByAPIKey(ctx context.Context, apiKey string) (Tenant, error)
	GetTenantByID(ctx context.Context, id string) (Tenant, error)
	// UpdateTenantCredentials atomically replaces both key and secret,
	// invalidating the prior pair.
	UpdateTenantCredentials(ctx context.Context, id, apiKey, apiSecret string) error
	SetTenantActive(ctx context.Context, id string, active bool) error

	// Payment operations
	CreatePayment(ctx context.Context, payment Payment) error
	GetPayment(ctx context.Context, reference string) (Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, tenantID, key string) (Payment, error)
	SetAuthorizationURL(ctx context.Context, reference, authorizationURL string) error
	// MarkPaymentSucceeded applies the pending -> success transition.
	// Returns false when the payment was not in pending (the race was lost).
	MarkPaymentSucceeded(ctx context.Context, reference string, details SuccessDetails) (bool, error)
	// MarkPaymentTerminal applies pending -> failed|abandoned under the same condition.
	MarkPaymentTerminal(ctx context.Context, reference string, status PaymentStatus) (bool, error)
	ApplyRefund(ctx context.Context, reference string, update RefundUpdate) error
	MarkWebhookDelivered(ctx context.Context, reference string, at time.Time) error
	// ListPayments returns one page of a tenant's payments, newest first,
	// plus the total row count for the filter.
	ListPayments(ctx context.Context, tenantID string, filter PaymentFilter) ([]Payment, int64, error)

	// Webhook delivery log operations (append-only audit trail)
	CreateDeliveryLog(ctx context.Context, log WebhookDeliveryLog) error
	UpdateDeliveryLog(ctx context.Context, log WebhookDeliveryLog) error
	ListDeliveryLogs(ctx context.Context, paymentReference string) ([]WebhookDeliveryLog, error)

	Close() error
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg config.StorageConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store instance with an optional shared database pool.
// If sharedDB is non-nil for the postgres backend it is used instead of opening
// a new connection.
func NewStoreWithDB(cfg config.StorageConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory":
		// Loses all state on restart; development and tests only.
		return NewMemoryStore(), nil
	case "":
		// Auto-detect backend from provided configuration.
		// Priority order: postgres > mongodb > memory (fallback)
		if cfg.PostgresURL != "" {
			cfg.Backend = "postgres"
			return newPostgres(cfg, sharedDB)
		}
		if cfg.MongoDBURL != "" {
			cfg.Backend = "mongodb"
			if cfg.MongoDBDatabase == "" {
				cfg.MongoDBDatabase = "acoruss_gateway"
			}
			return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
		}
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		return newPostgres(cfg, sharedDB)
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_url")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires mongodb_database")
		}
		return NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

func newPostgres(cfg config.StorageConfig, sharedDB *sql.DB) (Store, error) {
	var store *PostgresStore
	var err error
	if sharedDB != nil {
		store, err = NewPostgresStoreWithDB(sharedDB)
	} else {
		store, err = NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
	}
	if err != nil {
		return nil, err
	}
	return store.WithTableNames(cfg.TenantsTableName, cfg.PaymentsTableName, cfg.WebhookLogsTableName), nil
}

// MemoryStore is an in-memory Store implementation suitable for tests and single-instance deployments.
type MemoryStore struct {
	mu                sync.RWMutex
	tenants           map[string]Tenant             // tenantID -> tenant
	tenantsByAPIKey   map[string]string             // apiKey -> tenantID (secondary index)
	payments          map[string]Payment            // reference -> payment
	paymentsByIdemKey map[string]string             // tenantID + "\x00" + key -> reference
	deliveryLogs      map[string]WebhookDeliveryLog // logID -> log
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:           make(map[string]Tenant),
		tenantsByAPIKey:   make(map[string]string),
		payments:          make(map[string]Payment),
		paymentsByIdemKey: make(map[string]string),
		deliveryLogs:      make(map[string]WebhookDeliveryLog),
	}
}

// Close implements the Store interface.
func (m *MemoryStore) Close() error {
	return nil
}

func idemIndexKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

// CreateTenant persists a new tenant.
func (m *MemoryStore) CreateTenant(_ context.Context, tenant Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[tenant.ID]; exists {
		return fmt.Errorf("storage: tenant %s already exists", tenant.ID)
	}
	if _, exists := m.tenantsByAPIKey[tenant.APIKey]; exists {
		return ErrDuplicateAPIKey
	}
	for _, existing := range m.tenants {
		if existing.Slug == tenant.Slug {
			return fmt.Errorf("storage: tenant slug %s already exists", tenant.Slug)
		}
	}

	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	m.tenants[tenant.ID] = tenant
	m.tenantsByAPIKey[tenant.APIKey] = tenant.ID
	return nil
}

// GetTenantByAPIKey resolves a tenant from its API key.
func (m *MemoryStore) GetTenantByAPIKey(_ context.Context, apiKey string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.tenantsByAPIKey[apiKey]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return m.tenants[id], nil
}

// GetTenantByID retrieves a tenant by ID.
func (m *MemoryStore) GetTenantByID(_ context.Context, id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenant, ok := m.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return tenant, nil
}

// UpdateTenantCredentials replaces the tenant's key and secret together.
// The old key stops resolving as soon as the index entry is swapped.
func (m *MemoryStore) UpdateTenantCredentials(_ context.Context, id, apiKey, apiSecret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	if existingID, exists := m.tenantsByAPIKey[apiKey]; exists && existingID != id {
		return ErrDuplicateAPIKey
	}

	delete(m.tenantsByAPIKey, tenant.APIKey)
	tenant.APIKey = apiKey
	tenant.APISecret = apiSecret
	tenant.UpdatedAt = time.Now().UTC()
	m.tenants[id] = tenant
	m.tenantsByAPIKey[apiKey] = id
	return nil
}

// SetTenantActive flips a tenant's active flag.
func (m *MemoryStore) SetTenantActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	tenant.IsActive = active
	tenant.UpdatedAt = time.Now().UTC()
	m.tenants[id] = tenant
	return nil
}

// CreatePayment persists a new payment, enforcing reference and idempotency uniqueness.
func (m *MemoryStore) CreatePayment(_ context.Context, payment Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.payments[payment.Reference]; exists {
		return ErrDuplicateReference
	}
	if payment.IdempotencyKey != "" {
		if _, exists := m.paymentsByIdemKey[idemIndexKey(payment.TenantID, payment.IdempotencyKey)]; exists {
			return ErrDuplicateIdempotencyKey
		}
	}

	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	m.payments[payment.Reference] = payment
	if payment.IdempotencyKey != "" {
		m.paymentsByIdemKey[idemIndexKey(payment.TenantID, payment.IdempotencyKey)] = payment.Reference
	}
	return nil
}

// GetPayment retrieves a payment by reference.
func (m *MemoryStore) GetPayment(_ context.Context, reference string) (Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payment, ok := m.payments[reference]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return payment, nil
}

// GetPaymentByIdempotencyKey retrieves a payment by its tenant-scoped idempotency key.
func (m *MemoryStore) GetPaymentByIdempotencyKey(_ context.Context, tenantID, key string) (Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reference, ok := m.paymentsByIdemKey[idemIndexKey(tenantID, key)]
	if !ok {
		return Payment{}, ErrNotFound
	}
	payment, ok := m.payments[reference]
	if !ok {
		// Index is out of sync (should never happen, but handle gracefully)
		return Payment{}, ErrNotFound
	}
	return payment, nil
}

// SetAuthorizationURL stores the upstream's hosted-page URL on the payment.
func (m *MemoryStore) SetAuthorizationURL(_ context.Context, reference, authorizationURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[reference]
	if !ok {
		return ErrNotFound
	}
	payment.AuthorizationURL = authorizationURL
	payment.UpdatedAt = time.Now().UTC()
	m.payments[reference] = payment
	return nil
}

// MarkPaymentSucceeded applies the conditional pending -> success transition.
func (m *MemoryStore) MarkPaymentSucceeded(_ context.Context, reference string, details SuccessDetails) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[reference]
	if !ok {
		return false, ErrNotFound
	}
	if payment.Status != StatusPending {
		return false, nil
	}

	payment.Status = StatusSuccess
	payment.ProcessorTransactionID = details.ProcessorTransactionID
	payment.Channel = details.Channel
	payment.Fees = details.Fees
	payment.UpdatedAt = time.Now().UTC()
	m.payments[reference] = payment
	return true, nil
}

// MarkPaymentTerminal applies the conditional pending -> failed|abandoned transition.
func (m *MemoryStore) MarkPaymentTerminal(_ context.Context, reference string, status PaymentStatus) (bool, error) {
	if status != StatusFailed && status != StatusAbandoned {
		return false, fmt.Errorf("storage: %s is not a terminal failure status", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[reference]
	if !ok {
		return false, ErrNotFound
	}
	if payment.Status != StatusPending {
		return false, nil
	}

	payment.Status = status
	payment.UpdatedAt = time.Now().UTC()
	m.payments[reference] = payment
	return true, nil
}

// ApplyRefund stores the refund fields reported by upstream.
func (m *MemoryStore) ApplyRefund(_ context.Context, reference string, update RefundUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[reference]
	if !ok {
		return ErrNotFound
	}

	payment.RefundedAmount = update.RefundedAmount
	payment.RefundStatus = update.RefundStatus
	if update.ProcessorRefundID != "" {
		payment.ProcessorRefundID = update.ProcessorRefundID
	}
	payment.UpdatedAt = time.Now().UTC()
	m.payments[reference] = payment
	return nil
}

// MarkWebhookDelivered sets the advisory delivered flag.
func (m *MemoryStore) MarkWebhookDelivered(_ context.Context, reference string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payment, ok := m.payments[reference]
	if !ok {
		return ErrNotFound
	}
	payment.WebhookDelivered = true
	payment.WebhookDeliveredAt = &at
	payment.UpdatedAt = time.Now().UTC()
	m.payments[reference] = payment
	return nil
}

// ListPayments returns one page of the tenant's payments, newest first.
func (m *MemoryStore) ListPayments(_ context.Context, tenantID string, filter PaymentFilter) ([]Payment, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Payment
	for _, payment := range m.payments {
		if payment.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && payment.Status != filter.Status {
			continue
		}
		if filter.Email != "" && !strings.EqualFold(payment.Email, filter.Email) {
			continue
		}
		matched = append(matched, payment)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	page, perPage := normalisePage(filter)
	start := (page - 1) * perPage
	if start >= len(matched) {
		return []Payment{}, total, nil
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func normalisePage(filter PaymentFilter) (page, perPage int) {
	page = filter.Page
	if page < 1 {
		page = 1
	}
	perPage = filter.PerPage
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

// CreateDeliveryLog appends a webhook delivery log row.
func (m *MemoryStore) CreateDeliveryLog(_ context.Context, log WebhookDeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	m.deliveryLogs[log.ID] = log
	return nil
}

// UpdateDeliveryLog overwrites a log row with the attempt's outcome.
func (m *MemoryStore) UpdateDeliveryLog(_ context.Context, log WebhookDeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.deliveryLogs[log.ID]
	if !ok {
		return ErrNotFound
	}
	log.CreatedAt = existing.CreatedAt
	m.deliveryLogs[log.ID] = log
	return nil
}

// ListDeliveryLogs returns all delivery attempts for a payment, oldest first.
func (m *MemoryStore) ListDeliveryLogs(_ context.Context, paymentReference string) ([]WebhookDeliveryLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var logs []WebhookDeliveryLog
	for _, log := range m.deliveryLogs {
		if log.PaymentReference == paymentReference {
			logs = append(logs, log)
		}
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].CreatedAt.Equal(logs[j].CreatedAt) {
			return logs[i].Attempt < logs[j].Attempt
		}
		return logs[i].CreatedAt.Before(logs[j].CreatedAt)
	})
	return logs, nil
}
