package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/acoruss/gateway/internal/config"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db                   *sql.DB
	ownsDB               bool   // Track if we created the DB connection (for Close())
	tenantsTableName     string // Configurable table name (default: "tenants")
	paymentsTableName    string // Configurable table name (default: "payments")
	webhookLogsTableName string // Configurable table name (default: "webhook_delivery_logs")
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// Close() error during initialization cleanup is not actionable;
		// the connection failure is the error worth returning.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{
		db:                   db,
		ownsDB:               true,
		tenantsTableName:     "tenants",
		paymentsTableName:    "payments",
		webhookLogsTableName: "webhook_delivery_logs",
	}

	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store using an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{
		db:                   db,
		ownsDB:               false,
		tenantsTableName:     "tenants",
		paymentsTableName:    "payments",
		webhookLogsTableName: "webhook_delivery_logs",
	}

	if err := store.createTables(); err != nil {
		return nil, err
	}

	return store, nil
}

// WithTableNames sets custom table names (for schema mapping support).
// CREATE TABLE IF NOT EXISTS only creates the tables that are missing.
func (s *PostgresStore) WithTableNames(tenants, payments, webhookLogs string) *PostgresStore {
	if tenants != "" {
		s.tenantsTableName = tenants
	}
	if payments != "" {
		s.paymentsTableName = payments
	}
	if webhookLogs != "" {
		s.webhookLogsTableName = webhookLogs
	}

	_ = s.createTables()

	return s
}

// createTables creates the necessary tables and indexes if they don't exist.
// The partial unique index on (tenant_id, idempotency_key) is the serialisation
// point for idempotent initiation; the primary key on reference backs the
// collision-retry loop in the mint.
func (s *PostgresStore) createTables() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			api_key TEXT NOT NULL UNIQUE,
			api_secret TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			allowed_currencies JSONB,
			allowed_ips JSONB,
			webhook_url TEXT NOT NULL DEFAULT '',
			default_callback_url TEXT NOT NULL DEFAULT '',
			contact_email TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			reference TEXT PRIMARY KEY,
			tenant_id TEXT,
			service_reference TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			amount NUMERIC(20,2) NOT NULL,
			currency TEXT NOT NULL,
			fees NUMERIC(20,2) NOT NULL DEFAULT 0,
			refunded_amount NUMERIC(20,2) NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			refund_status TEXT NOT NULL,
			channel TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			processor_transaction_id TEXT NOT NULL DEFAULT '',
			processor_refund_id TEXT NOT NULL DEFAULT '',
			authorization_url TEXT NOT NULL DEFAULT '',
			callback_url TEXT NOT NULL DEFAULT '',
			client_ip TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			webhook_delivered BOOLEAN NOT NULL DEFAULT FALSE,
			webhook_delivered_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %[3]s (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			payment_reference TEXT NOT NULL REFERENCES %[2]s(reference) ON DELETE CASCADE,
			url TEXT NOT NULL,
			event TEXT NOT NULL,
			request_headers JSONB,
			request_body TEXT NOT NULL DEFAULT '',
			response_status INTEGER NOT NULL DEFAULT 0,
			response_body TEXT NOT NULL DEFAULT '',
			attempt INTEGER NOT NULL,
			success BOOLEAN NOT NULL DEFAULT FALSE,
			error_message TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_tenant_idem
			ON %[2]s(tenant_id, idempotency_key) WHERE idempotency_key <> '';
		CREATE INDEX IF NOT EXISTS idx_payments_tenant_created ON %[2]s(tenant_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_payments_tenant_status ON %[2]s(tenant_id, status);
		CREATE INDEX IF NOT EXISTS idx_payments_tenant_email ON %[2]s(tenant_id, email);
		CREATE INDEX IF NOT EXISTS idx_webhook_logs_payment ON %[3]s(payment_reference, created_at);
	`,
		s.tenantsTableName,
		s.paymentsTableName,
		s.webhookLogsTableName,
	)

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Close releases the connection pool when this store owns it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// mapUniqueViolation converts pq unique-constraint errors to sentinel errors.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch {
	case strings.Contains(pqErr.Constraint, "idem"):
		return ErrDuplicateIdempotencyKey
	case strings.Contains(pqErr.Constraint, "api_key"):
		return ErrDuplicateAPIKey
	default:
		return ErrDuplicateReference
	}
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func scanStringSlice(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(raw, &out)
	return out
}

func scanDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CreateTenant persists a new tenant.
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant Tenant) error {
	currencies, err := marshalJSON(tenant.AllowedCurrencies)
	if err != nil {
		return fmt.Errorf("marshal allowed currencies: %w", err)
	}
	ips, err := marshalJSON(tenant.AllowedIPs)
	if err != nil {
		return fmt.Errorf("marshal allowed ips: %w", err)
	}

	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, slug, name, api_key, api_secret, is_active,
			allowed_currencies, allowed_ips, webhook_url, default_callback_url,
			contact_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, s.tenantsTableName)

	_, err = s.db.ExecContext(ctx, query,
		tenant.ID, tenant.Slug, tenant.Name, tenant.APIKey, tenant.APISecret, tenant.IsActive,
		currencies, ips, tenant.WebhookURL, tenant.DefaultCallbackURL,
		tenant.ContactEmail, tenant.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", mapUniqueViolation(err))
	}
	return nil
}

const tenantColumns = `id, slug, name, api_key, api_secret, is_active,
	allowed_currencies, allowed_ips, webhook_url, default_callback_url,
	contact_email, created_at, updated_at`

func (s *PostgresStore) scanTenant(row *sql.Row) (Tenant, error) {
	var t Tenant
	var currencies, ips []byte
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.APIKey, &t.APISecret, &t.IsActive,
		&currencies, &ips, &t.WebhookURL, &t.DefaultCallbackURL,
		&t.ContactEmail, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("scan tenant: %w", err)
	}
	t.AllowedCurrencies = scanStringSlice(currencies)
	t.AllowedIPs = scanStringSlice(ips)
	return t, nil
}

// GetTenantByAPIKey resolves a tenant from its API key.
func (s *PostgresStore) GetTenantByAPIKey(ctx context.Context, apiKey string) (Tenant, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE api_key = $1`, tenantColumns, s.tenantsTableName)
	return s.scanTenant(s.db.QueryRowContext(ctx, query, apiKey))
}

// GetTenantByID retrieves a tenant by ID.
func (s *PostgresStore) GetTenantByID(ctx context.Context, id string) (Tenant, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, tenantColumns, s.tenantsTableName)
	return s.scanTenant(s.db.QueryRowContext(ctx, query, id))
}

// UpdateTenantCredentials replaces the tenant's key and secret in one statement.
func (s *PostgresStore) UpdateTenantCredentials(ctx context.Context, id, apiKey, apiSecret string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET api_key = $2, api_secret = $3, updated_at = $4 WHERE id = $1
	`, s.tenantsTableName)

	res, err := s.db.ExecContext(ctx, query, id, apiKey, apiSecret, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update tenant credentials: %w", mapUniqueViolation(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant credentials: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTenantActive flips a tenant's active flag.
func (s *PostgresStore) SetTenantActive(ctx context.Context, id string, active bool) error {
	query := fmt.Sprintf(`UPDATE %s SET is_active = $2, updated_at = $3 WHERE id = $1`, s.tenantsTableName)

	res, err := s.db.ExecContext(ctx, query, id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set tenant active: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set tenant active: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePayment persists a new payment. Unique-constraint violations surface
// as ErrDuplicateReference / ErrDuplicateIdempotencyKey for the caller to handle.
func (s *PostgresStore) CreatePayment(ctx context.Context, payment Payment) error {
	metadata, err := marshalJSON(payment.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (reference, tenant_id, service_reference, idempotency_key,
			email, name, amount, currency, fees, refunded_amount, status, refund_status,
			channel, description, processor_transaction_id, processor_refund_id,
			authorization_url, callback_url, client_ip, metadata,
			webhook_delivered, webhook_delivered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, s.paymentsTableName)

	_, err = s.db.ExecContext(ctx, query,
		payment.Reference, nullIfEmpty(payment.TenantID), payment.ServiceReference, payment.IdempotencyKey,
		payment.Email, payment.Name, payment.Amount.StringFixed(2), payment.Currency,
		payment.Fees.StringFixed(2), payment.RefundedAmount.StringFixed(2),
		string(payment.Status), string(payment.RefundStatus),
		payment.Channel, payment.Description, payment.ProcessorTransactionID, payment.ProcessorRefundID,
		payment.AuthorizationURL, payment.CallbackURL, payment.ClientIP, metadata,
		payment.WebhookDelivered, payment.WebhookDeliveredAt, payment.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", mapUniqueViolation(err))
	}
	return nil
}

const paymentColumns = `reference, tenant_id, service_reference, idempotency_key,
	email, name, amount, currency, fees, refunded_amount, status, refund_status,
	channel, description, processor_transaction_id, processor_refund_id,
	authorization_url, callback_url, client_ip, metadata,
	webhook_delivered, webhook_delivered_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (Payment, error) {
	var p Payment
	var tenantID sql.NullString
	var amount, fees, refunded string
	var status, refundStatus string
	var metadata []byte
	var deliveredAt sql.NullTime

	err := row.Scan(&p.Reference, &tenantID, &p.ServiceReference, &p.IdempotencyKey,
		&p.Email, &p.Name, &amount, &p.Currency, &fees, &refunded, &status, &refundStatus,
		&p.Channel, &p.Description, &p.ProcessorTransactionID, &p.ProcessorRefundID,
		&p.AuthorizationURL, &p.CallbackURL, &p.ClientIP, &metadata,
		&p.WebhookDelivered, &deliveredAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("scan payment: %w", err)
	}

	p.TenantID = tenantID.String
	p.Amount = scanDecimal(amount)
	p.Fees = scanDecimal(fees)
	p.RefundedAmount = scanDecimal(refunded)
	p.Status = PaymentStatus(status)
	p.RefundStatus = RefundStatus(refundStatus)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &p.Metadata)
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		p.WebhookDeliveredAt = &t
	}
	return p, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetPayment retrieves a payment by reference.
func (s *PostgresStore) GetPayment(ctx context.Context, reference string) (Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE reference = $1`, paymentColumns, s.paymentsTableName)
	return scanPayment(s.db.QueryRowContext(ctx, query, reference))
}

// GetPaymentByIdempotencyKey retrieves a payment by its tenant-scoped idempotency key.
func (s *PostgresStore) GetPaymentByIdempotencyKey(ctx context.Context, tenantID, key string) (Payment, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE tenant_id = $1 AND idempotency_key = $2
	`, paymentColumns, s.paymentsTableName)
	return scanPayment(s.db.QueryRowContext(ctx, query, tenantID, key))
}

// SetAuthorizationURL stores the upstream's hosted-page URL on the payment.
func (s *PostgresStore) SetAuthorizationURL(ctx context.Context, reference, authorizationURL string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET authorization_url = $2, updated_at = $3 WHERE reference = $1
	`, s.paymentsTableName)

	res, err := s.db.ExecContext(ctx, query, reference, authorizationURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set authorization url: %w", err)
	}
	return requireRow(res)
}

// MarkPaymentSucceeded applies the pending -> success transition as a single
// conditional UPDATE. The WHERE status = 'pending' clause is what guarantees
// that only one of two racing verification paths wins.
func (s *PostgresStore) MarkPaymentSucceeded(ctx context.Context, reference string, details SuccessDetails) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, processor_transaction_id = $3, channel = $4,
			fees = $5, updated_at = $6
		WHERE reference = $1 AND status = $7
	`, s.paymentsTableName)

	res, err := s.db.ExecContext(ctx, query, reference, string(StatusSuccess),
		details.ProcessorTransactionID, details.Channel, details.Fees.StringFixed(2),
		time.Now().UTC(), string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("mark payment succeeded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark payment succeeded: %w", err)
	}
	return affected > 0, nil
}

// MarkPaymentTerminal applies pending -> failed|abandoned under the same condition.
func (s *PostgresStore) MarkPaymentTerminal(ctx context.Context, reference string, status PaymentStatus) (bool, error) {
	if status != StatusFailed && status != StatusAbandoned {
		return false, fmt.Errorf("storage: %s is not a terminal failure status", status)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, updated_at = $3 WHERE reference = $1 AND status = $4
	`, s.paymentsTableName)

	res, err := s.db.ExecContext(ctx, query, reference, string(status), time.Now().UTC(), string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("mark payment terminal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark payment terminal: %w", err)
	}
	return affected > 0, nil
}

// ApplyRefund stores the refund fields reported by upstream.
func (s *PostgresStore) ApplyRefund(ctx context.Context, reference string, update RefundUpdate) error {
	query := fmt.Sprintf(`
		UPDATE %s SET refunded_amount = $2, refund_status = $3,
			processor_refund_id = CASE WHEN $4 <> '' THEN $4 ELSE processor_refund_id END,
			updated_at = $5
		WHERE reference = $1
	`, s.paymentsTableName)

	res, err := s.db.ExecContext(ctx, query, reference,
		update.RefundedAmount.StringFixed(2), string(update.RefundStatus),
		update.ProcessorRefundID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply refund: %w", err)
	}
	return requireRow(res)
}

// MarkWebhookDelivered sets the advisory delivered flag.
func (s *PostgresStore) MarkWebhookDelivered(ctx context.Context, reference string, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET webhook_delivered = TRUE, webhook_delivered_at = $2, updated_at = $3
		WHERE reference = $1
	`, s.paymentsTableName)

	res, err := s.db.ExecContext(ctx, query, reference, at, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark webhook delivered: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPayments returns one page of the tenant's payments, newest first.
func (s *PostgresStore) ListPayments(ctx context.Context, tenantID string, filter PaymentFilter) ([]Payment, int64, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Email != "" {
		args = append(args, filter.Email)
		where = append(where, fmt.Sprintf("LOWER(email) = LOWER($%d)", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.paymentsTableName, clause)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	page, perPage := normalisePage(filter)
	args = append(args, perPage, (page-1)*perPage)
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, paymentColumns, s.paymentsTableName, clause, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	return payments, total, nil
}

// CreateDeliveryLog appends a webhook delivery log row.
func (s *PostgresStore) CreateDeliveryLog(ctx context.Context, log WebhookDeliveryLog) error {
	headers, err := marshalJSON(log.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshal request headers: %w", err)
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, tenant_id, payment_reference, url, event,
			request_headers, request_body, response_status, response_body,
			attempt, success, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, s.webhookLogsTableName)

	_, err = s.db.ExecContext(ctx, query,
		log.ID, log.TenantID, log.PaymentReference, log.URL, log.Event,
		headers, log.RequestBody, log.ResponseStatus, log.ResponseBody,
		log.Attempt, log.Success, log.Error, log.DurationMS, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// UpdateDeliveryLog records the outcome of an attempt on its existing row.
func (s *PostgresStore) UpdateDeliveryLog(ctx context.Context, log WebhookDeliveryLog) error {
	query := fmt.Sprintf(`
		UPDATE %s SET response_status = $2, response_body = $3, success = $4,
			error_message = $5, duration_ms = $6
		WHERE id = $1
	`, s.webhookLogsTableName)

	res, err := s.db.ExecContext(ctx, query,
		log.ID, log.ResponseStatus, log.ResponseBody, log.Success, log.Error, log.DurationMS)
	if err != nil {
		return fmt.Errorf("update delivery log: %w", err)
	}
	return requireRow(res)
}

// ListDeliveryLogs returns all delivery attempts for a payment, oldest first.
func (s *PostgresStore) ListDeliveryLogs(ctx context.Context, paymentReference string) ([]WebhookDeliveryLog, error) {
	query := fmt.Sprintf(`
		SELECT id, tenant_id, payment_reference, url, event,
			request_headers, request_body, response_status, response_body,
			attempt, success, error_message, duration_ms, created_at
		FROM %s WHERE payment_reference = $1
		ORDER BY created_at ASC, attempt ASC
	`, s.webhookLogsTableName)

	rows, err := s.db.QueryContext(ctx, query, paymentReference)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()

	var logs []WebhookDeliveryLog
	for rows.Next() {
		var log WebhookDeliveryLog
		var headers []byte
		err := rows.Scan(&log.ID, &log.TenantID, &log.PaymentReference, &log.URL, &log.Event,
			&headers, &log.RequestBody, &log.ResponseStatus, &log.ResponseBody,
			&log.Attempt, &log.Success, &log.Error, &log.DurationMS, &log.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		if len(headers) > 0 {
			_ = json.Unmarshal(headers, &log.RequestHeaders)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	return logs, nil
}
