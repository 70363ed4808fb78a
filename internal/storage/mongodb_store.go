package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBStore implements Store using MongoDB.
type MongoDBStore struct {
	client      *mongo.Client
	tenants     *mongo.Collection
	payments    *mongo.Collection
	webhookLogs *mongo.Collection
}

// NewMongoDBStore creates a new MongoDB-backed store and ensures its indexes.
func NewMongoDBStore(uri, database string) (*MongoDBStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	store := &MongoDBStore{
		client:      client,
		tenants:     db.Collection("tenants"),
		payments:    db.Collection("payments"),
		webhookLogs: db.Collection("webhook_delivery_logs"),
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// createIndexes ensures the unique indexes the write paths depend on.
// The partial index on (tenant_id, idempotency_key) skips empty keys so
// payments without an idempotency key never collide with each other.
func (s *MongoDBStore) createIndexes(ctx context.Context) error {
	_, err := s.tenants.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "api_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "slug", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create tenant indexes: %w", err)
	}

	_, err = s.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "reference", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.D{{Key: "idempotency_key", Value: bson.D{{Key: "$gt", Value: ""}}}},
			),
		},
		{
			Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create payment indexes: %w", err)
	}

	_, err = s.webhookLogs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "payment_reference", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create webhook log indexes: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *MongoDBStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// mapMongoDuplicate converts duplicate-key errors to sentinel errors.
// Mongo reports the violated index inside the error message.
func mapMongoDuplicate(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "idempotency_key"):
		return ErrDuplicateIdempotencyKey
	case strings.Contains(msg, "api_key"):
		return ErrDuplicateAPIKey
	default:
		return ErrDuplicateReference
	}
}

// tenantDoc is the BSON representation of a Tenant.
type tenantDoc struct {
	ID                 string    `bson:"_id"`
	Slug               string    `bson:"slug"`
	Name               string    `bson:"name"`
	APIKey             string    `bson:"api_key"`
	APISecret          string    `bson:"api_secret"`
	IsActive           bool      `bson:"is_active"`
	AllowedCurrencies  []string  `bson:"allowed_currencies,omitempty"`
	AllowedIPs         []string  `bson:"allowed_ips,omitempty"`
	WebhookURL         string    `bson:"webhook_url"`
	DefaultCallbackURL string    `bson:"default_callback_url"`
	ContactEmail       string    `bson:"contact_email"`
	CreatedAt          time.Time `bson:"created_at"`
	UpdatedAt          time.Time `bson:"updated_at"`
}

func tenantToDoc(t Tenant) tenantDoc {
	return tenantDoc{
		ID:                 t.ID,
		Slug:               t.Slug,
		Name:               t.Name,
		APIKey:             t.APIKey,
		APISecret:          t.APISecret,
		IsActive:           t.IsActive,
		AllowedCurrencies:  t.AllowedCurrencies,
		AllowedIPs:         t.AllowedIPs,
		WebhookURL:         t.WebhookURL,
		DefaultCallbackURL: t.DefaultCallbackURL,
		ContactEmail:       t.ContactEmail,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

func (d tenantDoc) toTenant() Tenant {
	return Tenant{
		ID:                 d.ID,
		Slug:               d.Slug,
		Name:               d.Name,
		APIKey:             d.APIKey,
		APISecret:          d.APISecret,
		IsActive:           d.IsActive,
		AllowedCurrencies:  d.AllowedCurrencies,
		AllowedIPs:         d.AllowedIPs,
		WebhookURL:         d.WebhookURL,
		DefaultCallbackURL: d.DefaultCallbackURL,
		ContactEmail:       d.ContactEmail,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

// paymentDoc is the BSON representation of a Payment.
// Monetary amounts are stored as fixed-point decimal strings.
type paymentDoc struct {
	Reference              string         `bson:"reference"`
	TenantID               string         `bson:"tenant_id"`
	ServiceReference       string         `bson:"service_reference"`
	IdempotencyKey         string         `bson:"idempotency_key"`
	Email                  string         `bson:"email"`
	Name                   string         `bson:"name"`
	Amount                 string         `bson:"amount"`
	Currency               string         `bson:"currency"`
	Fees                   string         `bson:"fees"`
	RefundedAmount         string         `bson:"refunded_amount"`
	Status                 string         `bson:"status"`
	RefundStatus           string         `bson:"refund_status"`
	Channel                string         `bson:"channel"`
	Description            string         `bson:"description"`
	ProcessorTransactionID string         `bson:"processor_transaction_id"`
	ProcessorRefundID      string         `bson:"processor_refund_id"`
	AuthorizationURL       string         `bson:"authorization_url"`
	CallbackURL            string         `bson:"callback_url"`
	ClientIP               string         `bson:"client_ip"`
	Metadata               map[string]any `bson:"metadata,omitempty"`
	WebhookDelivered       bool           `bson:"webhook_delivered"`
	WebhookDeliveredAt     *time.Time     `bson:"webhook_delivered_at,omitempty"`
	CreatedAt              time.Time      `bson:"created_at"`
	UpdatedAt              time.Time      `bson:"updated_at"`
}

func paymentToDoc(p Payment) paymentDoc {
	return paymentDoc{
		Reference:              p.Reference,
		TenantID:               p.TenantID,
		ServiceReference:       p.ServiceReference,
		IdempotencyKey:         p.IdempotencyKey,
		Email:                  p.Email,
		Name:                   p.Name,
		Amount:                 p.Amount.StringFixed(2),
		Currency:               p.Currency,
		Fees:                   p.Fees.StringFixed(2),
		RefundedAmount:         p.RefundedAmount.StringFixed(2),
		Status:                 string(p.Status),
		RefundStatus:           string(p.RefundStatus),
		Channel:                p.Channel,
		Description:            p.Description,
		ProcessorTransactionID: p.ProcessorTransactionID,
		ProcessorRefundID:      p.ProcessorRefundID,
		AuthorizationURL:       p.AuthorizationURL,
		CallbackURL:            p.CallbackURL,
		ClientIP:               p.ClientIP,
		Metadata:               p.Metadata,
		WebhookDelivered:       p.WebhookDelivered,
		WebhookDeliveredAt:     p.WebhookDeliveredAt,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

func (d paymentDoc) toPayment() Payment {
	return Payment{
		Reference:              d.Reference,
		TenantID:               d.TenantID,
		ServiceReference:       d.ServiceReference,
		IdempotencyKey:         d.IdempotencyKey,
		Email:                  d.Email,
		Name:                   d.Name,
		Amount:                 scanDecimal(d.Amount),
		Currency:               d.Currency,
		Fees:                   scanDecimal(d.Fees),
		RefundedAmount:         scanDecimal(d.RefundedAmount),
		Status:                 PaymentStatus(d.Status),
		RefundStatus:           RefundStatus(d.RefundStatus),
		Channel:                d.Channel,
		Description:            d.Description,
		ProcessorTransactionID: d.ProcessorTransactionID,
		ProcessorRefundID:      d.ProcessorRefundID,
		AuthorizationURL:       d.AuthorizationURL,
		CallbackURL:            d.CallbackURL,
		ClientIP:               d.ClientIP,
		Metadata:               d.Metadata,
		WebhookDelivered:       d.WebhookDelivered,
		WebhookDeliveredAt:     d.WebhookDeliveredAt,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}
}

// deliveryLogDoc is the BSON representation of a WebhookDeliveryLog.
type deliveryLogDoc struct {
	ID               string            `bson:"_id"`
	TenantID         string            `bson:"tenant_id"`
	PaymentReference string            `bson:"payment_reference"`
	URL              string            `bson:"url"`
	Event            string            `bson:"event"`
	RequestHeaders   map[string]string `bson:"request_headers,omitempty"`
	RequestBody      string            `bson:"request_body"`
	ResponseStatus   int               `bson:"response_status"`
	ResponseBody     string            `bson:"response_body"`
	Attempt          int               `bson:"attempt"`
	Success          bool              `bson:"success"`
	Error            string            `bson:"error_message"`
	DurationMS       int64             `bson:"duration_ms"`
	CreatedAt        time.Time         `bson:"created_at"`
}

// CreateTenant persists a new tenant.
func (s *MongoDBStore) CreateTenant(ctx context.Context, tenant Tenant) error {
	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	if _, err := s.tenants.InsertOne(ctx, tenantToDoc(tenant)); err != nil {
		return fmt.Errorf("insert tenant: %w", mapMongoDuplicate(err))
	}
	return nil
}

// GetTenantByAPIKey resolves a tenant from its API key.
func (s *MongoDBStore) GetTenantByAPIKey(ctx context.Context, apiKey string) (Tenant, error) {
	return s.findTenant(ctx, bson.M{"api_key": apiKey})
}

// GetTenantByID retrieves a tenant by ID.
func (s *MongoDBStore) GetTenantByID(ctx context.Context, id string) (Tenant, error) {
	return s.findTenant(ctx, bson.M{"_id": id})
}

func (s *MongoDBStore) findTenant(ctx context.Context, filter bson.M) (Tenant, error) {
	var doc tenantDoc
	if err := s.tenants.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("find tenant: %w", err)
	}
	return doc.toTenant(), nil
}

// UpdateTenantCredentials replaces the tenant's key and secret in one update.
func (s *MongoDBStore) UpdateTenantCredentials(ctx context.Context, id, apiKey, apiSecret string) error {
	res, err := s.tenants.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"api_key":    apiKey,
		"api_secret": apiSecret,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("update tenant credentials: %w", mapMongoDuplicate(err))
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTenantActive flips a tenant's active flag.
func (s *MongoDBStore) SetTenantActive(ctx context.Context, id string, active bool) error {
	res, err := s.tenants.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"is_active":  active,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("set tenant active: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePayment persists a new payment.
func (s *MongoDBStore) CreatePayment(ctx context.Context, payment Payment) error {
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	if _, err := s.payments.InsertOne(ctx, paymentToDoc(payment)); err != nil {
		return fmt.Errorf("insert payment: %w", mapMongoDuplicate(err))
	}
	return nil
}

// GetPayment retrieves a payment by reference.
func (s *MongoDBStore) GetPayment(ctx context.Context, reference string) (Payment, error) {
	return s.findPayment(ctx, bson.M{"reference": reference})
}

// GetPaymentByIdempotencyKey retrieves a payment by its tenant-scoped idempotency key.
func (s *MongoDBStore) GetPaymentByIdempotencyKey(ctx context.Context, tenantID, key string) (Payment, error) {
	return s.findPayment(ctx, bson.M{"tenant_id": tenantID, "idempotency_key": key})
}

func (s *MongoDBStore) findPayment(ctx context.Context, filter bson.M) (Payment, error) {
	var doc paymentDoc
	if err := s.payments.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("find payment: %w", err)
	}
	return doc.toPayment(), nil
}

// SetAuthorizationURL stores the upstream's hosted-page URL on the payment.
func (s *MongoDBStore) SetAuthorizationURL(ctx context.Context, reference, authorizationURL string) error {
	res, err := s.payments.UpdateOne(ctx, bson.M{"reference": reference}, bson.M{"$set": bson.M{
		"authorization_url": authorizationURL,
		"updated_at":        time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("set authorization url: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaymentSucceeded applies the conditional pending -> success transition.
// The status filter ensures only one of two racing verification paths wins.
func (s *MongoDBStore) MarkPaymentSucceeded(ctx context.Context, reference string, details SuccessDetails) (bool, error) {
	res, err := s.payments.UpdateOne(ctx,
		bson.M{"reference": reference, "status": string(StatusPending)},
		bson.M{"$set": bson.M{
			"status":                   string(StatusSuccess),
			"processor_transaction_id": details.ProcessorTransactionID,
			"channel":                  details.Channel,
			"fees":                     details.Fees.StringFixed(2),
			"updated_at":               time.Now().UTC(),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("mark payment succeeded: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// MarkPaymentTerminal applies the conditional pending -> failed|abandoned transition.
func (s *MongoDBStore) MarkPaymentTerminal(ctx context.Context, reference string, status PaymentStatus) (bool, error) {
	if status != StatusFailed && status != StatusAbandoned {
		return false, fmt.Errorf("storage: %s is not a terminal failure status", status)
	}

	res, err := s.payments.UpdateOne(ctx,
		bson.M{"reference": reference, "status": string(StatusPending)},
		bson.M{"$set": bson.M{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("mark payment terminal: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// ApplyRefund stores the refund fields reported by upstream.
func (s *MongoDBStore) ApplyRefund(ctx context.Context, reference string, update RefundUpdate) error {
	set := bson.M{
		"refunded_amount": update.RefundedAmount.StringFixed(2),
		"refund_status":   string(update.RefundStatus),
		"updated_at":      time.Now().UTC(),
	}
	if update.ProcessorRefundID != "" {
		set["processor_refund_id"] = update.ProcessorRefundID
	}

	res, err := s.payments.UpdateOne(ctx, bson.M{"reference": reference}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("apply refund: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkWebhookDelivered sets the advisory delivered flag.
func (s *MongoDBStore) MarkWebhookDelivered(ctx context.Context, reference string, at time.Time) error {
	res, err := s.payments.UpdateOne(ctx, bson.M{"reference": reference}, bson.M{"$set": bson.M{
		"webhook_delivered":    true,
		"webhook_delivered_at": at,
		"updated_at":           time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("mark webhook delivered: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPayments returns one page of the tenant's payments, newest first.
func (s *MongoDBStore) ListPayments(ctx context.Context, tenantID string, filter PaymentFilter) ([]Payment, int64, error) {
	query := bson.M{"tenant_id": tenantID}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.Email != "" {
		// Case-insensitive exact match on the stored address.
		query["email"] = bson.M{"$regex": "^" + escapeRegex(filter.Email) + "$", "$options": "i"}
	}

	total, err := s.payments.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}

	page, perPage := normalisePage(filter)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64((page - 1) * perPage)).
		SetLimit(int64(perPage))

	cursor, err := s.payments.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	defer cursor.Close(ctx)

	payments := []Payment{}
	for cursor.Next(ctx) {
		var doc paymentDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("decode payment: %w", err)
		}
		payments = append(payments, doc.toPayment())
	}
	if err := cursor.Err(); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	return payments, total, nil
}

func escapeRegex(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`, `.`, `\.`, `+`, `\+`, `*`, `\*`, `?`, `\?`,
		`(`, `\(`, `)`, `\)`, `[`, `\[`, `]`, `\]`, `{`, `\{`, `}`, `\}`,
		`^`, `\^`, `$`, `\$`, `|`, `\|`,
	)
	return replacer.Replace(s)
}

// CreateDeliveryLog appends a webhook delivery log row.
func (s *MongoDBStore) CreateDeliveryLog(ctx context.Context, log WebhookDeliveryLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	doc := deliveryLogDoc{
		ID:               log.ID,
		TenantID:         log.TenantID,
		PaymentReference: log.PaymentReference,
		URL:              log.URL,
		Event:            log.Event,
		RequestHeaders:   log.RequestHeaders,
		RequestBody:      log.RequestBody,
		ResponseStatus:   log.ResponseStatus,
		ResponseBody:     log.ResponseBody,
		Attempt:          log.Attempt,
		Success:          log.Success,
		Error:            log.Error,
		DurationMS:       log.DurationMS,
		CreatedAt:        log.CreatedAt,
	}
	if _, err := s.webhookLogs.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// UpdateDeliveryLog records the outcome of an attempt on its existing row.
func (s *MongoDBStore) UpdateDeliveryLog(ctx context.Context, log WebhookDeliveryLog) error {
	res, err := s.webhookLogs.UpdateOne(ctx, bson.M{"_id": log.ID}, bson.M{"$set": bson.M{
		"response_status": log.ResponseStatus,
		"response_body":   log.ResponseBody,
		"success":         log.Success,
		"error_message":   log.Error,
		"duration_ms":     log.DurationMS,
	}})
	if err != nil {
		return fmt.Errorf("update delivery log: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDeliveryLogs returns all delivery attempts for a payment, oldest first.
func (s *MongoDBStore) ListDeliveryLogs(ctx context.Context, paymentReference string) ([]WebhookDeliveryLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "attempt", Value: 1}})
	cursor, err := s.webhookLogs.Find(ctx, bson.M{"payment_reference": paymentReference}, opts)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []WebhookDeliveryLog
	for cursor.Next(ctx) {
		var doc deliveryLogDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode delivery log: %w", err)
		}
		logs = append(logs, WebhookDeliveryLog{
			ID:               doc.ID,
			TenantID:         doc.TenantID,
			PaymentReference: doc.PaymentReference,
			URL:              doc.URL,
			Event:            doc.Event,
			RequestHeaders:   doc.RequestHeaders,
			RequestBody:      doc.RequestBody,
			ResponseStatus:   doc.ResponseStatus,
			ResponseBody:     doc.ResponseBody,
			Attempt:          doc.Attempt,
			Success:          doc.Success,
			Error:            doc.Error,
			DurationMS:       doc.DurationMS,
			CreatedAt:        doc.CreatedAt,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	return logs, nil
}
