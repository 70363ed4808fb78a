// Package webhooks delivers signed payment events to tenant endpoints.
// Dispatch is fire-and-forget: the retry sequence runs to completion in
// the background even after the request that produced the event ended.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/acoruss/gateway/internal/circuitbreaker"
	"github.com/acoruss/gateway/internal/config"
	"github.com/acoruss/gateway/internal/httputil"
	"github.com/acoruss/gateway/internal/metrics"
	"github.com/acoruss/gateway/internal/storage"
)

// Event names sent to tenants.
const (
	EventPaymentSuccess  = "payment.success"
	EventPaymentRefunded = "payment.refunded"
)

const (
	userAgent         = "Acoruss-Payments/1.0"
	signatureHeader   = "X-Acoruss-Signature"
	eventHeader       = "X-Acoruss-Event"
	maxResponseChars  = 2000
	maxErrorChars     = 500
	responseReadLimit = 64 * 1024
)

// Payload is the envelope delivered to tenant webhook endpoints.
type Payload struct {
	Event string      `json:"event"`
	Data  PayloadData `json:"data"`
}

// PayloadData mirrors the payment's public state. Monetary values are
// fixed-point decimal strings.
type PayloadData struct {
	Reference        string         `json:"reference"`
	ServiceReference string         `json:"service_reference"`
	Email            string         `json:"email"`
	Name             string         `json:"name"`
	Amount           string         `json:"amount"`
	Currency         string         `json:"currency"`
	Status           string         `json:"status"`
	Channel          string         `json:"channel"`
	Fees             string         `json:"fees"`
	Description      string         `json:"description"`
	RefundStatus     string         `json:"refund_status"`
	RefundedAmount   string         `json:"refunded_amount"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        string         `json:"created_at"`
}

// Dispatcher posts signed events with bounded retries and per-attempt
// audit logging.
type Dispatcher struct {
	store       storage.Store
	http        *http.Client
	breaker     *circuitbreaker.Manager
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	maxAttempts int
	delays      []time.Duration
	timeout     time.Duration

	// sleep is swappable so tests do not wait out real back-off delays.
	sleep func(time.Duration)
	wg    sync.WaitGroup
}

// NewDispatcher builds a dispatcher from application config.
func NewDispatcher(cfg config.WebhooksConfig, store storage.Store, breaker *circuitbreaker.Manager, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delays := make([]time.Duration, 0, len(cfg.RetryDelays))
	for _, d := range cfg.RetryDelays {
		delays = append(delays, d.Duration)
	}

	return &Dispatcher{
		store:       store,
		http:        httputil.NewClient(timeout),
		breaker:     breaker,
		metrics:     metricsCollector,
		logger:      logger.With().Str("component", "webhooks").Logger(),
		maxAttempts: maxAttempts,
		delays:      delays,
		timeout:     timeout,
		sleep:       time.Sleep,
	}
}

// Dispatch delivers the event in the background. Tenants without a
// webhook URL are skipped entirely: no attempts, no log rows.
func (d *Dispatcher) Dispatch(tenant storage.Tenant, payment storage.Payment, event string) {
	if tenant.WebhookURL == "" {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Deliver(context.Background(), tenant, payment, event)
	}()
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver runs the full attempt sequence synchronously.
func (d *Dispatcher) Deliver(ctx context.Context, tenant storage.Tenant, payment storage.Payment, event string) {
	if tenant.WebhookURL == "" {
		return
	}

	payload := BuildPayload(payment, event)
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error().Err(err).Str("reference", payment.Reference).Msg("marshal webhook payload")
		return
	}
	signature := Sign(body, tenant.APISecret)
	headers := map[string]string{
		"Content-Type":  "application/json",
		"User-Agent":    userAgent,
		eventHeader:     event,
		signatureHeader: signature,
	}

	log := d.logger.With().
		Str("tenant_id", tenant.ID).
		Str("reference", payment.Reference).
		Str("event", event).
		Logger()

	start := time.Now()
	delivered := false

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		row := storage.WebhookDeliveryLog{
			ID:               newLogID(),
			TenantID:         tenant.ID,
			PaymentReference: payment.Reference,
			URL:              tenant.WebhookURL,
			Event:            event,
			RequestHeaders:   headers,
			RequestBody:      string(body),
			Attempt:          attempt,
			CreatedAt:        time.Now().UTC(),
		}
		// The row exists before the attempt so a crash mid-flight still
		// leaves an audit trace.
		if err := d.store.CreateDeliveryLog(ctx, row); err != nil {
			log.Error().Err(err).Int("attempt", attempt).Msg("create delivery log")
		}

		status, respBody, duration, attemptErr := d.attempt(ctx, tenant.WebhookURL, body, headers)

		row.ResponseStatus = status
		row.ResponseBody = truncate(respBody, maxResponseChars)
		row.DurationMS = duration.Milliseconds()
		row.Success = attemptErr == nil && status >= 200 && status < 300
		if attemptErr != nil {
			row.Error = truncate(attemptErr.Error(), maxErrorChars)
		}
		if err := d.store.UpdateDeliveryLog(ctx, row); err != nil {
			log.Error().Err(err).Int("attempt", attempt).Msg("update delivery log")
		}
		if d.metrics != nil {
			d.metrics.ObserveWebhookAttempt(event, row.Success)
		}

		if row.Success {
			delivered = true
			log.Info().Int("attempt", attempt).Int("status", status).Msg("webhook delivered")
			break
		}

		log.Warn().
			Int("attempt", attempt).
			Int("status", status).
			Str("error", row.Error).
			Msg("webhook attempt failed")

		// Back-off applies between attempts only.
		if attempt < d.maxAttempts {
			d.sleep(d.delay(attempt))
		}
	}

	if d.metrics != nil {
		status := "failed"
		if delivered {
			status = "delivered"
		}
		d.metrics.ObserveWebhookDelivery(event, status, time.Since(start))
	}

	if delivered {
		// Advisory flag; the per-attempt rows remain the source of truth.
		if err := d.store.MarkWebhookDelivered(ctx, payment.Reference, time.Now().UTC()); err != nil {
			log.Error().Err(err).Msg("mark webhook delivered")
		}
	}
}

func (d *Dispatcher) delay(attempt int) time.Duration {
	if len(d.delays) == 0 {
		return time.Second
	}
	if attempt-1 < len(d.delays) {
		return d.delays[attempt-1]
	}
	return d.delays[len(d.delays)-1]
}

type postResult struct {
	status   int
	body     string
	duration time.Duration
}

// attempt routes one delivery through the tenant webhook breaker. Only
// transport failures count against the breaker; an endpoint that answers
// with an error status is still a completed exchange.
func (d *Dispatcher) attempt(ctx context.Context, url string, body []byte, headers map[string]string) (int, string, time.Duration, error) {
	start := time.Now()
	res, err := d.breaker.Execute(circuitbreaker.ServiceWebhook, func() (any, error) {
		status, respBody, duration, postErr := d.post(ctx, url, body, headers)
		if postErr != nil {
			return nil, postErr
		}
		return postResult{status: status, body: respBody, duration: duration}, nil
	})
	if err != nil {
		return 0, "", time.Since(start), err
	}
	out := res.(postResult)
	return out.status, out.body, out.duration, nil
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte, headers map[string]string) (int, string, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", time.Since(start), err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return 0, "", time.Since(start), err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseReadLimit))
	return resp.StatusCode, string(raw), time.Since(start), nil
}

// BuildPayload converts a payment to the outbound envelope.
func BuildPayload(payment storage.Payment, event string) Payload {
	return Payload{
		Event: event,
		Data: PayloadData{
			Reference:        payment.Reference,
			ServiceReference: payment.ServiceReference,
			Email:            payment.Email,
			Name:             payment.Name,
			Amount:           payment.Amount.StringFixed(2),
			Currency:         payment.Currency,
			Status:           string(payment.Status),
			Channel:          payment.Channel,
			Fees:             payment.Fees.StringFixed(2),
			Description:      payment.Description,
			RefundStatus:     string(payment.RefundStatus),
			RefundedAmount:   payment.RefundedAmount.StringFixed(2),
			Metadata:         payment.Metadata,
			CreatedAt:        payment.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
}

// Sign computes the hex HMAC-SHA256 of the payload with the tenant secret.
// Tenants verify deliveries with the same computation.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a delivery signature in constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func newLogID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "whl_" + hex.EncodeToString([]byte(time.Now().UTC().Format("20060102150405.000")))
	}
	return "whl_" + hex.EncodeToString(buf)
}
