// Package paystack talks to the upstream card and mobile money processor.
// Upstream failures are never surfaced as Go errors to callers: every
// response carries the processor's status envelope, and transport or
// decode failures come back as {Status: false} with a generic message.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/acoruss/gateway/internal/circuitbreaker"
	"github.com/acoruss/gateway/internal/config"
	"github.com/acoruss/gateway/internal/httputil"
	"github.com/acoruss/gateway/internal/metrics"
)

// unreachableMessage is returned for transport and decode failures.
// It deliberately carries no detail about the underlying error.
const unreachableMessage = "unable to reach payment processor"

// Client calls the processor's REST API with the shared platform secret.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewClient builds a processor client from application config.
func NewClient(cfg config.ProcessorConfig, breaker *circuitbreaker.Manager, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		secret:  cfg.SecretKey,
		http:    httputil.NewClient(timeout),
		breaker: breaker,
		metrics: metricsCollector,
		logger:  logger.With().Str("component", "paystack").Logger(),
	}
}

// InitiateRequest is the body for transaction initialization.
// Amount is in minor units (subunits of the currency).
type InitiateRequest struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency"`
	Reference   string         `json:"reference"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// InitiateResponse is the processor's reply to transaction initialization.
type InitiateResponse struct {
	Status  bool         `json:"status"`
	Message string       `json:"message"`
	Data    InitiateData `json:"data"`
}

// InitiateData holds the hosted checkout page details.
type InitiateData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// TransactionData is the processor's view of a transaction.
// Amount and Fees are in minor units.
type TransactionData struct {
	ID        int64          `json:"id"`
	Status    string         `json:"status"`
	Reference string         `json:"reference"`
	Amount    int64          `json:"amount"`
	Fees      int64          `json:"fees"`
	Channel   string         `json:"channel"`
	Currency  string         `json:"currency"`
	PaidAt    string         `json:"paid_at"`
	Metadata  map[string]any `json:"metadata"`
}

// VerifyResponse is the processor's reply to transaction verification.
type VerifyResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    TransactionData `json:"data"`
}

// RefundRequest is the body for refund creation. A nil Amount refunds
// the full remaining value upstream.
type RefundRequest struct {
	Transaction  string `json:"transaction"`
	Amount       *int64 `json:"amount,omitempty"`
	MerchantNote string `json:"merchant_note,omitempty"`
}

// RefundData holds the processor's refund record. Amount is in minor units.
type RefundData struct {
	ID          int64  `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	Transaction struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
	} `json:"transaction"`
}

// RefundResponse is the processor's reply to refund creation.
type RefundResponse struct {
	Status  bool       `json:"status"`
	Message string     `json:"message"`
	Data    RefundData `json:"data"`
}

// Initiate creates a transaction and returns the hosted checkout URL.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) InitiateResponse {
	var resp InitiateResponse
	c.call(ctx, http.MethodPost, "/transaction/initialize", req, &resp, &resp.Status, &resp.Message)
	if resp.Status && resp.Data.AuthorizationURL == "" {
		c.failClosed("/transaction/initialize", "authorization_url", &resp.Status, &resp.Message)
	}
	return resp
}

// Verify fetches the authoritative status of a transaction by reference.
func (c *Client) Verify(ctx context.Context, reference string) VerifyResponse {
	var resp VerifyResponse
	path := "/transaction/verify/" + reference
	c.call(ctx, http.MethodGet, path, nil, &resp, &resp.Status, &resp.Message)
	if resp.Status && resp.Data.Status == "" {
		c.failClosed(path, "status", &resp.Status, &resp.Message)
	}
	return resp
}

// Refund asks the processor to return funds for a transaction.
func (c *Client) Refund(ctx context.Context, req RefundRequest) RefundResponse {
	var resp RefundResponse
	c.call(ctx, http.MethodPost, "/refund", req, &resp, &resp.Status, &resp.Message)
	if resp.Status {
		switch {
		case resp.Data.ID == 0:
			c.failClosed("/refund", "id", &resp.Status, &resp.Message)
		case resp.Data.Amount <= 0:
			c.failClosed("/refund", "amount", &resp.Status, &resp.Message)
		}
	}
	return resp
}

// Fetch retrieves a transaction by its processor-assigned ID.
func (c *Client) Fetch(ctx context.Context, transactionID int64) VerifyResponse {
	var resp VerifyResponse
	path := fmt.Sprintf("/transaction/%d", transactionID)
	c.call(ctx, http.MethodGet, path, nil, &resp, &resp.Status, &resp.Message)
	if resp.Status && resp.Data.Status == "" {
		c.failClosed(path, "status", &resp.Status, &resp.Message)
	}
	return resp
}

// failClosed downgrades a success envelope whose data block is missing a
// field the gateway acts on. A reply that claims success without it is
// treated the same as an undecodable body.
func (c *Client) failClosed(endpoint, field string, status *bool, message *string) {
	c.logger.Warn().
		Str("endpoint", endpoint).
		Str("missing_field", field).
		Msg("success envelope missing required field")
	*status = false
	*message = unreachableMessage
}

// call performs one API request and decodes the envelope into out.
// On any failure it sets *status to false and *message to either the
// processor's own message or the generic unreachable message.
func (c *Client) call(ctx context.Context, method, path string, body, out any, status *bool, message *string) {
	endpoint := method + " " + path
	start := time.Now()

	_, err := c.breaker.Execute(circuitbreaker.ServiceProcessor, func() (any, error) {
		return nil, c.do(ctx, method, path, body, out)
	})

	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.ObserveUpstreamCall(path, duration, err == nil && *status)
	}

	if err != nil {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Dur("duration", duration).
			Err(err).
			Msg("processor call failed")
		*status = false
		*message = unreachableMessage
		return
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Dur("duration", duration).
		Bool("ok", *status).
		Msg("processor call completed")
}

// do executes the HTTP exchange. Non-2xx responses are not errors: the
// processor's failure envelope is decoded into out like any other reply.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	// Cap the read; processor replies are small.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
