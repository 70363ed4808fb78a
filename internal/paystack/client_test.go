package paystack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/acoruss/gateway/internal/circuitbreaker"
	"github.com/acoruss/gateway/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.ProcessorConfig{
		SecretKey: "sk_test_secret",
		BaseURL:   server.URL,
		Timeout:   config.Duration{},
	}
	breaker := circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{Enabled: false})
	client := NewClient(cfg, breaker, nil, zerolog.Nop())
	return client, server
}

func TestInitiateSuccess(t *testing.T) {
	var gotAuth, gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": true,
			"message": "Authorization URL created",
			"data": {
				"authorization_url": "https://checkout.example.com/abc123",
				"access_code": "abc123",
				"reference": "acoruss-0123456789ab"
			}
		}`))
	}))

	resp := client.Initiate(context.Background(), InitiateRequest{
		Email:     "buyer@example.com",
		Amount:    10000,
		Currency:  "KES",
		Reference: "acoruss-0123456789ab",
	})

	if !resp.Status {
		t.Fatalf("status = false, message = %q", resp.Message)
	}
	if resp.Data.AuthorizationURL != "https://checkout.example.com/abc123" {
		t.Errorf("authorization_url = %q", resp.Data.AuthorizationURL)
	}
	if gotAuth != "Bearer sk_test_secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/transaction/initialize" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestVerifyDecodesTransaction(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/verify/acoruss-0123456789ab" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{
			"status": true,
			"message": "Verification successful",
			"data": {
				"id": 4099260516,
				"status": "success",
				"reference": "acoruss-0123456789ab",
				"amount": 100000,
				"fees": 3500,
				"channel": "mobile_money",
				"currency": "KES"
			}
		}`))
	}))

	resp := client.Verify(context.Background(), "acoruss-0123456789ab")
	if !resp.Status {
		t.Fatalf("status = false, message = %q", resp.Message)
	}
	if resp.Data.ID != 4099260516 || resp.Data.Fees != 3500 || resp.Data.Channel != "mobile_money" {
		t.Errorf("transaction data = %+v", resp.Data)
	}
}

func TestNon2xxBecomesFailureEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status": false, "message": "Transaction reference not found"}`))
	}))

	resp := client.Verify(context.Background(), "acoruss-missing00000")
	if resp.Status {
		t.Fatal("status = true for a 400 response")
	}
	if resp.Message != "Transaction reference not found" {
		t.Errorf("message = %q, want upstream message", resp.Message)
	}
}

func TestMalformedBodyBecomesGenericFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))

	resp := client.Verify(context.Background(), "acoruss-0123456789ab")
	if resp.Status {
		t.Fatal("status = true for a malformed response")
	}
	if resp.Message != unreachableMessage {
		t.Errorf("message = %q, want generic message", resp.Message)
	}
}

func TestNetworkFailureBecomesGenericFailure(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	resp := client.Initiate(context.Background(), InitiateRequest{
		Email: "buyer@example.com", Amount: 100, Currency: "KES", Reference: "acoruss-0123456789ab",
	})
	if resp.Status {
		t.Fatal("status = true with the server down")
	}
	if resp.Message != unreachableMessage {
		t.Errorf("message = %q, want generic message", resp.Message)
	}
}

func TestRefundSendsOptionalAmount(t *testing.T) {
	var gotBody string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Write([]byte(`{
			"status": true,
			"message": "Refund has been queued for processing",
			"data": {
				"id": 302455,
				"amount": 50000,
				"status": "pending",
				"transaction": {"reference": "acoruss-0123456789ab"}
			}
		}`))
	}))

	amount := int64(50000)
	resp := client.Refund(context.Background(), RefundRequest{
		Transaction: "acoruss-0123456789ab",
		Amount:      &amount,
	})
	if !resp.Status {
		t.Fatalf("status = false, message = %q", resp.Message)
	}
	if resp.Data.ID != 302455 || resp.Data.Amount != 50000 {
		t.Errorf("refund data = %+v", resp.Data)
	}
	if !strings.Contains(gotBody, `"amount":50000`) {
		t.Errorf("request body = %q, want amount present", gotBody)
	}

	// Omitted amount must not appear in the body at all.
	resp = client.Refund(context.Background(), RefundRequest{Transaction: "acoruss-0123456789ab"})
	if !resp.Status {
		t.Fatalf("full refund status = false, message = %q", resp.Message)
	}
	if strings.Contains(gotBody, `"amount"`) {
		t.Errorf("omitted amount serialised: %q", gotBody)
	}
}

// A success envelope with required data fields absent must not pass
// through as success: an empty checkout URL or a zero refund amount
// would otherwise propagate into responses and balances.
func TestSuccessWithoutRequiredDataFailsClosed(t *testing.T) {
	cases := []struct {
		name string
		body string
		call func(*Client) (bool, string)
	}{
		{
			name: "initiate without authorization_url",
			body: `{"status": true, "message": "Authorization URL created", "data": {}}`,
			call: func(c *Client) (bool, string) {
				r := c.Initiate(context.Background(), InitiateRequest{
					Email: "buyer@example.com", Amount: 10000, Currency: "KES", Reference: "acoruss-0123456789ab",
				})
				return r.Status, r.Message
			},
		},
		{
			name: "verify without transaction status",
			body: `{"status": true, "message": "Verification successful", "data": {"id": 4099260516, "reference": "acoruss-0123456789ab"}}`,
			call: func(c *Client) (bool, string) {
				r := c.Verify(context.Background(), "acoruss-0123456789ab")
				return r.Status, r.Message
			},
		},
		{
			name: "refund without id",
			body: `{"status": true, "message": "Refund has been queued for processing", "data": {"amount": 50000, "status": "pending"}}`,
			call: func(c *Client) (bool, string) {
				r := c.Refund(context.Background(), RefundRequest{Transaction: "acoruss-0123456789ab"})
				return r.Status, r.Message
			},
		},
		{
			name: "refund without amount",
			body: `{"status": true, "message": "Refund has been queued for processing", "data": {"id": 302455, "status": "pending"}}`,
			call: func(c *Client) (bool, string) {
				r := c.Refund(context.Background(), RefundRequest{Transaction: "acoruss-0123456789ab"})
				return r.Status, r.Message
			},
		},
		{
			name: "fetch without transaction status",
			body: `{"status": true, "message": "Transaction retrieved", "data": {"id": 4099260516}}`,
			call: func(c *Client) (bool, string) {
				r := c.Fetch(context.Background(), 4099260516)
				return r.Status, r.Message
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			}))
			ok, msg := tc.call(client)
			if ok {
				t.Fatal("status = true with required data missing")
			}
			if msg != unreachableMessage {
				t.Errorf("message = %q, want generic message", msg)
			}
		})
	}
}
