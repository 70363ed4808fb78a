package payments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acoruss/gateway/internal/paystack"
	"github.com/acoruss/gateway/internal/storage"
)

// stubProcessor returns scripted responses and counts calls.
type stubProcessor struct {
	mu sync.Mutex

	initiateResp  paystack.InitiateResponse
	verifyResp    paystack.VerifyResponse
	refundResp    paystack.RefundResponse
	initiateCalls int
	verifyCalls   int
	refundCalls   int
	lastInitiate  paystack.InitiateRequest
	lastRefund    paystack.RefundRequest
}

func (p *stubProcessor) Initiate(_ context.Context, req paystack.InitiateRequest) paystack.InitiateResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initiateCalls++
	p.lastInitiate = req
	return p.initiateResp
}

func (p *stubProcessor) Verify(_ context.Context, _ string) paystack.VerifyResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyCalls++
	return p.verifyResp
}

func (p *stubProcessor) Refund(_ context.Context, req paystack.RefundRequest) paystack.RefundResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundCalls++
	p.lastRefund = req
	return p.refundResp
}

// captureNotifier records dispatched events synchronously.
type captureNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *captureNotifier) Dispatch(_ storage.Tenant, _ storage.Payment, event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *captureNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func okInitiateResp() paystack.InitiateResponse {
	return paystack.InitiateResponse{
		Status:  true,
		Message: "Authorization URL created",
		Data: paystack.InitiateData{
			AuthorizationURL: "https://checkout.example.com/abc",
			AccessCode:       "abc",
		},
	}
}

func successVerifyResp() paystack.VerifyResponse {
	return paystack.VerifyResponse{
		Status: true,
		Data: paystack.TransactionData{
			ID:      4099260516,
			Status:  "success",
			Amount:  100000,
			Fees:    3500,
			Channel: "mobile_money",
		},
	}
}

type fixture struct {
	store     *storage.MemoryStore
	processor *stubProcessor
	notifier  *captureNotifier
	service   *Service
	tenant    storage.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	tenant := storage.Tenant{
		ID: "t1", Slug: "svc-one", APIKey: "ak_t1", APISecret: "sk_t1", IsActive: true,
		WebhookURL: "https://svc-one.example.com/hooks",
	}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))

	processor := &stubProcessor{initiateResp: okInitiateResp(), verifyResp: successVerifyResp()}
	notifier := &captureNotifier{}
	service := NewService(store, processor, notifier, nil, "https://pay.acoruss.com", zerolog.Nop())
	return &fixture{store: store, processor: processor, notifier: notifier, service: service, tenant: tenant}
}

func (f *fixture) initiateInput() InitiateInput {
	return InitiateInput{
		Tenant:   f.tenant,
		Email:    "buyer@example.com",
		Amount:   decimal.RequireFromString("1000.00"),
		Currency: "KES",
	}
}

func TestInitiateHappyPath(t *testing.T) {
	f := newFixture(t)

	payment, err := f.service.Initiate(context.Background(), f.initiateInput())
	require.NoError(t, err)

	assert.Regexp(t, `^acoruss-[0-9a-f]{12}$`, payment.Reference)
	assert.Equal(t, storage.StatusPending, payment.Status)
	assert.Equal(t, "https://checkout.example.com/abc", payment.AuthorizationURL)
	assert.Equal(t, 1, f.processor.initiateCalls)

	// The processor is told to come back to the gateway, not the tenant.
	assert.Equal(t, "https://pay.acoruss.com/payments/verify/", f.processor.lastInitiate.CallbackURL)
	assert.Equal(t, int64(100000), f.processor.lastInitiate.Amount)

	stored, err := f.store.GetPayment(context.Background(), payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example.com/abc", stored.AuthorizationURL)
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name  string
		mut   func(*InitiateInput)
		field string
	}{
		{"empty email", func(in *InitiateInput) { in.Email = " " }, "email"},
		{"zero amount", func(in *InitiateInput) { in.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(in *InitiateInput) { in.Amount = decimal.RequireFromString("-5") }, "amount"},
		{"three decimals", func(in *InitiateInput) { in.Amount = decimal.RequireFromString("10.123") }, "amount"},
		{"unsupported currency", func(in *InitiateInput) { in.Currency = "EUR" }, "currency"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := f.initiateInput()
			tc.mut(&input)

			_, err := f.service.Initiate(context.Background(), input)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
	assert.Zero(t, f.processor.initiateCalls, "validation failures must not reach upstream")
}

func TestInitiateTenantCurrencyRestriction(t *testing.T) {
	f := newFixture(t)
	f.tenant.AllowedCurrencies = []string{"USD"}

	input := f.initiateInput()
	input.Tenant = f.tenant
	input.Currency = "KES"

	_, err := f.service.Initiate(context.Background(), input)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "currency")
}

func TestInitiateIdempotency(t *testing.T) {
	f := newFixture(t)
	input := f.initiateInput()
	input.IdempotencyKey = "order-42"

	first, err := f.service.Initiate(context.Background(), input)
	require.NoError(t, err)

	// Repeated calls return the same payment and never hit upstream again.
	for i := 0; i < 2; i++ {
		again, err := f.service.Initiate(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, first.Reference, again.Reference)
		assert.Equal(t, first.AuthorizationURL, again.AuthorizationURL)
	}
	assert.Equal(t, 1, f.processor.initiateCalls)

	_, total, err := f.store.ListPayments(context.Background(), f.tenant.ID, storage.PaymentFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestInitiateUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.processor.initiateResp = paystack.InitiateResponse{Status: false, Message: "processor down"}

	input := f.initiateInput()
	input.IdempotencyKey = "order-42"

	payment, err := f.service.Initiate(context.Background(), input)
	require.ErrorIs(t, err, ErrUpstreamFailure)
	assert.Equal(t, storage.StatusPending, payment.Status)
	assert.Empty(t, payment.AuthorizationURL)

	// The idempotent retry reports the same pending state without a
	// second upstream call.
	again, err := f.service.Initiate(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, payment.Reference, again.Reference)
	assert.Empty(t, again.AuthorizationURL)
	assert.Equal(t, 1, f.processor.initiateCalls)
}

func TestVerifySuccessTransition(t *testing.T) {
	f := newFixture(t)
	payment, err := f.service.Initiate(context.Background(), f.initiateInput())
	require.NoError(t, err)

	verified, err := f.service.Verify(context.Background(), payment.Reference)
	require.NoError(t, err)

	assert.Equal(t, storage.StatusSuccess, verified.Status)
	assert.Equal(t, "4099260516", verified.ProcessorTransactionID)
	assert.Equal(t, "mobile_money", verified.Channel)
	assert.Equal(t, "35.00", verified.Fees.StringFixed(2))
	assert.Equal(t, []string{"payment.success"}, f.notifier.Events())
}

func TestVerifyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	payment, err := f.service.Initiate(context.Background(), f.initiateInput())
	require.NoError(t, err)

	_, err = f.service.Verify(context.Background(), payment.Reference)
	require.NoError(t, err)
	again, err := f.service.Verify(context.Background(), payment.Reference)
	require.NoError(t, err)

	assert.Equal(t, storage.StatusSuccess, again.Status)
	assert.Equal(t, 1, f.processor.verifyCalls, "settled payments must not be re-verified upstream")
	assert.Len(t, f.notifier.Events(), 1, "exactly one success webhook")
}

func TestVerifyRaceDispatchesOnce(t *testing.T) {
	f := newFixture(t)
	payment, err := f.service.Initiate(context.Background(), f.initiateInput())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Verify(context.Background(), payment.Reference)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.notifier.Events(), 1, "racing verifications must dispatch exactly once")
}

func TestVerifyAbandonedAndFailed(t *testing.T) {
	cases := []struct {
		upstream string
		want     storage.PaymentStatus
	}{
		{"abandoned", storage.StatusAbandoned},
		{"failed", storage.StatusFailed},
		{"reversed", storage.StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.upstream, func(t *testing.T) {
			f := newFixture(t)
			payment, err := f.service.Initiate(context.Background(), f.initiateInput())
			require.NoError(t, err)

			f.processor.verifyResp = paystack.VerifyResponse{
				Status: true,
				Data:   paystack.TransactionData{Status: tc.upstream},
			}
			verified, err := f.service.Verify(context.Background(), payment.Reference)
			require.NoError(t, err)
			assert.Equal(t, tc.want, verified.Status)
			assert.Empty(t, f.notifier.Events(), "no webhook for non-success transitions")
		})
	}
}

func TestVerifyUnknownReference(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Verify(context.Background(), "acoruss-missing00000")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestVerifyUpstreamFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	payment, err := f.service.Initiate(context.Background(), f.initiateInput())
	require.NoError(t, err)

	f.processor.verifyResp = paystack.VerifyResponse{Status: false, Message: "timeout"}
	got, err := f.service.Verify(context.Background(), payment.Reference)
	require.ErrorIs(t, err, ErrUpstreamFailure)
	assert.Equal(t, storage.StatusPending, got.Status)
}

func succeededPayment(t *testing.T, f *fixture, amount string) storage.Payment {
	t.Helper()
	input := f.initiateInput()
	input.Amount = decimal.RequireFromString(amount)
	payment, err := f.service.Initiate(context.Background(), input)
	require.NoError(t, err)
	verified, err := f.service.Verify(context.Background(), payment.Reference)
	require.NoError(t, err)
	require.Equal(t, storage.StatusSuccess, verified.Status)
	return verified
}

func TestRefundPartialThenFull(t *testing.T) {
	f := newFixture(t)
	payment := succeededPayment(t, f, "20.00")

	// First partial refund of 5.00.
	f.processor.refundResp = paystack.RefundResponse{
		Status: true,
		Data:   paystack.RefundData{ID: 301, Amount: 500, Status: "pending"},
	}
	five := decimal.RequireFromString("5.00")
	updated, err := f.service.Refund(context.Background(), RefundInput{
		Tenant: f.tenant, Reference: payment.Reference, Amount: &five,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.RefundPartial, updated.RefundStatus)
	assert.Equal(t, "5.00", updated.RefundedAmount.StringFixed(2))
	assert.Equal(t, "301", updated.ProcessorRefundID)
	assert.Equal(t, int64(500), *f.processor.lastRefund.Amount)

	// Second refund of the remaining 15.00 completes it.
	f.processor.refundResp = paystack.RefundResponse{
		Status: true,
		Data:   paystack.RefundData{ID: 302, Amount: 1500, Status: "pending"},
	}
	fifteen := decimal.RequireFromString("15.00")
	updated, err = f.service.Refund(context.Background(), RefundInput{
		Tenant: f.tenant, Reference: payment.Reference, Amount: &fifteen,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.RefundFull, updated.RefundStatus)
	assert.Equal(t, "20.00", updated.RefundedAmount.StringFixed(2))

	// Fully refunded payments reject further refunds.
	_, err = f.service.Refund(context.Background(), RefundInput{
		Tenant: f.tenant, Reference: payment.Reference,
	})
	assert.ErrorIs(t, err, ErrNotRefundable)

	assert.Equal(t, []string{"payment.success", "payment.refunded", "payment.refunded"}, f.notifier.Events())
}

func TestRefundFullWhenAmountOmitted(t *testing.T) {
	f := newFixture(t)
	payment := succeededPayment(t, f, "20.00")

	f.processor.refundResp = paystack.RefundResponse{
		Status: true,
		Data:   paystack.RefundData{ID: 303, Amount: 2000, Status: "pending"},
	}
	updated, err := f.service.Refund(context.Background(), RefundInput{
		Tenant: f.tenant, Reference: payment.Reference,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.RefundFull, updated.RefundStatus)
	assert.Equal(t, int64(2000), *f.processor.lastRefund.Amount)
}

func TestRefundRejectsExcessAmount(t *testing.T) {
	f := newFixture(t)
	payment := succeededPayment(t, f, "20.00")

	excess := decimal.RequireFromString("20.01")
	_, err := f.service.Refund(context.Background(), RefundInput{
		Tenant: f.tenant, Reference: payment.Reference, Amount: &excess,
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "amount")
	assert.Zero(t, f.processor.refundCalls)
}

func TestRefundPendingPaymentRejected(t *testing.T) {
	f := newFixture(t)
	payment, err := f.service.Initiate(context.Background(), f.initiateInput())
	require.NoError(t, err)

	_, err = f.service.Refund(context.Background(), RefundInput{
		Tenant: f.tenant, Reference: payment.Reference,
	})
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestRefundUpstreamFailureNoMutation(t *testing.T) {
	f := newFixture(t)
	payment := succeededPayment(t, f, "20.00")

	f.processor.refundResp = paystack.RefundResponse{Status: false, Message: "refused"}
	_, err := f.service.Refund(context.Background(), RefundInput{
		Tenant: f.tenant, Reference: payment.Reference,
	})
	require.ErrorIs(t, err, ErrUpstreamFailure)

	stored, err := f.store.GetPayment(context.Background(), payment.Reference)
	require.NoError(t, err)
	assert.True(t, stored.RefundedAmount.IsZero())
	assert.Equal(t, storage.RefundNone, stored.RefundStatus)
	assert.Empty(t, stored.ProcessorRefundID)
}

func TestGetScopedToTenant(t *testing.T) {
	f := newFixture(t)
	other := storage.Tenant{ID: "t2", Slug: "svc-two", APIKey: "ak_t2", APISecret: "sk_t2", IsActive: true}
	require.NoError(t, f.store.CreateTenant(context.Background(), other))

	payment, err := f.service.Initiate(context.Background(), f.initiateInput())
	require.NoError(t, err)

	_, err = f.service.Get(context.Background(), f.tenant, payment.Reference)
	require.NoError(t, err)

	// The other tenant sees not-found, never forbidden.
	_, err = f.service.Get(context.Background(), other, payment.Reference)
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	payments, total, err := f.service.List(context.Background(), other, storage.PaymentFilter{})
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.Zero(t, total)
}

func TestInboundChargeSuccess(t *testing.T) {
	f := newFixture(t)
	payment, err := f.service.Initiate(context.Background(), f.initiateInput())
	require.NoError(t, err)

	err = f.service.ProcessInboundEvent(context.Background(), paystack.Event{
		Event: paystack.EventChargeSuccess,
		Data: paystack.EventData{
			ID:        4099260516,
			Reference: payment.Reference,
			Amount:    100000,
			Fees:      3500,
			Channel:   "card",
			Status:    "success",
		},
	})
	require.NoError(t, err)

	stored, err := f.store.GetPayment(context.Background(), payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusSuccess, stored.Status)
	assert.Equal(t, "card", stored.Channel)
	assert.Equal(t, "35.00", stored.Fees.StringFixed(2))
	assert.Equal(t, []string{"payment.success"}, f.notifier.Events())
	assert.Zero(t, f.processor.verifyCalls, "inbound events carry their own data")
}

func TestInboundUnknownReferenceIsDropped(t *testing.T) {
	f := newFixture(t)
	err := f.service.ProcessInboundEvent(context.Background(), paystack.Event{
		Event: paystack.EventChargeSuccess,
		Data:  paystack.EventData{Reference: "acoruss-missing00000"},
	})
	assert.NoError(t, err)
	assert.Empty(t, f.notifier.Events())
}

func TestInboundRefundProcessed(t *testing.T) {
	f := newFixture(t)
	payment := succeededPayment(t, f, "1000.00")

	data := paystack.EventData{ID: 302455, Amount: 50000, Status: "processed"}
	data.Transaction.Reference = payment.Reference
	err := f.service.ProcessInboundEvent(context.Background(), paystack.Event{
		Event: paystack.EventRefundProcessed,
		Data:  data,
	})
	require.NoError(t, err)

	stored, err := f.store.GetPayment(context.Background(), payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, "500.00", stored.RefundedAmount.StringFixed(2))
	assert.Equal(t, storage.RefundPartial, stored.RefundStatus)
	assert.Equal(t, "302455", stored.ProcessorRefundID)
	assert.Equal(t, []string{"payment.success", "payment.refunded"}, f.notifier.Events())
}

func TestInboundIgnoredEvent(t *testing.T) {
	f := newFixture(t)
	err := f.service.ProcessInboundEvent(context.Background(), paystack.Event{Event: "transfer.success"})
	assert.NoError(t, err)
	assert.Empty(t, f.notifier.Events())
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"email": "email is required"}}
	assert.True(t, errors.As(error(err), new(*ValidationError)))
	assert.Contains(t, err.Error(), "email")
}
