// Package payments is the payment lifecycle engine: validation,
// idempotent initiation, verification transitions, refunds, and
// handling of verified processor events.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/acoruss/gateway/internal/metrics"
	"github.com/acoruss/gateway/internal/mint"
	"github.com/acoruss/gateway/internal/paystack"
	"github.com/acoruss/gateway/internal/storage"
	"github.com/acoruss/gateway/internal/webhooks"
)

// ErrUpstreamFailure reports that the processor rejected or never
// received a call. Handlers translate it to 502; the payment's state is
// whatever it was before the call.
var ErrUpstreamFailure = errors.New("payments: upstream processor failure")

// ErrPaymentNotFound covers both unknown references and references owned
// by another tenant, so handlers cannot distinguish the two.
var ErrPaymentNotFound = errors.New("payments: payment not found")

// ErrNotRefundable is returned when the refundability predicate fails.
var ErrNotRefundable = errors.New("payments: payment is not refundable")

// ValidationError carries a field-keyed message map for 400 responses.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "payments: validation failed: " + strings.Join(parts, "; ")
}

// Processor is the slice of the upstream client the engine uses.
type Processor interface {
	Initiate(ctx context.Context, req paystack.InitiateRequest) paystack.InitiateResponse
	Verify(ctx context.Context, reference string) paystack.VerifyResponse
	Refund(ctx context.Context, req paystack.RefundRequest) paystack.RefundResponse
}

// Notifier dispatches outbound tenant webhooks. Delivery is
// fire-and-forget from the engine's perspective.
type Notifier interface {
	Dispatch(tenant storage.Tenant, payment storage.Payment, event string)
}

// Service orchestrates payment state against the store and the processor.
type Service struct {
	store     storage.Store
	processor Processor
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	// verifyCallbackURL is where the processor redirects users after
	// checkout. The tenant's own callback is honoured only on the
	// second redirect, after verification.
	verifyCallbackURL string
}

// NewService wires the engine.
func NewService(store storage.Store, processor Processor, notifier Notifier, metricsCollector *metrics.Metrics, siteURL string, logger zerolog.Logger) *Service {
	return &Service{
		store:             store,
		processor:         processor,
		notifier:          notifier,
		metrics:           metricsCollector,
		logger:            logger.With().Str("component", "payments").Logger(),
		verifyCallbackURL: strings.TrimRight(siteURL, "/") + "/payments/verify/",
	}
}

// InitiateInput is the validated-at-the-edge request for a new payment.
type InitiateInput struct {
	Tenant           storage.Tenant
	Email            string
	Name             string
	Amount           decimal.Decimal
	Currency         string
	Description      string
	ServiceReference string
	CallbackURL      string
	IdempotencyKey   string
	Metadata         map[string]any
	ClientIP         string
}

// Initiate creates a payment and asks the processor for a checkout URL.
//
// If the idempotency key was seen before, the existing payment is
// returned and upstream is not contacted. If upstream fails, the payment
// is persisted as pending with no authorization URL and ErrUpstreamFailure
// is returned alongside it.
func (s *Service) Initiate(ctx context.Context, input InitiateInput) (storage.Payment, error) {
	if err := s.validateInitiate(input); err != nil {
		return storage.Payment{}, err
	}

	if input.IdempotencyKey != "" {
		existing, err := s.store.GetPaymentByIdempotencyKey(ctx, input.Tenant.ID, input.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.Payment{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	callbackURL := input.CallbackURL
	if callbackURL == "" {
		callbackURL = input.Tenant.DefaultCallbackURL
	}

	payment := storage.Payment{
		TenantID:         input.Tenant.ID,
		ServiceReference: input.ServiceReference,
		IdempotencyKey:   input.IdempotencyKey,
		Email:            input.Email,
		Name:             input.Name,
		Amount:           input.Amount,
		Currency:         input.Currency,
		Description:      input.Description,
		Status:           storage.StatusPending,
		RefundStatus:     storage.RefundNone,
		CallbackURL:      callbackURL,
		ClientIP:         input.ClientIP,
		Metadata:         input.Metadata,
	}

	// The reference collision retry loop. A duplicate idempotency key
	// means a concurrent identical request won the insert; return its row.
	for {
		payment.Reference = mint.Reference()
		err := s.store.CreatePayment(ctx, payment)
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrDuplicateReference) {
			continue
		}
		if errors.Is(err, storage.ErrDuplicateIdempotencyKey) {
			existing, lookupErr := s.store.GetPaymentByIdempotencyKey(ctx, input.Tenant.ID, input.IdempotencyKey)
			if lookupErr != nil {
				return storage.Payment{}, fmt.Errorf("idempotency re-read: %w", lookupErr)
			}
			return existing, nil
		}
		return storage.Payment{}, fmt.Errorf("create payment: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveInitiation(payment.Currency)
	}

	resp := s.processor.Initiate(ctx, paystack.InitiateRequest{
		Email:       payment.Email,
		Amount:      payment.AmountMinorUnits(),
		Currency:    payment.Currency,
		Reference:   payment.Reference,
		CallbackURL: s.verifyCallbackURL,
		Metadata:    payment.Metadata,
	})
	if !resp.Status {
		s.logger.Warn().
			Str("reference", payment.Reference).
			Str("message", resp.Message).
			Msg("upstream initiation failed")
		return payment, ErrUpstreamFailure
	}

	if err := s.store.SetAuthorizationURL(ctx, payment.Reference, resp.Data.AuthorizationURL); err != nil {
		return storage.Payment{}, fmt.Errorf("store authorization url: %w", err)
	}
	payment.AuthorizationURL = resp.Data.AuthorizationURL

	s.logger.Info().
		Str("reference", payment.Reference).
		Str("tenant_id", payment.TenantID).
		Str("currency", payment.Currency).
		Msg("payment initiated")
	return payment, nil
}

func (s *Service) validateInitiate(input InitiateInput) error {
	fields := make(map[string]string)

	if strings.TrimSpace(input.Email) == "" {
		fields["email"] = "email is required"
	}
	if !input.Amount.IsPositive() {
		fields["amount"] = "amount must be greater than zero"
	} else if !input.Amount.Equal(input.Amount.Round(2)) {
		fields["amount"] = "amount supports at most 2 decimal places"
	}

	if !currencySupported(input.Currency) {
		fields["currency"] = "currency must be one of " + strings.Join(storage.SupportedCurrencies, ", ")
	} else if !input.Tenant.CurrencyAllowed(input.Currency) {
		fields["currency"] = "currency not allowed for this tenant"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func currencySupported(currency string) bool {
	for _, c := range storage.SupportedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// Verify asks the processor for the authoritative transaction state and
// applies the resulting transition. It is idempotent: a settled payment
// is returned unchanged and no duplicate webhooks are emitted.
func (s *Service) Verify(ctx context.Context, reference string) (storage.Payment, error) {
	payment, err := s.store.GetPayment(ctx, reference)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Payment{}, ErrPaymentNotFound
		}
		return storage.Payment{}, fmt.Errorf("load payment: %w", err)
	}
	if payment.Status != storage.StatusPending {
		return payment, nil
	}

	resp := s.processor.Verify(ctx, reference)
	if !resp.Status {
		s.logger.Warn().
			Str("reference", reference).
			Str("message", resp.Message).
			Msg("upstream verification failed")
		return payment, ErrUpstreamFailure
	}

	switch resp.Data.Status {
	case "success":
		details := storage.SuccessDetails{
			ProcessorTransactionID: strconv.FormatInt(resp.Data.ID, 10),
			Channel:                resp.Data.Channel,
			Fees:                   minorToDecimal(resp.Data.Fees),
		}
		return s.applySuccess(ctx, payment, details)
	case "abandoned":
		return s.applyTerminal(ctx, payment, storage.StatusAbandoned)
	default:
		return s.applyTerminal(ctx, payment, storage.StatusFailed)
	}
}

// applySuccess performs the conditional pending -> success transition.
// Only the racer that wins the update dispatches the webhook.
func (s *Service) applySuccess(ctx context.Context, payment storage.Payment, details storage.SuccessDetails) (storage.Payment, error) {
	applied, err := s.store.MarkPaymentSucceeded(ctx, payment.Reference, details)
	if err != nil {
		return storage.Payment{}, fmt.Errorf("mark succeeded: %w", err)
	}

	updated, err := s.store.GetPayment(ctx, payment.Reference)
	if err != nil {
		return storage.Payment{}, fmt.Errorf("reload payment: %w", err)
	}
	if !applied {
		return updated, nil
	}

	if s.metrics != nil {
		s.metrics.ObservePaymentOutcome(updated.Currency, string(updated.Status), updated.Channel, updated.AmountMinorUnits())
	}
	s.logger.Info().
		Str("reference", updated.Reference).
		Str("channel", updated.Channel).
		Msg("payment succeeded")

	s.dispatchToOwner(ctx, updated, webhooks.EventPaymentSuccess)
	return updated, nil
}

func (s *Service) applyTerminal(ctx context.Context, payment storage.Payment, status storage.PaymentStatus) (storage.Payment, error) {
	applied, err := s.store.MarkPaymentTerminal(ctx, payment.Reference, status)
	if err != nil {
		return storage.Payment{}, fmt.Errorf("mark terminal: %w", err)
	}
	updated, err := s.store.GetPayment(ctx, payment.Reference)
	if err != nil {
		return storage.Payment{}, fmt.Errorf("reload payment: %w", err)
	}
	if applied {
		if s.metrics != nil {
			s.metrics.ObservePaymentOutcome(updated.Currency, string(updated.Status), updated.Channel, updated.AmountMinorUnits())
		}
		s.logger.Info().
			Str("reference", updated.Reference).
			Str("status", string(status)).
			Msg("payment closed")
	}
	return updated, nil
}

// dispatchToOwner sends an event if the payment belongs to a tenant.
// Direct payments have no owner and produce no outbound webhooks.
func (s *Service) dispatchToOwner(ctx context.Context, payment storage.Payment, event string) {
	if payment.TenantID == "" || s.notifier == nil {
		return
	}
	tenant, err := s.store.GetTenantByID(ctx, payment.TenantID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("reference", payment.Reference).
			Str("tenant_id", payment.TenantID).
			Msg("load tenant for dispatch")
		return
	}
	s.notifier.Dispatch(tenant, payment, event)
}

// RefundInput requests a refund. A nil Amount means full refund.
type RefundInput struct {
	Tenant    storage.Tenant
	Reference string
	Amount    *decimal.Decimal
	Reason    string
}

// Refund validates refundability and asks the processor to return funds.
// Upstream failure leaves the payment untouched.
func (s *Service) Refund(ctx context.Context, input RefundInput) (storage.Payment, error) {
	payment, err := s.Get(ctx, input.Tenant, input.Reference)
	if err != nil {
		return storage.Payment{}, err
	}

	if !payment.IsRefundable() {
		return storage.Payment{}, ErrNotRefundable
	}

	refundable := payment.RefundableAmount()
	amount := refundable
	if input.Amount != nil {
		amount = *input.Amount
		if !amount.IsPositive() {
			return storage.Payment{}, &ValidationError{Fields: map[string]string{
				"amount": "refund amount must be greater than zero",
			}}
		}
		if amount.GreaterThan(refundable) {
			return storage.Payment{}, &ValidationError{Fields: map[string]string{
				"amount": "refund amount exceeds the refundable balance",
			}}
		}
	}

	minor := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	resp := s.processor.Refund(ctx, paystack.RefundRequest{
		Transaction:  payment.Reference,
		Amount:       &minor,
		MerchantNote: input.Reason,
	})
	if !resp.Status {
		if s.metrics != nil {
			s.metrics.ObserveRefund("failed", payment.Currency, minor)
		}
		s.logger.Warn().
			Str("reference", payment.Reference).
			Str("message", resp.Message).
			Msg("upstream refund failed")
		return storage.Payment{}, ErrUpstreamFailure
	}

	refunded := payment.RefundedAmount.Add(minorToDecimal(resp.Data.Amount))
	status := storage.RefundPartial
	if refunded.GreaterThanOrEqual(payment.Amount) {
		status = storage.RefundFull
	}
	update := storage.RefundUpdate{
		RefundedAmount:    refunded,
		RefundStatus:      status,
		ProcessorRefundID: strconv.FormatInt(resp.Data.ID, 10),
	}
	if err := s.store.ApplyRefund(ctx, payment.Reference, update); err != nil {
		return storage.Payment{}, fmt.Errorf("apply refund: %w", err)
	}

	updated, err := s.store.GetPayment(ctx, payment.Reference)
	if err != nil {
		return storage.Payment{}, fmt.Errorf("reload payment: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveRefund(string(status), updated.Currency, resp.Data.Amount)
	}
	s.logger.Info().
		Str("reference", updated.Reference).
		Str("refund_status", string(status)).
		Msg("refund applied")

	s.dispatchToOwner(ctx, updated, webhooks.EventPaymentRefunded)
	return updated, nil
}

// Get returns a payment scoped to the tenant. Cross-tenant references
// are indistinguishable from unknown ones.
func (s *Service) Get(ctx context.Context, tenant storage.Tenant, reference string) (storage.Payment, error) {
	payment, err := s.store.GetPayment(ctx, reference)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Payment{}, ErrPaymentNotFound
		}
		return storage.Payment{}, fmt.Errorf("load payment: %w", err)
	}
	if payment.TenantID != tenant.ID {
		return storage.Payment{}, ErrPaymentNotFound
	}
	return payment, nil
}

// List pages the tenant's payments.
func (s *Service) List(ctx context.Context, tenant storage.Tenant, filter storage.PaymentFilter) ([]storage.Payment, int64, error) {
	return s.store.ListPayments(ctx, tenant.ID, filter)
}

// ProcessInboundEvent applies a signature-verified processor event.
// Unknown references and unrecognised events are logged and dropped;
// errors are reserved for store failures.
func (s *Service) ProcessInboundEvent(ctx context.Context, event paystack.Event) error {
	switch event.Event {
	case paystack.EventChargeSuccess:
		return s.handleChargeSuccess(ctx, event.Data)
	case paystack.EventRefundProcessed:
		return s.handleRefundProcessed(ctx, event.Data)
	default:
		s.logger.Debug().Str("event", event.Event).Msg("ignoring inbound event")
		return nil
	}
}

func (s *Service) handleChargeSuccess(ctx context.Context, data paystack.EventData) error {
	payment, err := s.store.GetPayment(ctx, data.Reference)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Str("reference", data.Reference).Msg("charge.success for unknown reference")
			return nil
		}
		return fmt.Errorf("load payment: %w", err)
	}

	details := storage.SuccessDetails{
		ProcessorTransactionID: strconv.FormatInt(data.ID, 10),
		Channel:                data.Channel,
		Fees:                   minorToDecimal(data.Fees),
	}
	_, err = s.applySuccess(ctx, payment, details)
	return err
}

func (s *Service) handleRefundProcessed(ctx context.Context, data paystack.EventData) error {
	reference := data.Transaction.Reference
	payment, err := s.store.GetPayment(ctx, reference)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Str("reference", reference).Msg("refund.processed for unknown reference")
			return nil
		}
		return fmt.Errorf("load payment: %w", err)
	}

	// The event reports the cumulative refunded amount, not a delta.
	refunded := minorToDecimal(data.Amount)
	update := storage.RefundUpdate{
		RefundedAmount:    refunded,
		RefundStatus:      payment.RefundStatusFor(refunded),
		ProcessorRefundID: strconv.FormatInt(data.ID, 10),
	}
	if err := s.store.ApplyRefund(ctx, reference, update); err != nil {
		return fmt.Errorf("apply refund: %w", err)
	}

	updated, err := s.store.GetPayment(ctx, reference)
	if err != nil {
		return fmt.Errorf("reload payment: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveRefund(string(update.RefundStatus), updated.Currency, data.Amount)
	}
	s.dispatchToOwner(ctx, updated, webhooks.EventPaymentRefunded)
	return nil
}

func minorToDecimal(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}
