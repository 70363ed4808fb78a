package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusSuccess   PaymentStatus = "success"
	StatusFailed    PaymentStatus = "failed"
	StatusAbandoned PaymentStatus = "abandoned"
)

// RefundStatus tracks cumulative refund progress independently of PaymentStatus.
type RefundStatus string

const (
	RefundNone    RefundStatus = "none"
	RefundPending RefundStatus = "pending"
	RefundPartial RefundStatus = "partial"
	RefundFull    RefundStatus = "full"
	RefundFailed  RefundStatus = "failed"
)

// SupportedCurrencies is the gateway-wide currency whitelist.
// Tenants may narrow it further via AllowedCurrencies.
var SupportedCurrencies = []string{"KES", "USD", "NGN"}

// Tenant is a registered external service collecting money through the gateway.
// The API secret only signs outbound webhooks; it is never accepted from callers.
type Tenant struct {
	ID                 string
	Slug               string
	Name               string
	APIKey             string
	APISecret          string
	IsActive           bool
	AllowedCurrencies  []string // Empty = all supported
	AllowedIPs         []string // Empty = unrestricted
	WebhookURL         string
	DefaultCallbackURL string
	ContactEmail       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CurrencyAllowed reports whether the tenant accepts the given currency.
func (t Tenant) CurrencyAllowed(currency string) bool {
	if len(t.AllowedCurrencies) == 0 {
		return true
	}
	for _, c := range t.AllowedCurrencies {
		if c == currency {
			return true
		}
	}
	return false
}

// IPAllowed reports whether the caller IP passes the tenant's allowlist.
func (t Tenant) IPAllowed(ip string) bool {
	if len(t.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range t.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

// Payment is one attempt to collect money from a user for a tenant.
// TenantID is empty for direct payments initiated through the operator's own page.
type Payment struct {
	Reference              string
	TenantID               string
	ServiceReference       string
	IdempotencyKey         string
	Email                  string
	Name                   string
	Amount                 decimal.Decimal
	Currency               string
	Fees                   decimal.Decimal
	RefundedAmount         decimal.Decimal
	Status                 PaymentStatus
	RefundStatus           RefundStatus
	Channel                string
	Description            string
	ProcessorTransactionID string
	ProcessorRefundID      string
	AuthorizationURL       string
	CallbackURL            string
	ClientIP               string
	Metadata               map[string]any
	WebhookDelivered       bool
	WebhookDeliveredAt     *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AmountMinorUnits returns round(amount * 100), the integer used by upstream APIs.
func (p Payment) AmountMinorUnits() int64 {
	return p.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// RefundableAmount is how much of the payment can still be refunded.
func (p Payment) RefundableAmount() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// IsRefundable reports whether a refund may be requested against this payment.
func (p Payment) IsRefundable() bool {
	if p.Status != StatusSuccess {
		return false
	}
	if p.RefundStatus != RefundNone && p.RefundStatus != RefundPartial {
		return false
	}
	return p.RefundableAmount().IsPositive()
}

// NetAmount is the amount minus processor fees.
func (p Payment) NetAmount() decimal.Decimal {
	return p.Amount.Sub(p.Fees)
}

// RefundStatusFor derives the refund status implied by a cumulative refunded amount.
func (p Payment) RefundStatusFor(refunded decimal.Decimal) RefundStatus {
	switch {
	case refunded.GreaterThanOrEqual(p.Amount):
		return RefundFull
	case refunded.IsPositive():
		return RefundPartial
	default:
		return RefundNone
	}
}

// WebhookDeliveryLog is the append-only audit record of one outbound delivery attempt.
type WebhookDeliveryLog struct {
	ID               string
	TenantID         string
	PaymentReference string
	URL              string
	Event            string
	RequestHeaders   map[string]string
	RequestBody      string
	ResponseStatus   int
	ResponseBody     string // Truncated to 2000 chars by the dispatcher
	Attempt          int    // 1-based
	Success          bool
	Error            string // Transport failure message, truncated to 500 chars
	DurationMS       int64
	CreatedAt        time.Time
}

// PaymentFilter narrows and pages a tenant's payment listing.
type PaymentFilter struct {
	Status  PaymentStatus // Empty = all
	Email   string        // Empty = all
	Page    int           // 1-based
	PerPage int
}

// SuccessDetails carries the upstream-reported fields applied on the success transition.
type SuccessDetails struct {
	ProcessorTransactionID string
	Channel                string
	Fees                   decimal.Decimal
}

// RefundUpdate carries the fields applied after an upstream-confirmed refund.
type RefundUpdate struct {
	RefundedAmount    decimal.Decimal
	RefundStatus      RefundStatus
	ProcessorRefundID string
}
