package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// Authentication / authorisation errors
const (
	ErrCodeMissingAuthHeader ErrorCode = "missing_auth_header"
	ErrCodeInvalidAPIKey     ErrorCode = "invalid_api_key"
	ErrCodeIPNotAllowed      ErrorCode = "ip_not_allowed"
	ErrCodeRateLimited       ErrorCode = "rate_limit_exceeded"
)

// Validation errors (request input validation)
const (
	ErrCodeValidation      ErrorCode = "validation_error"
	ErrCodeMissingField    ErrorCode = "missing_field"
	ErrCodeInvalidField    ErrorCode = "invalid_field"
	ErrCodeInvalidAmount   ErrorCode = "invalid_amount"
	ErrCodeInvalidCurrency ErrorCode = "invalid_currency"
	ErrCodeNotRefundable   ErrorCode = "not_refundable"
)

// Resource/state errors
const (
	ErrCodePaymentNotFound ErrorCode = "payment_not_found"
	ErrCodeTenantNotFound  ErrorCode = "tenant_not_found"
)

// Webhook signature errors
const (
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
)

// External service errors
const (
	ErrCodeUpstreamError ErrorCode = "upstream_error"
	ErrCodeNetworkError  ErrorCode = "network_error"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient network/service issues, not validation failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeUpstreamError,
		ErrCodeNetworkError,
		ErrCodeDatabaseError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - client validation errors
	case ErrCodeValidation,
		ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeInvalidCurrency,
		ErrCodeNotRefundable,
		ErrCodeInvalidSignature:
		return 400

	// 401 Unauthorized - authentication failures
	case ErrCodeMissingAuthHeader,
		ErrCodeInvalidAPIKey:
		return 401

	// 403 Forbidden - authorisation failures
	case ErrCodeIPNotAllowed:
		return 403

	// 404 Not Found - resource not found (cross-tenant reads included)
	case ErrCodePaymentNotFound,
		ErrCodeTenantNotFound:
		return 404

	// 429 Too Many Requests
	case ErrCodeRateLimited:
		return 429

	// 502 Bad Gateway - upstream processor failures
	case ErrCodeUpstreamError,
		ErrCodeNetworkError:
		return 502

	// 500 Internal Server Error - system/internal errors
	default:
		return 500
	}
}
