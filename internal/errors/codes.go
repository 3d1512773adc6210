package errors

// ErrorCode represents a machine-readable error identifier for frontend error handling.
type ErrorCode string

// Request validation
const (
	ErrCodeValidation      ErrorCode = "validation_error"
	ErrCodeInvalidEmail    ErrorCode = "invalid_email"
	ErrCodePayloadTooLarge ErrorCode = "payload_too_large"
	ErrCodeUnsupportedType ErrorCode = "unsupported_file_type"
)

// Abuse control
const (
	ErrCodeRateLimited ErrorCode = "rate_limited"
)

// Verification code state. The client re-requests a code on any of these.
const (
	ErrCodeCodeNotFound     ErrorCode = "code_not_found"
	ErrCodeCodeExpired      ErrorCode = "code_expired"
	ErrCodeCodeAlreadyUsed  ErrorCode = "code_already_used"
	ErrCodeCartMismatch     ErrorCode = "cart_mismatch"
	ErrCodeTooManyAttempts  ErrorCode = "too_many_attempts"
	ErrCodeInvalidCode      ErrorCode = "invalid_code"
	ErrCodeDirectTriggerOff ErrorCode = "direct_fulfillment_disabled"
)

// Cart integrity. The client refreshes its cart on these.
const (
	ErrCodePriceMismatch ErrorCode = "price_mismatch"
	ErrCodeUnknownItem   ErrorCode = "unknown_item"
)

// Authentication and authorization
const (
	ErrCodeInvalidSignature ErrorCode = "invalid_signature"
	ErrCodeUnauthorized     ErrorCode = "unauthorized"
	ErrCodeForbidden        ErrorCode = "forbidden"
)

// Resources
const (
	ErrCodeNotFound ErrorCode = "not_found"
)

// Collaborators
const (
	ErrCodePaymentProcessor   ErrorCode = "payment_processor_error"
	ErrCodePaymentIncomplete  ErrorCode = "payment_not_completed"
	ErrCodeStorage            ErrorCode = "storage_error"
	ErrCodeEmail              ErrorCode = "email_error"
	ErrCodeServiceUnavailable ErrorCode = "service_unavailable"
)

// Internal
const (
	ErrCodeInternal ErrorCode = "internal_error"
)

// IsRetryable reports whether the same request may succeed later without changes.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeRateLimited,
		ErrCodePaymentProcessor,
		ErrCodeStorage,
		ErrCodeEmail,
		ErrCodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeValidation,
		ErrCodeInvalidEmail,
		ErrCodeUnsupportedType,
		ErrCodeCodeNotFound,
		ErrCodeCodeExpired,
		ErrCodeCodeAlreadyUsed,
		ErrCodeCartMismatch,
		ErrCodeTooManyAttempts,
		ErrCodeInvalidCode,
		ErrCodeInvalidSignature:
		return 400

	case ErrCodeUnauthorized:
		return 401

	case ErrCodePaymentIncomplete:
		return 402

	case ErrCodeForbidden, ErrCodeDirectTriggerOff:
		return 403

	case ErrCodeNotFound:
		return 404

	case ErrCodePriceMismatch, ErrCodeUnknownItem:
		return 409

	case ErrCodePayloadTooLarge:
		return 413

	case ErrCodeRateLimited:
		return 429

	case ErrCodePaymentProcessor, ErrCodeStorage, ErrCodeEmail:
		return 502

	case ErrCodeServiceUnavailable:
		return 503

	default:
		return 500
	}
}
