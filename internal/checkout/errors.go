package checkout

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every ValidationError.
	ErrValidation = errors.New("checkout: invalid request")

	// ErrRateLimited matches every RateLimitedError.
	ErrRateLimited = errors.New("checkout: too many requests")

	// ErrEmailDelivery is returned when the verification code email could not be sent.
	ErrEmailDelivery = errors.New("checkout: failed to send verification email")

	// ErrPaymentProcessor matches every PaymentProcessorError.
	ErrPaymentProcessor = errors.New("checkout: payment processor error")

	// ErrDirectTriggerDisabled is returned by ConfirmClientPayment when only the
	// webhook may fulfill.
	ErrDirectTriggerDisabled = errors.New("checkout: direct fulfillment is disabled")

	// ErrPaymentIncomplete is returned when a confirmed intent has not succeeded.
	ErrPaymentIncomplete = errors.New("checkout: payment has not completed")
)

// ValidationError describes a malformed request. Message is safe to show.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// RateLimitedError carries the retry hint for a rejected request.
type RateLimitedError struct {
	Operation  string
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many %s attempts, try again in %d seconds", e.Operation, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// PaymentProcessorError wraps a failure from the payment processor.
type PaymentProcessorError struct {
	Err error
}

func (e *PaymentProcessorError) Error() string {
	return "checkout: payment processor: " + e.Err.Error()
}

func (e *PaymentProcessorError) Unwrap() error {
	return e.Err
}

func (e *PaymentProcessorError) Is(target error) bool {
	return target == ErrPaymentProcessor
}
