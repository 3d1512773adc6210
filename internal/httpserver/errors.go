package httpserver

import (
	"errors"
	"net/http"

	"github.com/mathsnotes/server/internal/checkout"
	apierrors "github.com/mathsnotes/server/internal/errors"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/internal/otp"
	"github.com/mathsnotes/server/internal/pricing"
)

var otpCodes = []struct {
	err  error
	code apierrors.ErrorCode
}{
	{otp.ErrCartMismatch, apierrors.ErrCodeCartMismatch},
	{otp.ErrTooManyAttempts, apierrors.ErrCodeTooManyAttempts},
	{otp.ErrExpired, apierrors.ErrCodeCodeExpired},
	{otp.ErrAlreadyUsed, apierrors.ErrCodeCodeAlreadyUsed},
	{otp.ErrInvalidCode, apierrors.ErrCodeInvalidCode},
	{otp.ErrNotFound, apierrors.ErrCodeCodeNotFound},
}

// writeCheckoutError maps checkout service errors onto the error envelope.
// Messages from unexpected errors never reach the client.
func writeCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var (
		validation  *checkout.ValidationError
		limited     *checkout.RateLimitedError
		unknown     *pricing.UnknownItemError
		mismatch    *pricing.MismatchError
		processor   *checkout.PaymentProcessorError
	)

	switch {
	case errors.As(err, &validation):
		code := apierrors.ErrCodeValidation
		if validation.Field == "email" {
			code = apierrors.ErrCodeInvalidEmail
		}
		apierrors.WriteSimpleError(w, code, validation.Message)
		return
	case errors.As(err, &limited):
		apierrors.WriteRateLimited(w, limited.Error(), limited.RetryAfter)
		return
	case errors.As(err, &unknown):
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeUnknownItem, "Item is no longer available", "key", unknown.Key)
		return
	case errors.As(err, &mismatch):
		log.Warn().
			Float64("declared", mismatch.Declared).
			Float64("authoritative", mismatch.Authoritative).
			Msg("checkout.price_mismatch")
		apierrors.WriteSimpleError(w, apierrors.ErrCodePriceMismatch, "Cart total does not match current prices, refresh and try again")
		return
	case errors.Is(err, checkout.ErrEmailDelivery):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeEmail, "Failed to send verification email")
		return
	case errors.As(err, &processor):
		log.Error().Err(processor.Err).Msg("checkout.payment_processor_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentProcessor, "Payment could not be started, please request a new code")
		return
	case errors.Is(err, checkout.ErrDirectTriggerDisabled):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDirectTriggerOff, "Downloads are delivered by email once payment clears")
		return
	case errors.Is(err, checkout.ErrPaymentIncomplete):
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentIncomplete, "Payment has not completed")
		return
	}

	for _, c := range otpCodes {
		if errors.Is(err, c.err) {
			apierrors.WriteSimpleError(w, c.code, otpMessage(c.code))
			return
		}
	}

	log.Error().Err(err).Msg("checkout.internal_error")
	apierrors.WriteSimpleError(w, apierrors.ErrCodeInternal, "Something went wrong, please try again")
}

func otpMessage(code apierrors.ErrorCode) string {
	switch code {
	case apierrors.ErrCodeCartMismatch:
		return "Cart was modified, request a new verification code"
	case apierrors.ErrCodeTooManyAttempts:
		return "Too many failed attempts, request a new code"
	case apierrors.ErrCodeCodeExpired:
		return "Verification code expired"
	case apierrors.ErrCodeCodeAlreadyUsed:
		return "Verification code already used"
	case apierrors.ErrCodeInvalidCode:
		return "Invalid verification code"
	default:
		return "No verification code found, request a new one"
	}
}
