package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mathsnotes/server/internal/cart"
	"github.com/mathsnotes/server/internal/checkout"
	apierrors "github.com/mathsnotes/server/internal/errors"
	"github.com/mathsnotes/server/internal/ratelimit"
	"github.com/mathsnotes/server/pkg/responders"
)

type sendOTPRequest struct {
	Email     string          `json:"email" validate:"required"`
	CartTotal *float64        `json:"cartTotal" validate:"required"`
	Items     []cart.WireItem `json:"items" validate:"required,min=1"`
}

type sendOTPResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	CartHash string `json:"cartHash"`
}

type verifyOTPRequest struct {
	Email    string          `json:"email" validate:"required"`
	Code     string          `json:"code" validate:"required"`
	CartHash string          `json:"cartHash" validate:"required"`
	Items    []cart.WireItem `json:"items" validate:"required,min=1"`
	Total    *float64        `json:"total" validate:"required"`
}

type verifyOTPResponse struct {
	Success         bool        `json:"success"`
	IsFree          bool        `json:"isFree,omitempty"`
	Items           []cart.Item `json:"items,omitempty"`
	ClientSecret    string      `json:"clientSecret,omitempty"`
	PaymentIntentID string      `json:"paymentIntentId,omitempty"`
}

type confirmRequest struct {
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
}

type confirmResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// writeDecodeError reports a body that failed decoding or tag validation.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodePayloadTooLarge, "Request body too large")
		return
	}
	apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, err.Error())
}

func writeCartError(w http.ResponseWriter, err error) {
	apierrors.WriteSimpleError(w, apierrors.ErrCodeValidation, strings.TrimPrefix(err.Error(), "cart: "))
}

// sendOTP handles POST /api/checkout/send-otp.
func (h *handlers) sendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	items, err := cart.FromWire(req.Items)
	if err != nil {
		writeCartError(w, err)
		return
	}

	res, err := h.deps.Checkout.IssueCode(r.Context(), checkout.IssueRequest{
		Email:     req.Email,
		CartTotal: *req.CartTotal,
		Items:     items,
		Client:    ratelimit.ClientID(r),
	})
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}

	responders.JSON(w, http.StatusOK, sendOTPResponse{
		Success:  true,
		Message:  "Verification code sent to your email",
		CartHash: res.CartHash,
	})
}

// verifyOTP handles POST /api/checkout/verify-otp. A free cart is fulfilled
// immediately; a paid cart gets a PaymentIntent client secret.
func (h *handlers) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	items, err := cart.FromWire(req.Items)
	if err != nil {
		writeCartError(w, err)
		return
	}

	res, err := h.deps.Checkout.VerifyCode(r.Context(), checkout.VerifyRequest{
		Email:    req.Email,
		Code:     req.Code,
		CartHash: req.CartHash,
		Items:    items,
		Total:    *req.Total,
		Client:   ratelimit.ClientID(r),
	})
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}

	if res.IsFree {
		responders.NoStore(w, http.StatusOK, verifyOTPResponse{Success: true, IsFree: true, Items: res.Items})
		return
	}
	responders.NoStore(w, http.StatusOK, verifyOTPResponse{
		Success:         true,
		ClientSecret:    res.ClientSecret,
		PaymentIntentID: res.PaymentIntentID,
	})
}

// confirmPayment handles POST /api/checkout/confirm, the browser trigger used
// when direct fulfillment is enabled.
func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	res, err := h.deps.Checkout.ConfirmClientPayment(r.Context(), req.PaymentIntentID)
	if err != nil {
		writeCheckoutError(w, r, err)
		return
	}
	responders.JSON(w, http.StatusOK, confirmResponse{Success: true, Status: string(res.Outcome)})
}
