package httpserver

import (
	"errors"
	"io"
	"net/http"

	apierrors "github.com/mathsnotes/server/internal/errors"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/internal/webhooks"
	"github.com/mathsnotes/server/pkg/responders"
)

// maxWebhookBody matches the size limit the Stripe SDK documents for events.
const maxWebhookBody = 65536

// stripeWebhook handles POST /api/webhooks/stripe. Non-2xx answers make the
// processor redeliver.
func (h *handlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		log.Warn().Err(err).Msg("webhook.read_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodePayloadTooLarge, "Webhook payload too large")
		return
	}

	res, err := h.deps.Webhooks.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, webhooks.ErrInvalidSignature):
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidSignature, "Webhook signature verification failed")
		return
	case err != nil:
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternal, "Webhook processing failed")
		return
	}

	log.Debug().Str("event_id", res.EventID).Str("event_type", res.Type).Bool("handled", res.Handled).Msg("webhook.acknowledged")
	responders.JSON(w, http.StatusOK, map[string]bool{"received": true})
}
