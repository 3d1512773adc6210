package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/mathsnotes/server/internal/checkout"
	"github.com/mathsnotes/server/internal/email"
	apierrors "github.com/mathsnotes/server/internal/errors"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/internal/storage"
	"github.com/mathsnotes/server/pkg/responders"
)

type resourceResponse struct {
	Key          string    `json:"key"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Price        float64   `json:"price"`
	Pages        string    `json:"pages,omitempty"`
	Topics       string    `json:"topics,omitempty"`
	FileType     string    `json:"fileType"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// listResources handles GET /api/resources.
func (h *handlers) listResources(w http.ResponseWriter, r *http.Request) {
	items, err := h.deps.Catalog.Items(r.Context())
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("resources.list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStorage, "Failed to load resources")
		return
	}

	out := make([]resourceResponse, 0, len(items))
	for _, it := range items {
		if !storage.IsSupported(it.Key) {
			continue
		}
		out = append(out, resourceResponse{
			Key:          it.Key,
			Title:        it.Title,
			Description:  it.Description,
			Price:        it.Price.Major(),
			Pages:        it.Pages,
			Topics:       it.Topics,
			FileType:     it.FileType,
			Size:         it.Size,
			LastModified: it.LastModified,
		})
	}
	responders.JSON(w, http.StatusOK, map[string]any{"resources": out})
}

type contactRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"required,max=254"`
	Subject string `json:"subject" validate:"max=200"`
	Message string `json:"message" validate:"required,max=5000"`
}

// contact handles POST /api/contact and relays the form to the first admin.
func (h *handlers) contact(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if !checkout.ValidEmail(req.Email) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidEmail, "Invalid email address")
		return
	}
	if len(h.cfg.Admin.Emails) == 0 || h.deps.Mailer == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeServiceUnavailable, "Contact form is not configured")
		return
	}
	if h.deps.Limiter != nil {
		decision, err := h.contactPolicy.Allow(r.Context(), h.deps.Limiter, r)
		if err != nil {
			log.Warn().Err(err).Msg("contact.rate_limit_unavailable")
		} else if !decision.Allowed {
			apierrors.WriteRateLimited(w, "Too many messages, try again later", decision.RetryAfter)
			return
		}
	}

	msg, err := email.RenderContact(email.ContactEmail{
		To:      h.cfg.Admin.Emails[0],
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Subject: strings.TrimSpace(req.Subject),
		Message: req.Message,
	}, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("contact.render_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternal, "Failed to send message")
		return
	}
	if err := h.deps.Mailer.Send(r.Context(), msg); err != nil {
		log.Error().Err(err).Msg("contact.send_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeEmail, "Failed to send message")
		return
	}

	log.Info().Str("from", logger.RedactEmail(req.Email)).Msg("contact.sent")
	responders.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "Message sent"})
}
