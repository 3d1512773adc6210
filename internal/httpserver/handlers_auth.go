package httpserver

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/mathsnotes/server/internal/adminauth"
	"github.com/mathsnotes/server/internal/checkout"
	apierrors "github.com/mathsnotes/server/internal/errors"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/pkg/responders"
)

type loginRequest struct {
	Email string `json:"email" validate:"required,max=254"`
}

// login handles POST /api/auth/login by emailing a magic link.
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if !checkout.ValidEmail(req.Email) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidEmail, "Invalid email address")
		return
	}
	if h.deps.Limiter != nil {
		decision, err := h.loginPolicy.Allow(r.Context(), h.deps.Limiter, r)
		if err != nil {
			log.Warn().Err(err).Msg("auth.rate_limit_unavailable")
		} else if !decision.Allowed {
			apierrors.WriteRateLimited(w, "Too many sign-in attempts, try again later", decision.RetryAfter)
			return
		}
	}

	if err := h.deps.Admin.RequestLogin(r.Context(), req.Email); err != nil {
		if errors.Is(err, adminauth.ErrNotAdmin) {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeForbidden, "This address is not an administrator")
			return
		}
		log.Error().Err(err).Msg("auth.login_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeEmail, "Failed to send sign-in link")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"success": true, "message": "Check your email for a sign-in link"})
}

// verifyLogin handles GET /api/auth/verify, the magic link target. It always
// redirects back to the admin UI.
func (h *handlers) verifyLogin(w http.ResponseWriter, r *http.Request) {
	session, _, err := h.deps.Admin.CompleteLogin(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Warn().Err(err).Msg("auth.verify_failed")
		http.Redirect(w, r, "/admin/login?error="+url.QueryEscape(adminauth.Reason(err)), http.StatusFound)
		return
	}
	h.deps.Admin.SetSessionCookie(w, session)
	http.Redirect(w, r, "/admin", http.StatusFound)
}

// checkSession handles GET /api/auth/check.
func (h *handlers) checkSession(w http.ResponseWriter, r *http.Request) {
	addr, err := h.deps.Admin.SessionEmail(r)
	if err != nil {
		responders.NoStore(w, http.StatusUnauthorized, map[string]bool{"authenticated": false})
		return
	}
	responders.NoStore(w, http.StatusOK, map[string]any{"authenticated": true, "email": addr})
}

// logout handles POST /api/auth/logout.
func (h *handlers) logout(w http.ResponseWriter, _ *http.Request) {
	h.deps.Admin.ClearSessionCookie(w)
	responders.JSON(w, http.StatusOK, map[string]bool{"success": true})
}
