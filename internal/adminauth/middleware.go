package adminauth

import (
	"context"
	"net/http"

	apierrors "github.com/mathsnotes/server/internal/errors"
	"github.com/mathsnotes/server/internal/logger"
)

type contextKey struct{}

// AdminFromContext returns the signed-in admin set by RequireSession.
func AdminFromContext(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(contextKey{}).(string)
	return addr, ok && addr != ""
}

// SessionEmail authenticates the request's session cookie.
func (s *Service) SessionEmail(r *http.Request) (string, error) {
	c, err := r.Cookie(s.admin.CookieName)
	if err != nil {
		return "", ErrMissingToken
	}
	return s.Authenticate(c.Value)
}

// RequireSession rejects requests without a valid admin session with 401.
func (s *Service) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := s.SessionEmail(r)
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Debug().Err(err).Msg("adminauth.session_rejected")
			apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, addr)))
	})
}

// SetSessionCookie stores session as an HttpOnly cookie.
func (s *Service) SetSessionCookie(w http.ResponseWriter, session string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.admin.CookieName,
		Value:    session,
		Path:     "/",
		MaxAge:   int(s.tokens.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.admin.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func (s *Service) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.admin.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.admin.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
