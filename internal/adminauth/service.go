package adminauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/email"
	"github.com/mathsnotes/server/internal/logger"
)

var (
	// ErrNotAdmin is returned for addresses outside the admin list.
	ErrNotAdmin = errors.New("adminauth: not an admin")

	// ErrMissingToken is returned when the login link carries no token.
	ErrMissingToken = errors.New("adminauth: missing token")
)

// Reason maps a CompleteLogin error to the code shown on the login page.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrNotAdmin):
		return "unauthorized"
	case errors.Is(err, ErrNonceUsed):
		return "token_used"
	default:
		return "invalid_token"
	}
}

// Service runs the magic-link flow.
type Service struct {
	admin   config.AdminConfig
	baseURL string
	tokens  *Tokens
	nonces  NonceStore
	mailer  email.Mailer
	now     func() time.Time
}

// NewService wires the login flow. baseURL is the public origin plus the API
// route prefix, e.g. "https://notes.example.com/api".
func NewService(admin config.AdminConfig, baseURL string, tokens *Tokens, nonces NonceStore, mailer email.Mailer) *Service {
	if admin.CookieName == "" {
		admin.CookieName = "admin_session"
	}
	return &Service{
		admin:   admin,
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		nonces:  nonces,
		mailer:  mailer,
		now:     time.Now,
	}
}

// IsAdmin reports whether addr may sign in.
func (s *Service) IsAdmin(addr string) bool {
	return s.admin.IsAdminEmail(addr)
}

// RequestLogin emails a magic link to an admin address.
func (s *Service) RequestLogin(ctx context.Context, addr string) error {
	log := logger.FromContext(ctx)
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !s.IsAdmin(addr) {
		log.Warn().Str("email", logger.RedactEmail(addr)).Msg("adminauth.login_refused")
		return ErrNotAdmin
	}

	token, _, err := s.tokens.IssueMagicLink(addr)
	if err != nil {
		return fmt.Errorf("adminauth: sign link: %w", err)
	}
	msg, err := email.RenderMagicLink(email.MagicLinkEmail{
		To:        addr,
		Link:      s.baseURL + "/auth/verify?token=" + url.QueryEscape(token),
		ExpiresIn: s.tokens.MagicLinkTTL(),
	}, s.now())
	if err != nil {
		return fmt.Errorf("adminauth: render link: %w", err)
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("adminauth: send link: %w", err)
	}
	log.Info().Str("email", logger.RedactEmail(addr)).Msg("adminauth.link_sent")
	return nil
}

// CompleteLogin exchanges a magic link token for a session token. The link's
// nonce is consumed so the link works once.
func (s *Service) CompleteLogin(ctx context.Context, raw string) (session, addr string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrMissingToken
	}
	claims, err := s.tokens.Verify(raw, TypeMagicLink)
	if err != nil {
		return "", "", err
	}
	if !s.IsAdmin(claims.Email) {
		return "", "", ErrNotAdmin
	}
	if err := s.nonces.Consume(ctx, claims.Nonce); err != nil {
		return "", "", err
	}
	session, err = s.tokens.IssueSession(claims.Email)
	if err != nil {
		return "", "", fmt.Errorf("adminauth: sign session: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("email", logger.RedactEmail(claims.Email)).Msg("adminauth.signed_in")
	return session, claims.Email, nil
}

// Authenticate validates a session token and returns the admin address.
func (s *Service) Authenticate(raw string) (string, error) {
	if raw == "" {
		return "", ErrMissingToken
	}
	claims, err := s.tokens.Verify(raw, TypeSession)
	if err != nil {
		return "", err
	}
	if !s.IsAdmin(claims.Email) {
		return "", ErrNotAdmin
	}
	return claims.Email, nil
}
