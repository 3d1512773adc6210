// Package adminauth signs admins in with single-use magic links and keeps
// them signed in with a session cookie.
package adminauth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Token types carried in the "type" claim.
const (
	TypeMagicLink = "magic_link"
	TypeSession   = "session"
)

var (
	// ErrInvalidToken covers bad signatures, expiry and malformed tokens.
	ErrInvalidToken = errors.New("adminauth: invalid token")

	// ErrWrongTokenType is returned when a session token is presented as a
	// magic link or the other way round.
	ErrWrongTokenType = errors.New("adminauth: wrong token type")
)

// Claims is the payload of both token types.
type Claims struct {
	Email string `json:"email"`
	Nonce string `json:"nonce,omitempty"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 admin tokens.
type Tokens struct {
	secret     []byte
	magicTTL   time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

// NewTokens creates a signer. An empty secret is replaced by a random one,
// which signs everyone out on restart.
func NewTokens(secret string, magicTTL, sessionTTL time.Duration, log zerolog.Logger) (*Tokens, error) {
	if magicTTL <= 0 {
		magicTTL = 15 * time.Minute
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	key := []byte(secret)
	if strings.TrimSpace(secret) == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("adminauth: generate secret: %w", err)
		}
		key = buf
		log.Warn().Msg("adminauth.ephemeral_secret")
	}
	return &Tokens{secret: key, magicTTL: magicTTL, sessionTTL: sessionTTL, now: time.Now}, nil
}

// MagicLinkTTL is how long a login link stays valid.
func (t *Tokens) MagicLinkTTL() time.Duration { return t.magicTTL }

// SessionTTL is how long a session cookie stays valid.
func (t *Tokens) SessionTTL() time.Duration { return t.sessionTTL }

// IssueMagicLink signs a single-use login token for email.
func (t *Tokens) IssueMagicLink(email string) (token string, claims Claims, err error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", Claims{}, err
	}
	claims = t.claims(email, TypeMagicLink, t.magicTTL)
	claims.Nonce = nonce
	token, err = t.sign(claims)
	return token, claims, err
}

// IssueSession signs a session token for email.
func (t *Tokens) IssueSession(email string) (string, error) {
	return t.sign(t.claims(email, TypeSession, t.sessionTTL))
}

// Verify checks signature, expiry and type.
func (t *Tokens) Verify(raw, wantType string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != wantType {
		return nil, ErrWrongTokenType
	}
	if wantType == TypeMagicLink && claims.Nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", ErrInvalidToken)
	}
	return claims, nil
}

func (t *Tokens) claims(email, typ string, ttl time.Duration) Claims {
	now := t.now()
	return Claims{
		Email: strings.ToLower(strings.TrimSpace(email)),
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func (t *Tokens) sign(c Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
}

// generateNonce returns 128 random bits, hex encoded.
func generateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
