// Package otp implements the single-use verification code store that binds a
// code to an email address and a cart fingerprint.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Verification failures, in the order Verify checks them.
var (
	ErrNotFound        = errors.New("otp: code not found or expired")
	ErrExpired         = errors.New("otp: code expired")
	ErrAlreadyUsed     = errors.New("otp: code already used")
	ErrCartMismatch    = errors.New("otp: cart was modified, request a new verification code")
	ErrTooManyAttempts = errors.New("otp: too many failed attempts, request a new code")
	ErrInvalidCode     = errors.New("otp: invalid code")
)

// Store issues and verifies codes. Implementations make the attempts/verified
// check-and-set atomic per identity.
type Store interface {
	// Issue creates a fresh code for identity, replacing any live one.
	Issue(ctx context.Context, identity, fingerprint string) (string, error)
	// Verify consumes one attempt and marks the code used on a match.
	Verify(ctx context.Context, identity, code, fingerprint string) error
	// Reopen clears the used flag on a verified code so the same code can be
	// presented again. Attempts already spent stay spent.
	Reopen(ctx context.Context, identity, fingerprint string) error
	// Delete drops the entry for identity, if any.
	Delete(ctx context.Context, identity string) error
}

// Config holds code policy.
type Config struct {
	TTL           time.Duration // default 10m
	MaxAttempts   int           // default 3
	SweepInterval time.Duration // default 5m (memory store only)
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	return c
}

// Entry is the stored state of one pending code.
type Entry struct {
	Identity    string    `json:"identity"`
	Code        string    `json:"code"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Verified    bool      `json:"verified"`
	Attempts    int       `json:"attempts"`
}

// NormalizeIdentity lower-cases and trims an email address.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// GenerateCode returns a uniformly random six digit code (100000-999999).
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("otp: generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// action tells a backend what to do with an entry after evaluation.
type action int

const (
	keep action = iota
	save
	remove
)

// evaluate applies one verification attempt to e. It is the single source of the
// verification rules; backends only provide atomicity around it.
func evaluate(e *Entry, code, fingerprint string, now time.Time, maxAttempts int) (action, error) {
	if now.After(e.ExpiresAt) {
		return remove, ErrExpired
	}
	if e.Verified {
		return keep, ErrAlreadyUsed
	}
	if e.Fingerprint != fingerprint {
		return keep, ErrCartMismatch
	}
	if e.Attempts >= maxAttempts {
		return remove, ErrTooManyAttempts
	}
	e.Attempts++
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(e.Code)) != 1 {
		return save, ErrInvalidCode
	}
	e.Verified = true
	return save, nil
}

// reopen undoes the verified flag set by evaluate.
func reopen(e *Entry, fingerprint string, now time.Time) (action, error) {
	if now.After(e.ExpiresAt) {
		return remove, ErrExpired
	}
	if e.Fingerprint != fingerprint {
		return keep, ErrCartMismatch
	}
	if !e.Verified {
		return keep, nil
	}
	e.Verified = false
	return save, nil
}
