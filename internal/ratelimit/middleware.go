package ratelimit

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	apierrors "github.com/mathsnotes/server/internal/errors"
	"github.com/mathsnotes/server/internal/logger"
)

// Observer records rejections; *metrics.Metrics satisfies it.
type Observer interface {
	ObserveRateLimit(scope string)
}

// Config holds the coarse route-wide limits. The per-operation checkout
// limits use Limiter instead.
type Config struct {
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Observer Observer
}

// DefaultConfig returns generous limits that stop floods, not shoppers.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,
		PerIPEnabled:  true,
		PerIPLimit:    120,
		PerIPWindow:   time.Minute,
	}
}

func limitHandler(scope, message string, window time.Duration, obs Observer) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if obs != nil {
			obs.ObserveRateLimit(scope)
		}
		log := logger.FromContext(r.Context())
		log.Warn().
			Str("scope", scope).
			Msg("ratelimit.rejected")
		apierrors.WriteRateLimited(w, message, int(window.Seconds()))
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// GlobalLimiter caps total request volume across all clients.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled || cfg.GlobalLimit <= 0 {
		return passthrough
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithKeyFuncs(func(*http.Request) (string, error) { return "global", nil }),
		httprate.WithLimitHandler(limitHandler("global", "Service is busy. Please try again later.", cfg.GlobalWindow, cfg.Observer)),
	)
}

// IPLimiter caps request volume per client address.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled || cfg.PerIPLimit <= 0 {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "ip:" + ClientID(r), nil
		}),
		httprate.WithLimitHandler(limitHandler("per_ip", "Too many requests. Please try again later.", cfg.PerIPWindow, cfg.Observer)),
	)
}
