package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mathsnotes/server/internal/adminauth"
	"github.com/mathsnotes/server/internal/catalog"
	"github.com/mathsnotes/server/internal/checkout"
	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/email"
	"github.com/mathsnotes/server/internal/idempotency"
	"github.com/mathsnotes/server/internal/logger"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/ratelimit"
	"github.com/mathsnotes/server/internal/storage"
	"github.com/mathsnotes/server/internal/webhooks"
	"github.com/mathsnotes/server/pkg/responders"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var serverStartTime = time.Now()

// CheckoutService is the checkout state machine.
type CheckoutService interface {
	IssueCode(ctx context.Context, req checkout.IssueRequest) (checkout.IssueResult, error)
	VerifyCode(ctx context.Context, req checkout.VerifyRequest) (checkout.VerifyResult, error)
	ConfirmClientPayment(ctx context.Context, intentID string) (checkout.ConfirmResult, error)
}

// WebhookProcessor handles payment processor deliveries.
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) (webhooks.Result, error)
}

// ResourceCatalog lists purchasable resources.
type ResourceCatalog interface {
	Items(ctx context.Context) ([]catalog.Item, error)
	Invalidate()
}

// FileStore is the admin view of object storage.
type FileStore interface {
	Put(ctx context.Context, up storage.Upload) (storage.Object, error)
	Delete(ctx context.Context, key string) error
	Head(ctx context.Context, key string) (storage.Object, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Deps are the services behind the routes. Admin may be nil when no admin
// address is configured; the auth and admin routes are then not mounted.
type Deps struct {
	Checkout    CheckoutService
	Webhooks    WebhookProcessor
	Catalog     ResourceCatalog
	Files       FileStore
	Admin       *adminauth.Service
	Mailer      email.Mailer
	Limiter     ratelimit.Limiter
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
}

// Server is the HTTP listener around a configured router.
type Server struct {
	httpServer *http.Server
}

type handlers struct {
	cfg  *config.Config
	deps Deps

	loginPolicy   ratelimit.Policy
	contactPolicy ratelimit.Policy
}

// New wraps handler, usually a router from ConfigureRouter, in a server
// with the configured timeouts.
func New(cfg *config.Config, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      handler,
		},
	}
}

// ConfigureRouter attaches all routes to router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps, appLogger zerolog.Logger) {
	if router == nil {
		return
	}
	h := &handlers{
		cfg:           cfg,
		deps:          deps,
		loginPolicy:   ratelimit.Policy{Operation: "admin_login", Max: cfg.Admin.LoginLimit, Window: cfg.Admin.LoginWindow.Duration},
		contactPolicy: ratelimit.Policy{Operation: "contact", Max: cfg.Admin.ContactLimit, Window: cfg.Admin.ContactWindow.Duration},
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Idempotency-Key", "Authorization"},
			AllowCredentials: true,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeaders)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.Recoverer)

	rl := ratelimit.Config{
		GlobalEnabled: cfg.RateLimit.GlobalEnabled,
		GlobalLimit:   cfg.RateLimit.GlobalLimit,
		GlobalWindow:  cfg.RateLimit.GlobalWindow.Duration,
		PerIPEnabled:  cfg.RateLimit.PerIPEnabled,
		PerIPLimit:    cfg.RateLimit.PerIPLimit,
		PerIPWindow:   cfg.RateLimit.PerIPWindow.Duration,
		Observer:      deps.Metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rl))
	router.Use(ratelimit.IPLimiter(rl))

	prefix := cfg.Server.RoutePrefix

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/healthz", h.health)
		r.With(metricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle("/metrics", promhttp.Handler())
	})

	idempotent := idempotency.Middleware(deps.Idempotency, cfg.Checkout.IdempotencyTTL.Duration)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post(prefix+"/checkout/send-otp", h.sendOTP)
		if deps.Idempotency != nil {
			r.With(idempotent).Post(prefix+"/checkout/verify-otp", h.verifyOTP)
		} else {
			r.Post(prefix+"/checkout/verify-otp", h.verifyOTP)
		}
		r.Post(prefix+"/checkout/confirm", h.confirmPayment)

		r.Post(prefix+"/webhooks/stripe", h.stripeWebhook)

		r.Get(prefix+"/resources", h.listResources)
		r.Post(prefix+"/contact", h.contact)

		if deps.Admin == nil {
			return
		}
		r.Post(prefix+"/auth/login", h.login)
		r.Get(prefix+"/auth/verify", h.verifyLogin)
		r.Get(prefix+"/auth/check", h.checkSession)
		r.Post(prefix+"/auth/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(deps.Admin.RequireSession)
			r.Delete(prefix+"/admin/resources/{key}", h.deleteResource)
			r.Get(prefix+"/admin/resources/{key}/download", h.downloadResource)
		})
	})

	// Uploads get their own, longer deadline.
	if deps.Admin != nil {
		router.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Minute))
			r.Use(deps.Admin.RequireSession)
			r.Post(prefix+"/admin/resources", h.uploadResource)
		})
	}
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(serverStartTime).Round(time.Second).String(),
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
