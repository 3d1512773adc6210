package shop

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mathsnotes/server/internal/adminauth"
	"github.com/mathsnotes/server/internal/callbacks"
	"github.com/mathsnotes/server/internal/catalog"
	"github.com/mathsnotes/server/internal/checkout"
	"github.com/mathsnotes/server/internal/circuitbreaker"
	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/email"
	"github.com/mathsnotes/server/internal/fulfillment"
	"github.com/mathsnotes/server/internal/httpserver"
	"github.com/mathsnotes/server/internal/idempotency"
	"github.com/mathsnotes/server/internal/lifecycle"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/mathsnotes/server/internal/otp"
	"github.com/mathsnotes/server/internal/pricing"
	"github.com/mathsnotes/server/internal/ratelimit"
	"github.com/mathsnotes/server/internal/storage"
	stripesvc "github.com/mathsnotes/server/internal/stripe"
	"github.com/mathsnotes/server/internal/webhooks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

// App wires the checkout, fulfillment and admin components for embedding or
// standalone serving.
type App struct {
	Config      *config.Config
	Checkout    *checkout.Service
	Fulfillment *fulfillment.Fulfiller
	Webhooks    *webhooks.Processor
	Catalog     *catalog.Catalog
	Prices      *pricing.Authority
	Files       httpserver.FileStore
	Stripe      *stripesvc.Client
	Mailer      email.Mailer
	Notifier    callbacks.Notifier
	Admin       *adminauth.Service

	router    chi.Router
	resources *lifecycle.Manager
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Option configures App construction.
type Option func(*options)

type options struct {
	router     chi.Router
	mailer     email.Mailer
	notifier   callbacks.Notifier
	files      FileStore
	redis      redis.UniversalClient
	registerer prometheus.Registerer
	logger     *zerolog.Logger
}

// FileStore is the object storage the app serves downloads from.
type FileStore interface {
	httpserver.FileStore
	catalog.ObjectLister
}

// WithRouter registers routes onto an existing router.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithMailer replaces the configured email provider.
func WithMailer(m email.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// WithNotifier replaces the configured alert backend.
func WithNotifier(n callbacks.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithFileStore replaces the R2 bucket.
func WithFileStore(fs FileStore) Option {
	return func(o *options) { o.files = fs }
}

// WithRedis shares an existing client instead of dialing redis.address.
func WithRedis(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithRegisterer registers metrics somewhere other than the default registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// WithLogger sets the application logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.logger = &log }
}

// NewApp assembles the shop. On error every resource opened so far is closed.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("shop: config required")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	log := zerolog.Nop()
	if o.logger != nil {
		log = *o.logger
	}
	registerer := o.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	a := &App{
		Config:    cfg,
		resources: lifecycle.NewManager(log),
		metrics:   metrics.New(registerer),
		logger:    log,
	}
	defer func() {
		if err != nil {
			_ = a.resources.Close()
		}
	}()

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, log)

	state, err := a.stateBackend(ctx, o.redis)
	if err != nil {
		return nil, err
	}

	// Object storage and catalog.
	files := o.files
	if files == nil {
		client, err := storage.NewClient(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("shop: storage client: %w", err)
		}
		files = storage.NewR2Store(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix, breakers, a.metrics)
	}
	a.Files = files

	source, sourceCloser, err := catalog.NewSourceFromConfig(ctx, cfg.Catalog, catalog.Deps{
		Objects: files,
		Metrics: a.metrics,
		Log:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("shop: catalog source: %w", err)
	}
	a.resources.Register("catalog-source", sourceCloser)
	a.Catalog = catalog.New(source, cfg.Catalog.CacheTTL.Duration, a.metrics, log)
	a.Prices = pricing.NewAuthority(a.Catalog, cfg.Checkout.PriceTolerance, a.metrics)

	// Outbound providers.
	a.Mailer = o.mailer
	if a.Mailer == nil {
		a.Mailer, err = email.New(cfg.Email, breakers, a.metrics, log)
		if err != nil {
			return nil, fmt.Errorf("shop: email: %w", err)
		}
	}
	a.Notifier = o.notifier
	if a.Notifier == nil {
		notifier, closer, err := callbacks.New(ctx, cfg.Alerts, a.metrics, log)
		if err != nil {
			return nil, fmt.Errorf("shop: alerts: %w", err)
		}
		a.resources.Register("alerts", closer)
		a.Notifier = notifier
	}
	a.Stripe = stripesvc.NewClient(cfg.Stripe, breakers, a.metrics)

	// Checkout pipeline.
	a.Fulfillment = fulfillment.New(fulfillment.Config{
		LinkTTL:     cfg.Storage.DownloadURLTTL.Duration,
		LockTTL:     cfg.Checkout.FulfillmentLockTTL.Duration,
		ProductNoun: cfg.Checkout.ProductNoun,
	}, files, a.Mailer, a.Stripe, state.locker, a.Notifier, a.metrics)

	a.Checkout = checkout.NewService(checkout.ConfigFrom(cfg), state.codes, state.limiter,
		a.Prices, a.Stripe, a.Mailer, a.Fulfillment, a.metrics)
	a.Webhooks = webhooks.NewProcessor(a.Stripe, a.Fulfillment, a.metrics)

	if cfg.AdminEnabled() {
		tokens, err := adminauth.NewTokens(cfg.Admin.JWTSecret, cfg.Admin.MagicLinkTTL.Duration, cfg.Admin.SessionTTL.Duration, log)
		if err != nil {
			return nil, fmt.Errorf("shop: admin tokens: %w", err)
		}
		a.Admin = adminauth.NewService(cfg.Admin, cfg.Server.PublicBaseURL+cfg.Server.RoutePrefix, tokens, state.nonces, a.Mailer)
	} else {
		log.Warn().Msg("shop.admin_disabled")
	}

	a.router = o.router
	if a.router == nil {
		a.router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(a.router, cfg, a.deps(state), log)

	log.Info().
		Str("state_backend", state.name).
		Str("catalog_source", a.Catalog.SourceName()).
		Str("fulfillment_trigger", cfg.Checkout.FulfillmentTrigger).
		Bool("admin", a.Admin != nil).
		Msg("shop.ready")
	return a, nil
}

func (a *App) deps(state *stateStores) httpserver.Deps {
	return httpserver.Deps{
		Checkout:    a.Checkout,
		Webhooks:    a.Webhooks,
		Catalog:     a.Catalog,
		Files:       a.Files,
		Admin:       a.Admin,
		Mailer:      a.Mailer,
		Limiter:     state.limiter,
		Idempotency: state.idempotency,
		Metrics:     a.metrics,
	}
}

// stateStores groups the short-lived state that must be shared between
// replicas when more than one runs.
type stateStores struct {
	name        string
	codes       otp.Store
	limiter     ratelimit.Limiter
	locker      fulfillment.Locker
	idempotency idempotency.Store
	nonces      adminauth.NonceStore
}

func (a *App) stateBackend(ctx context.Context, client redis.UniversalClient) (*stateStores, error) {
	cfg := a.Config
	codeCfg := otp.Config{
		TTL:           cfg.Checkout.CodeTTL.Duration,
		MaxAttempts:   cfg.Checkout.MaxAttempts,
		SweepInterval: cfg.Checkout.SweepInterval.Duration,
	}

	switch cfg.Checkout.StateBackend {
	case "", backendMemory:
		codes := otp.NewMemoryStore(codeCfg)
		limiter := ratelimit.NewMemoryLimiter(cfg.Checkout.SweepInterval.Duration, nil)
		idem := idempotency.NewMemoryStore(cfg.Checkout.SweepInterval.Duration)
		nonces := adminauth.NewMemoryNonceStore(cfg.Admin.NonceRetention.Duration, cfg.Checkout.SweepInterval.Duration, nil)
		a.resources.Register("otp-store", codes)
		a.resources.Register("rate-limiter", limiter)
		a.resources.Register("idempotency-store", idem)
		a.resources.Register("nonce-store", nonces)
		a.logger.Warn().Msg("shop.memory_state_backend")
		return &stateStores{
			name:        backendMemory,
			codes:       codes,
			limiter:     limiter,
			locker:      fulfillment.NewMemoryLocker(),
			idempotency: idem,
			nonces:      nonces,
		}, nil

	case backendRedis:
		if client == nil {
			c := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			a.resources.Register("redis", c)
			client = c
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("shop: redis ping: %w", err)
		}
		prefix := cfg.Redis.KeyPrefix
		return &stateStores{
			name:        backendRedis,
			codes:       otp.NewRedisStore(client, prefix, codeCfg),
			limiter:     ratelimit.NewRedisLimiter(client, prefix),
			locker:      fulfillment.NewRedisLocker(client, prefix),
			idempotency: idempotency.NewRedisStore(client, prefix),
			nonces:      adminauth.NewRedisNonceStore(client, prefix, cfg.Admin.NonceRetention.Duration),
		}, nil

	default:
		return nil, fmt.Errorf("shop: unknown state backend %q", cfg.Checkout.StateBackend)
	}
}

// Router returns the router with the shop routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Close releases stores, connections and background workers.
func (a *App) Close() error {
	return a.resources.Close()
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(ctx context.Context, cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(ctx, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration for embedders.
type Config = config.Config

// LoadConfig wraps the internal loader.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
