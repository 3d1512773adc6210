package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses Go-style duration strings; bare numbers are seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err == nil {
		d.Duration = parsed
		return nil
	}
	if secs, convErr := time.ParseDuration(raw + "s"); convErr == nil {
		d.Duration = secs
		return nil
	}
	return fmt.Errorf("invalid duration value %q: %w", raw, err)
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Fulfillment trigger strategies.
const (
	TriggerWebhookOnly      = "webhook-only"
	TriggerDirectAndWebhook = "direct-and-webhook-deduped"
)

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Stripe         StripeConfig         `yaml:"stripe"`
	Email          EmailConfig          `yaml:"email"`
	Storage        StorageConfig        `yaml:"storage"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Checkout       CheckoutConfig       `yaml:"checkout"`
	Redis          RedisConfig          `yaml:"redis"`
	Admin          AdminConfig          `yaml:"admin"`
	Alerts         AlertsConfig         `yaml:"alerts"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	ShutdownTimeout    Duration `yaml:"shutdown_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // default "/api"
	PublicBaseURL      string   `yaml:"public_base_url"`       // used in magic links, e.g. https://example.com
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // bearer key guarding /metrics (empty = open)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// StripeConfig holds Stripe payment integration configuration.
type StripeConfig struct {
	SecretKey      string `yaml:"secret_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
	PublishableKey string `yaml:"publishable_key"`
	Currency       string `yaml:"currency"` // default "usd"
	Mode           string `yaml:"mode"`     // live | test
}

// EmailConfig selects and configures the transactional email provider.
type EmailConfig struct {
	Provider       string   `yaml:"provider"` // sendgrid | mailgun | smtp | log
	FromAddress    string   `yaml:"from_address"`
	FromName       string   `yaml:"from_name"`
	SendGridAPIKey string   `yaml:"sendgrid_api_key"`
	MailgunAPIKey  string   `yaml:"mailgun_api_key"`
	MailgunDomain  string   `yaml:"mailgun_domain"`
	MailgunRegion  string   `yaml:"mailgun_region"` // us | eu
	SMTPHost       string   `yaml:"smtp_host"`
	SMTPPort       int      `yaml:"smtp_port"`
	SMTPUsername   string   `yaml:"smtp_username"`
	SMTPPassword   string   `yaml:"smtp_password"`
	Timeout        Duration `yaml:"timeout"`
	MaxPerSecond   float64  `yaml:"max_per_second"` // outbound pacing, 0 = unlimited
	Burst          int      `yaml:"burst"`
}

// StorageConfig configures the S3-compatible object store (Cloudflare R2 by default).
type StorageConfig struct {
	AccountID       string   `yaml:"account_id"` // R2 account; derives endpoint when endpoint is empty
	Endpoint        string   `yaml:"endpoint"`
	Region          string   `yaml:"region"` // "auto" for R2
	Bucket          string   `yaml:"bucket"`
	AccessKeyID     string   `yaml:"access_key_id"`
	SecretAccessKey string   `yaml:"secret_access_key"`
	UsePathStyle    bool     `yaml:"use_path_style"`
	KeyPrefix       string   `yaml:"key_prefix"`        // default "files/"
	DownloadURLTTL  Duration `yaml:"download_url_ttl"`  // buyer links (default 7 days)
	AdminURLTTL     Duration `yaml:"admin_url_ttl"`     // admin previews (default 1h)
	MaxUploadBytes  int64    `yaml:"max_upload_bytes"`  // default 50 MiB
}

// CatalogConfig selects where authoritative item prices come from.
type CatalogConfig struct {
	Source            string                 `yaml:"source"`    // storage | yaml | postgres | mongodb
	CacheTTL          Duration               `yaml:"cache_ttl"` // 0 disables caching
	PostgresURL       string                 `yaml:"postgres_url"`
	PostgresTable     string                 `yaml:"postgres_table"`
	PostgresPool      PostgresPoolConfig     `yaml:"postgres_pool"`
	MongoDBURL        string                 `yaml:"mongodb_url"`
	MongoDBDatabase   string                 `yaml:"mongodb_database"`
	MongoDBCollection string                 `yaml:"mongodb_collection"`
	Items             map[string]CatalogItem `yaml:"items"` // only used when source = yaml
}

// CatalogItem is a statically configured catalog entry.
type CatalogItem struct {
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Price       float64 `yaml:"price"`
	Pages       string  `yaml:"pages"`
	Topics      string  `yaml:"topics"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // default 10
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // default 2
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // default 5m
}

// CheckoutConfig holds the verification and fulfillment policy.
type CheckoutConfig struct {
	CodeTTL            Duration `yaml:"code_ttl"`             // default 10m
	MaxAttempts        int      `yaml:"max_attempts"`         // default 3
	SweepInterval      Duration `yaml:"sweep_interval"`       // default 5m
	IssueLimit         int      `yaml:"issue_limit"`          // default 3
	IssueWindow        Duration `yaml:"issue_window"`         // default 10m
	VerifyLimit        int      `yaml:"verify_limit"`         // default 5
	VerifyWindow       Duration `yaml:"verify_window"`        // default 10m
	PriceTolerance     float64  `yaml:"price_tolerance"`      // default 0.01
	StateBackend       string   `yaml:"state_backend"`        // memory | redis
	FulfillmentTrigger string   `yaml:"fulfillment_trigger"`  // webhook-only | direct-and-webhook-deduped
	FulfillmentLockTTL Duration `yaml:"fulfillment_lock_ttl"` // default 2m
	MetadataChunkSize  int      `yaml:"metadata_chunk_size"`  // default 490, max 500
	TitleMaxLength     int      `yaml:"title_max_length"`     // default 40
	ProductNoun        string   `yaml:"product_noun"`         // default "maths note"
	IdempotencyTTL     Duration `yaml:"idempotency_ttl"`      // default 24h
}

// RedisConfig is used when checkout.state_backend is redis.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"` // default "notes:"
}

// AdminConfig configures magic-link login and the admin surface.
type AdminConfig struct {
	Emails         []string `yaml:"emails"`
	JWTSecret      string   `yaml:"jwt_secret"`
	MagicLinkTTL   Duration `yaml:"magic_link_ttl"`  // default 15m
	SessionTTL     Duration `yaml:"session_ttl"`     // default 24h
	NonceRetention Duration `yaml:"nonce_retention"` // default 30m
	CookieName     string   `yaml:"cookie_name"`     // default "admin_session"
	CookieSecure   bool     `yaml:"cookie_secure"`
	LoginLimit     int      `yaml:"login_limit"`   // default 5
	LoginWindow    Duration `yaml:"login_window"`  // default 15m
	ContactLimit   int      `yaml:"contact_limit"` // default 5
	ContactWindow  Duration `yaml:"contact_window"`
}

// AlertsConfig routes operator alerts (failed deliveries, completed purchases).
type AlertsConfig struct {
	Backend     string            `yaml:"backend"` // none | webhook | sns
	WebhookURL  string            `yaml:"webhook_url"`
	Headers     map[string]string `yaml:"headers"`
	Timeout     Duration          `yaml:"timeout"`
	Retry       RetryConfig       `yaml:"retry"`
	DLQEnabled  bool              `yaml:"dlq_enabled"`
	DLQPath     string            `yaml:"dlq_path"`
	SNSTopicARN string            `yaml:"sns_topic_arn"`
	SNSRegion   string            `yaml:"sns_region"`
}

// RetryConfig holds alert delivery retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// RateLimitConfig is the coarse per-IP ceiling applied to every route. The
// per-operation checkout limits live in CheckoutConfig.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`
	PerIPEnabled  bool     `yaml:"per_ip_enabled"`
	PerIPLimit    int      `yaml:"per_ip_limit"`
	PerIPWindow   Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Stripe  BreakerServiceConfig `yaml:"stripe"`
	Storage BreakerServiceConfig `yaml:"storage"`
	Email   BreakerServiceConfig `yaml:"email"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // half-open trial requests
	Interval            Duration `yaml:"interval"`             // closed-state stats reset
	Timeout             Duration `yaml:"timeout"`              // open -> half-open
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // trip threshold
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
