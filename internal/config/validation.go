package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// finalize applies derived defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	c.Server.PublicBaseURL = strings.TrimSuffix(strings.TrimSpace(c.Server.PublicBaseURL), "/")

	c.Stripe.Currency = strings.ToLower(strings.TrimSpace(c.Stripe.Currency))
	if c.Stripe.Currency == "" {
		c.Stripe.Currency = "usd"
	}
	if c.Stripe.Mode == "" {
		c.Stripe.Mode = "test"
	}

	c.Email.Provider = strings.ToLower(strings.TrimSpace(c.Email.Provider))
	c.Email.MailgunRegion = strings.ToLower(strings.TrimSpace(c.Email.MailgunRegion))
	if c.Email.Timeout.Duration <= 0 {
		c.Email.Timeout = Duration{Duration: 10 * time.Second}
	}

	if c.Storage.Endpoint == "" && c.Storage.AccountID != "" {
		c.Storage.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.Storage.AccountID)
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "auto"
	}
	if c.Storage.KeyPrefix != "" && !strings.HasSuffix(c.Storage.KeyPrefix, "/") {
		c.Storage.KeyPrefix += "/"
	}
	if c.Storage.DownloadURLTTL.Duration <= 0 {
		c.Storage.DownloadURLTTL = Duration{Duration: 7 * 24 * time.Hour}
	}
	if c.Storage.AdminURLTTL.Duration <= 0 {
		c.Storage.AdminURLTTL = Duration{Duration: time.Hour}
	}
	if c.Storage.MaxUploadBytes <= 0 {
		c.Storage.MaxUploadBytes = 50 << 20
	}

	c.Catalog.Source = strings.ToLower(strings.TrimSpace(c.Catalog.Source))
	if c.Catalog.Source == "" {
		c.Catalog.Source = "storage"
	}
	if c.Catalog.Source != "yaml" && len(c.Catalog.Items) > 0 {
		// Static items are ignored unless the yaml source is selected.
		c.Catalog.Items = nil
	}

	if c.Checkout.StateBackend == "" {
		c.Checkout.StateBackend = "memory"
	}
	if c.Checkout.FulfillmentTrigger == "" {
		c.Checkout.FulfillmentTrigger = TriggerWebhookOnly
	}
	if c.Checkout.MetadataChunkSize == 0 {
		c.Checkout.MetadataChunkSize = 490
	}
	if c.Checkout.TitleMaxLength <= 0 {
		c.Checkout.TitleMaxLength = 40
	}
	if c.Checkout.PriceTolerance <= 0 {
		c.Checkout.PriceTolerance = 0.01
	}
	if c.Checkout.ProductNoun == "" {
		c.Checkout.ProductNoun = "maths note"
	}

	for i, email := range c.Admin.Emails {
		c.Admin.Emails[i] = strings.ToLower(strings.TrimSpace(email))
	}
	if c.Admin.CookieName == "" {
		c.Admin.CookieName = "admin_session"
	}

	if c.Alerts.Backend == "" {
		c.Alerts.Backend = "none"
	}
	if c.Alerts.Headers == nil {
		c.Alerts.Headers = make(map[string]string)
	}
	if c.Alerts.Timeout.Duration <= 0 {
		c.Alerts.Timeout = Duration{Duration: 5 * time.Second}
	}

	return c.validate()
}

// validate aggregates every configuration problem into a single error.
func (c *Config) validate() error {
	var errs []string

	if c.Stripe.SecretKey == "" {
		errs = append(errs, "stripe.secret_key is required")
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, "stripe.webhook_secret is required")
	}

	switch c.Email.Provider {
	case "sendgrid":
		if c.Email.SendGridAPIKey == "" {
			errs = append(errs, "email.sendgrid_api_key is required when provider is 'sendgrid'")
		}
	case "mailgun":
		if c.Email.MailgunAPIKey == "" || c.Email.MailgunDomain == "" {
			errs = append(errs, "email.mailgun_api_key and email.mailgun_domain are required when provider is 'mailgun'")
		}
		if c.Email.MailgunRegion != "" && c.Email.MailgunRegion != "us" && c.Email.MailgunRegion != "eu" {
			errs = append(errs, "email.mailgun_region must be 'us' or 'eu'")
		}
	case "smtp":
		if c.Email.SMTPHost == "" {
			errs = append(errs, "email.smtp_host is required when provider is 'smtp'")
		}
	case "log":
	default:
		errs = append(errs, fmt.Sprintf("email.provider %q must be one of sendgrid, mailgun, smtp, log", c.Email.Provider))
	}
	if c.Email.FromAddress == "" {
		errs = append(errs, "email.from_address is required")
	}

	if c.Storage.Bucket == "" {
		errs = append(errs, "storage.bucket is required")
	}
	if c.Storage.Endpoint != "" {
		if u, err := url.Parse(c.Storage.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("storage.endpoint %q is not a valid URL", c.Storage.Endpoint))
		}
	}

	switch c.Catalog.Source {
	case "storage":
	case "yaml":
		if len(c.Catalog.Items) == 0 {
			errs = append(errs, "catalog.items must define at least one item when source is 'yaml'")
		}
		for key, item := range c.Catalog.Items {
			if item.Price < 0 {
				errs = append(errs, fmt.Sprintf("catalog item %q has a negative price", key))
			}
		}
	case "postgres":
		if c.Catalog.PostgresURL == "" {
			errs = append(errs, "catalog.postgres_url is required when source is 'postgres'")
		}
	case "mongodb":
		if c.Catalog.MongoDBURL == "" || c.Catalog.MongoDBDatabase == "" {
			errs = append(errs, "catalog.mongodb_url and catalog.mongodb_database are required when source is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("catalog.source %q must be one of storage, yaml, postgres, mongodb", c.Catalog.Source))
	}

	switch c.Checkout.StateBackend {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			errs = append(errs, "redis.address is required when checkout.state_backend is 'redis'")
		}
	default:
		errs = append(errs, fmt.Sprintf("checkout.state_backend %q must be 'memory' or 'redis'", c.Checkout.StateBackend))
	}
	switch c.Checkout.FulfillmentTrigger {
	case TriggerWebhookOnly, TriggerDirectAndWebhook:
	default:
		errs = append(errs, fmt.Sprintf("checkout.fulfillment_trigger %q must be %q or %q",
			c.Checkout.FulfillmentTrigger, TriggerWebhookOnly, TriggerDirectAndWebhook))
	}
	if c.Checkout.MetadataChunkSize < 1 || c.Checkout.MetadataChunkSize > 500 {
		errs = append(errs, "checkout.metadata_chunk_size must be between 1 and 500")
	}
	if c.Checkout.MaxAttempts < 1 {
		errs = append(errs, "checkout.max_attempts must be at least 1")
	}
	if c.Checkout.IssueLimit < 1 || c.Checkout.VerifyLimit < 1 {
		errs = append(errs, "checkout.issue_limit and checkout.verify_limit must be at least 1")
	}
	if c.Checkout.CodeTTL.Duration <= 0 {
		errs = append(errs, "checkout.code_ttl must be positive")
	}

	switch c.Alerts.Backend {
	case "none":
	case "webhook":
		if c.Alerts.WebhookURL == "" {
			errs = append(errs, "alerts.webhook_url is required when backend is 'webhook'")
		}
	case "sns":
		if c.Alerts.SNSTopicARN == "" {
			errs = append(errs, "alerts.sns_topic_arn is required when backend is 'sns'")
		}
	default:
		errs = append(errs, fmt.Sprintf("alerts.backend %q must be one of none, webhook, sns", c.Alerts.Backend))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings, falling back to
// small defaults suited to a read-mostly catalog.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}

// AdminEnabled reports whether any admin address is configured.
func (c *Config) AdminEnabled() bool {
	return len(c.Admin.Emails) > 0
}

// IsAdminEmail reports whether email is on the admin list (case-insensitive).
func (c AdminConfig) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, e := range c.Emails {
		if e == email {
			return true
		}
	}
	return false
}
