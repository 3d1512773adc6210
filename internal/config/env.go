package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// NOTES_-prefixed names win over the bare provider names the deployment
// platform already exports (STRIPE_SECRET_KEY, R2_BUCKET_NAME, ...).
func (c *Config) applyEnvOverrides() {
	// Server
	setIfEnv(&c.Server.Address, "NOTES_SERVER_ADDRESS", "PORT_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "NOTES_ROUTE_PREFIX")
	setIfEnv(&c.Server.PublicBaseURL, "NOTES_PUBLIC_BASE_URL", "NEXT_PUBLIC_BASE_URL")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "NOTES_ADMIN_METRICS_API_KEY")
	if v := os.Getenv("NOTES_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}

	// Logging
	setIfEnv(&c.Logging.Level, "NOTES_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "NOTES_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "NOTES_ENVIRONMENT")

	// Stripe
	setIfEnv(&c.Stripe.SecretKey, "NOTES_STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY")
	setIfEnv(&c.Stripe.WebhookSecret, "NOTES_STRIPE_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET")
	setIfEnv(&c.Stripe.PublishableKey, "NOTES_STRIPE_PUBLISHABLE_KEY", "NEXT_PUBLIC_STRIPE_PUBLISHABLE_KEY")
	setIfEnv(&c.Stripe.Mode, "NOTES_STRIPE_MODE")

	// Email
	setIfEnv(&c.Email.Provider, "NOTES_EMAIL_PROVIDER")
	setIfEnv(&c.Email.FromAddress, "NOTES_EMAIL_FROM", "FROM_EMAIL")
	setIfEnv(&c.Email.FromName, "NOTES_EMAIL_FROM_NAME")
	setIfEnv(&c.Email.SendGridAPIKey, "NOTES_SENDGRID_API_KEY", "SENDGRID_API_KEY")
	setIfEnv(&c.Email.MailgunAPIKey, "NOTES_MAILGUN_API_KEY", "MAILGUN_API_KEY")
	setIfEnv(&c.Email.MailgunDomain, "NOTES_MAILGUN_DOMAIN", "MAILGUN_DOMAIN")
	setIfEnv(&c.Email.MailgunRegion, "NOTES_MAILGUN_REGION", "MAILGUN_REGION")
	setIfEnv(&c.Email.SMTPHost, "NOTES_SMTP_HOST", "SMTP_HOST")
	setIntIfEnv(&c.Email.SMTPPort, "NOTES_SMTP_PORT", "SMTP_PORT")
	setIfEnv(&c.Email.SMTPUsername, "NOTES_SMTP_USERNAME", "SMTP_USERNAME")
	setIfEnv(&c.Email.SMTPPassword, "NOTES_SMTP_PASSWORD", "SMTP_PASSWORD")

	// Storage
	setIfEnv(&c.Storage.AccountID, "NOTES_R2_ACCOUNT_ID", "R2_ACCOUNT_ID")
	setIfEnv(&c.Storage.Endpoint, "NOTES_STORAGE_ENDPOINT")
	setIfEnv(&c.Storage.Region, "NOTES_STORAGE_REGION")
	setIfEnv(&c.Storage.Bucket, "NOTES_R2_BUCKET_NAME", "R2_BUCKET_NAME")
	setIfEnv(&c.Storage.AccessKeyID, "NOTES_R2_ACCESS_KEY_ID", "R2_ACCESS_KEY_ID")
	setIfEnv(&c.Storage.SecretAccessKey, "NOTES_R2_SECRET_ACCESS_KEY", "R2_SECRET_ACCESS_KEY")
	setBoolIfEnv(&c.Storage.UsePathStyle, "NOTES_STORAGE_PATH_STYLE")
	setDurationIfEnv(&c.Storage.DownloadURLTTL, "NOTES_DOWNLOAD_URL_TTL")

	// Catalog
	setIfEnv(&c.Catalog.Source, "NOTES_CATALOG_SOURCE")
	setDurationIfEnv(&c.Catalog.CacheTTL, "NOTES_CATALOG_CACHE_TTL")
	setIfEnv(&c.Catalog.PostgresURL, "NOTES_CATALOG_POSTGRES_URL", "DATABASE_URL")
	setIfEnv(&c.Catalog.PostgresTable, "NOTES_CATALOG_POSTGRES_TABLE")
	setIfEnv(&c.Catalog.MongoDBURL, "NOTES_CATALOG_MONGODB_URL", "MONGODB_URI")
	setIfEnv(&c.Catalog.MongoDBDatabase, "NOTES_CATALOG_MONGODB_DATABASE")
	setIfEnv(&c.Catalog.MongoDBCollection, "NOTES_CATALOG_MONGODB_COLLECTION")

	// Checkout
	setDurationIfEnv(&c.Checkout.CodeTTL, "NOTES_CODE_TTL")
	setIntIfEnv(&c.Checkout.MaxAttempts, "NOTES_CODE_MAX_ATTEMPTS")
	setIntIfEnv(&c.Checkout.IssueLimit, "NOTES_ISSUE_LIMIT")
	setDurationIfEnv(&c.Checkout.IssueWindow, "NOTES_ISSUE_WINDOW")
	setIntIfEnv(&c.Checkout.VerifyLimit, "NOTES_VERIFY_LIMIT")
	setDurationIfEnv(&c.Checkout.VerifyWindow, "NOTES_VERIFY_WINDOW")
	setIfEnv(&c.Checkout.StateBackend, "NOTES_STATE_BACKEND")
	setIfEnv(&c.Checkout.FulfillmentTrigger, "NOTES_FULFILLMENT_TRIGGER")
	setIntIfEnv(&c.Checkout.MetadataChunkSize, "NOTES_METADATA_CHUNK_SIZE")

	// Redis
	setIfEnv(&c.Redis.Address, "NOTES_REDIS_ADDRESS", "REDIS_ADDR")
	setIfEnv(&c.Redis.Password, "NOTES_REDIS_PASSWORD", "REDIS_PASSWORD")
	setIntIfEnv(&c.Redis.DB, "NOTES_REDIS_DB")
	setIfEnv(&c.Redis.KeyPrefix, "NOTES_REDIS_KEY_PREFIX")

	// Admin
	if v := firstEnv("NOTES_ADMIN_EMAILS", "ADMIN_EMAILS"); v != "" {
		c.Admin.Emails = splitList(v)
	}
	setIfEnv(&c.Admin.JWTSecret, "NOTES_JWT_SECRET", "JWT_SECRET")
	setBoolIfEnv(&c.Admin.CookieSecure, "NOTES_COOKIE_SECURE")

	// Alerts
	setIfEnv(&c.Alerts.Backend, "NOTES_ALERTS_BACKEND")
	setIfEnv(&c.Alerts.WebhookURL, "NOTES_ALERTS_WEBHOOK_URL")
	setIfEnv(&c.Alerts.SNSTopicARN, "NOTES_ALERTS_SNS_TOPIC_ARN")
	setIfEnv(&c.Alerts.SNSRegion, "NOTES_ALERTS_SNS_REGION", "AWS_REGION")
	setBoolIfEnv(&c.Alerts.DLQEnabled, "NOTES_ALERTS_DLQ_ENABLED")
	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, "NOTES_ALERTS_HEADER_") {
			continue
		}
		header := strings.TrimPrefix(name, "NOTES_ALERTS_HEADER_")
		if header == "" {
			continue
		}
		if c.Alerts.Headers == nil {
			c.Alerts.Headers = make(map[string]string)
		}
		c.Alerts.Headers[textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(header, "_", "-"))] = value
	}
}

// setIfEnv sets target from the first non-empty variable among keys.
func setIfEnv(target *string, keys ...string) {
	if v := firstEnv(keys...); v != "" {
		*target = v
	}
}

func setBoolIfEnv(target *bool, keys ...string) {
	if v := firstEnv(keys...); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setIntIfEnv(target *int, keys ...string) {
	if v := firstEnv(keys...); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv accepts time.ParseDuration values like "5m", "120s", "168h".
func setDurationIfEnv(target *Duration, keys ...string) {
	if v := firstEnv(keys...); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// splitList splits a comma separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
