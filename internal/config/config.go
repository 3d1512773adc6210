package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultBreaker() BreakerServiceConfig {
	return BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     Duration{Duration: 15 * time.Second},
			WriteTimeout:    Duration{Duration: 60 * time.Second},
			IdleTimeout:     Duration{Duration: 60 * time.Second},
			ShutdownTimeout: Duration{Duration: 20 * time.Second},
			RoutePrefix:     "/api",
			PublicBaseURL:   "http://localhost:3000",
		},
		Stripe: StripeConfig{
			Currency: "usd",
			Mode:     "test",
		},
		Email: EmailConfig{
			Provider:      "sendgrid",
			FromName:      "Maths Notes",
			MailgunRegion: "us",
			SMTPPort:      587,
			Timeout:       Duration{Duration: 10 * time.Second},
			MaxPerSecond:  5,
			Burst:         5,
		},
		Storage: StorageConfig{
			Region:         "auto",
			KeyPrefix:      "files/",
			DownloadURLTTL: Duration{Duration: 7 * 24 * time.Hour},
			AdminURLTTL:    Duration{Duration: time.Hour},
			MaxUploadBytes: 50 << 20,
		},
		Catalog: CatalogConfig{
			Source:            "storage",
			CacheTTL:          Duration{Duration: 30 * time.Second},
			PostgresTable:     "catalog_items",
			MongoDBCollection: "catalog_items",
		},
		Checkout: CheckoutConfig{
			CodeTTL:            Duration{Duration: 10 * time.Minute},
			MaxAttempts:        3,
			SweepInterval:      Duration{Duration: 5 * time.Minute},
			IssueLimit:         3,
			IssueWindow:        Duration{Duration: 10 * time.Minute},
			VerifyLimit:        5,
			VerifyWindow:       Duration{Duration: 10 * time.Minute},
			PriceTolerance:     0.01,
			StateBackend:       "memory",
			FulfillmentTrigger: TriggerWebhookOnly,
			FulfillmentLockTTL: Duration{Duration: 2 * time.Minute},
			MetadataChunkSize:  490,
			TitleMaxLength:     40,
			ProductNoun:        "maths note",
			IdempotencyTTL:     Duration{Duration: 24 * time.Hour},
		},
		Redis: RedisConfig{
			KeyPrefix: "notes:",
		},
		Admin: AdminConfig{
			MagicLinkTTL:   Duration{Duration: 15 * time.Minute},
			SessionTTL:     Duration{Duration: 24 * time.Hour},
			NonceRetention: Duration{Duration: 30 * time.Minute},
			CookieName:     "admin_session",
			CookieSecure:   true,
			LoginLimit:     5,
			LoginWindow:    Duration{Duration: 15 * time.Minute},
			ContactLimit:   5,
			ContactWindow:  Duration{Duration: time.Hour},
		},
		Alerts: AlertsConfig{
			Backend: "none",
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 5 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
			DLQPath: "./data/alerts-dlq.json",
		},
		RateLimit: RateLimitConfig{
			GlobalEnabled: true,
			GlobalLimit:   1000,
			GlobalWindow:  Duration{Duration: time.Minute},
			PerIPEnabled:  true,
			PerIPLimit:    120,
			PerIPWindow:   Duration{Duration: time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Stripe:  defaultBreaker(),
			Storage: defaultBreaker(),
			Email:   defaultBreaker(),
		},
	}
}

func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
