package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/httputil"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/rs/zerolog"
)

// RetryConfig holds alert delivery retry configuration.
type RetryConfig struct {
	MaxAttempts     int           // default 5
	InitialInterval time.Duration // default 1s
	MaxInterval     time.Duration // default 5m
	Multiplier      float64       // default 2.0
	Timeout         time.Duration // per attempt, default 10s
}

// DefaultRetryConfig returns the delivery defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// retryConfigFrom overlays the configured values on the defaults.
func retryConfigFrom(cfg config.AlertsConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval.Duration > 0 {
		rc.InitialInterval = cfg.Retry.InitialInterval.Duration
	}
	if cfg.Retry.MaxInterval.Duration > 0 {
		rc.MaxInterval = cfg.Retry.MaxInterval.Duration
	}
	if cfg.Retry.Multiplier > 0 {
		rc.Multiplier = cfg.Retry.Multiplier
	}
	if cfg.Timeout.Duration > 0 {
		rc.Timeout = cfg.Timeout.Duration
	}
	if !cfg.Retry.Enabled {
		rc.MaxAttempts = 1
	}
	return rc
}

// DLQStore persists alerts that exhausted their retries.
type DLQStore interface {
	Save(ctx context.Context, alert FailedAlert) error
	List(ctx context.Context, limit int) ([]FailedAlert, error)
	Delete(ctx context.Context, id string) error
}

// FailedAlert is an alert that could not be delivered.
type FailedAlert struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Payload     json.RawMessage   `json:"payload"`
	Headers     map[string]string `json:"headers,omitempty"`
	EventType   string            `json:"eventType"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"lastError"`
	LastAttempt time.Time         `json:"lastAttempt"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// WebhookNotifier posts alerts as JSON to an operator URL with exponential
// backoff. Deliveries run in the background; Close waits for them.
type WebhookNotifier struct {
	url        string
	headers    map[string]string
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	dlqStore   DLQStore
	metrics    *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	stop     context.CancelFunc
	baseCtx  context.Context
}

// WebhookOption customizes the webhook notifier.
type WebhookOption func(*WebhookNotifier)

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger zerolog.Logger) WebhookOption {
	return func(c *WebhookNotifier) {
		c.logger = logger
	}
}

// WithDLQStore enables the dead letter queue for alerts that exhaust retries.
func WithDLQStore(store DLQStore) WebhookOption {
	return func(c *WebhookNotifier) {
		c.dlqStore = store
	}
}

// WithRetryConfig replaces the retry schedule.
func WithRetryConfig(cfg RetryConfig) WebhookOption {
	return func(c *WebhookNotifier) {
		c.retryCfg = cfg
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) WebhookOption {
	return func(c *WebhookNotifier) {
		c.metrics = m
	}
}

// NewWebhookNotifier builds a notifier for cfg.WebhookURL.
func NewWebhookNotifier(cfg config.AlertsConfig, opts ...WebhookOption) *WebhookNotifier {
	rc := retryConfigFrom(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	c := &WebhookNotifier{
		url:        cfg.WebhookURL,
		headers:    cfg.Headers,
		retryCfg:   rc,
		httpClient: httputil.NewClient(rc.Timeout),
		logger:     zerolog.Nop(),
		sleep:      sleepCtx,
		stop:       cancel,
		baseCtx:    ctx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retryCfg.MaxAttempts < 1 {
		c.retryCfg.MaxAttempts = 1
	}
	return c
}

// PurchaseCompleted dispatches the event in the background.
func (c *WebhookNotifier) PurchaseCompleted(_ context.Context, event PurchaseEvent) {
	PreparePurchaseEvent(&event)
	c.dispatch(event.EventType, event.EventID, event)
}

// FulfillmentFailed dispatches the event in the background.
func (c *WebhookNotifier) FulfillmentFailed(_ context.Context, event FulfillmentFailedEvent) {
	PrepareFulfillmentFailedEvent(&event)
	c.dispatch(event.EventType, event.EventID, event)
}

func (c *WebhookNotifier) dispatch(eventType, eventID string, event any) {
	if c == nil || c.url == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error().Err(err).Str("event_type", eventType).Msg("callbacks.serialize_failed")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Warn().Str("event_id", eventID).Msg("callbacks.dropped_after_close")
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		if err := c.Deliver(c.baseCtx, eventType, payload); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", eventID).
				Str("event_type", eventType).
				Msg("callbacks.delivery_failed")
			if c.dlqStore != nil {
				c.saveToDLQ(context.Background(), payload, eventType, err)
			}
		}
	}()
}

// Deliver posts payload synchronously, retrying with exponential backoff.
func (c *WebhookNotifier) Deliver(ctx context.Context, eventType string, payload []byte) error {
	var lastErr error
	interval := c.retryCfg.InitialInterval

	for attempt := 1; attempt <= c.retryCfg.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.sendHTTP(reqCtx, payload)
		cancel()

		if err == nil {
			c.metrics.ObserveAlert(eventType, "success", attempt, false)
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Str("event_type", eventType).
					Msg("callbacks.succeeded_after_retry")
			}
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.retryCfg.MaxAttempts).
			Str("event_type", eventType).
			Dur("next_retry", interval).
			Msg("callbacks.attempt_failed")

		if attempt < c.retryCfg.MaxAttempts {
			if err := c.sleep(ctx, interval); err != nil {
				lastErr = err
				break
			}
			interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
			if interval > c.retryCfg.MaxInterval {
				interval = c.retryCfg.MaxInterval
			}
		}
	}

	c.metrics.ObserveAlert(eventType, "failed", c.retryCfg.MaxAttempts, false)
	return fmt.Errorf("alert failed after %d attempts: %w", c.retryCfg.MaxAttempts, lastErr)
}

func (c *WebhookNotifier) sendHTTP(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	contentType := c.headers["Content-Type"]
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range c.headers {
		if k == "" || strings.EqualFold(k, "content-type") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from alert endpoint", resp.StatusCode)
	}
	return nil
}

func (c *WebhookNotifier) saveToDLQ(ctx context.Context, payload []byte, eventType string, lastErr error) {
	now := time.Now().UTC()
	alert := FailedAlert{
		ID:          "alert_" + strings.TrimPrefix(generateEventID(), "evt_"),
		URL:         c.url,
		Payload:     json.RawMessage(payload),
		Headers:     c.headers,
		EventType:   eventType,
		Attempts:    c.retryCfg.MaxAttempts,
		LastError:   lastErr.Error(),
		LastAttempt: now,
		CreatedAt:   now,
	}

	if err := c.dlqStore.Save(ctx, alert); err != nil {
		c.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("callbacks.dlq_save_failed")
		return
	}
	c.metrics.ObserveAlert(eventType, "dlq", alert.Attempts, true)
	c.logger.Info().
		Str("alert_id", alert.ID).
		Str("event_type", eventType).
		Int("attempts", alert.Attempts).
		Msg("callbacks.saved_to_dlq")
}

// Wait blocks until every dispatched alert has been delivered or given up on.
func (c *WebhookNotifier) Wait() {
	c.inflight.Wait()
}

// Close stops accepting alerts, cancels deliveries still in progress and waits
// for them to finish. Cancelled alerts land in the DLQ when one is configured.
func (c *WebhookNotifier) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.stop()
	c.inflight.Wait()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
