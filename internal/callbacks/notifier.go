package callbacks

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/rs/zerolog"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the notifier selected by cfg.Backend. The returned closer drains
// background deliveries and must be closed on shutdown.
func New(ctx context.Context, cfg config.AlertsConfig, m *metrics.Metrics, logger zerolog.Logger) (Notifier, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return NoopNotifier{}, nopCloser{}, nil

	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, nil, fmt.Errorf("callbacks: webhook backend requires alerts.webhook_url")
		}
		opts := []WebhookOption{WithLogger(logger), WithMetrics(m)}
		if cfg.DLQEnabled {
			if cfg.DLQPath != "" {
				store, err := NewFileDLQStore(cfg.DLQPath)
				if err != nil {
					return nil, nil, err
				}
				opts = append(opts, WithDLQStore(store))
			} else {
				opts = append(opts, WithDLQStore(NewMemoryDLQStore()))
			}
		}
		n := NewWebhookNotifier(cfg, opts...)
		return n, n, nil

	case "sns":
		if cfg.SNSTopicARN == "" {
			return nil, nil, fmt.Errorf("callbacks: sns backend requires alerts.sns_topic_arn")
		}
		n, err := NewSNSNotifier(ctx, cfg.SNSRegion, cfg.SNSTopicARN, m, logger)
		if err != nil {
			return nil, nil, err
		}
		return n, nopCloser{}, nil

	default:
		return nil, nil, fmt.Errorf("callbacks: unknown alerts backend %q", cfg.Backend)
	}
}
