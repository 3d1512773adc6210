package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/mathsnotes/server/internal/callbacks"
	"github.com/mathsnotes/server/internal/config"
	"github.com/mathsnotes/server/internal/logger"
)

// alerttest sends one synthetic alert through the configured backend so an
// operator can check the webhook or SNS wiring end to end.
func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml")
	kind := flag.String("kind", "purchase", "alert to send: purchase or failure")
	buyer := flag.String("email", "test-buyer@example.com", "buyer address in the synthetic event")
	keys := flag.String("items", "files/sample.pdf", "comma separated item keys")
	amount := flag.Float64("amount", 0, "amount in major units")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Alerts.Backend == "" || cfg.Alerts.Backend == "none" {
		log.Fatalf("alerts.backend is not configured")
	}

	appLogger := logger.New(logger.Config{Level: "debug", Format: "console", Service: "alerttest"})
	notifier, closer, err := callbacks.New(context.Background(), cfg.Alerts, nil, appLogger)
	if err != nil {
		log.Fatalf("build notifier: %v", err)
	}

	items := strings.Split(*keys, ",")
	switch *kind {
	case "purchase":
		notifier.PurchaseCompleted(context.Background(), callbacks.PurchaseEvent{
			Reference:   "alerttest",
			Email:       *buyer,
			ItemKeys:    items,
			AmountCents: int64(*amount*100 + 0.5),
			Currency:    cfg.Stripe.Currency,
			IsFree:      *amount == 0,
			Trigger:     "manual",
		})
	case "failure":
		notifier.FulfillmentFailed(context.Background(), callbacks.FulfillmentFailedEvent{
			Reference: "alerttest",
			Email:     *buyer,
			ItemKeys:  items,
			Trigger:   "manual",
			Error:     "synthetic failure from alerttest",
		})
	default:
		log.Fatalf("unknown -kind %q", *kind)
	}

	// Close waits for the background delivery and its retries.
	if err := closer.Close(); err != nil {
		log.Fatalf("deliver alert: %v", err)
	}
	fmt.Println("alert dispatched via", cfg.Alerts.Backend)
}
