package callbacks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/mathsnotes/server/internal/metrics"
	"github.com/rs/zerolog"
)

// snsPublisher is the slice of the SNS client the notifier uses.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes alerts to an SNS topic. SNS handles fan-out and
// retries, so each alert is published once.
type SNSNotifier struct {
	client   snsPublisher
	topicARN string
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewSNSNotifier loads AWS credentials from the environment and targets topicARN.
func NewSNSNotifier(ctx context.Context, region, topicARN string, m *metrics.Metrics, logger zerolog.Logger) (*SNSNotifier, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("callbacks: load aws config: %w", err)
	}
	return newSNSNotifier(sns.NewFromConfig(awsCfg), topicARN, m, logger), nil
}

func newSNSNotifier(client snsPublisher, topicARN string, m *metrics.Metrics, logger zerolog.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN, logger: logger, metrics: m}
}

// PurchaseCompleted publishes the event.
func (n *SNSNotifier) PurchaseCompleted(ctx context.Context, event PurchaseEvent) {
	PreparePurchaseEvent(&event)
	n.publish(ctx, event.EventType, event.EventID, "Maths Notes purchase completed", event)
}

// FulfillmentFailed publishes the event.
func (n *SNSNotifier) FulfillmentFailed(ctx context.Context, event FulfillmentFailedEvent) {
	PrepareFulfillmentFailedEvent(&event)
	n.publish(ctx, event.EventType, event.EventID, "Maths Notes fulfillment failed", event)
}

func (n *SNSNotifier) publish(ctx context.Context, eventType, eventID, subject string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error().Err(err).Str("event_type", eventType).Msg("callbacks.serialize_failed")
		return
	}
	_, err = n.client.Publish(context.WithoutCancel(ctx), &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(eventType)},
		},
	})
	if err != nil {
		n.metrics.ObserveAlert(eventType, "failed", 1, false)
		n.logger.Error().
			Err(err).
			Str("event_id", eventID).
			Str("event_type", eventType).
			Msg("callbacks.sns_publish_failed")
		return
	}
	n.metrics.ObserveAlert(eventType, "success", 1, false)
}
